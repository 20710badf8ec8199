package mqtt

import (
	"testing"

	"github.com/eddielth/sensor-poller/config"
)

func TestStateTopic(t *testing.T) {
	tests := []struct {
		prefix, id, want string
	}{
		{"sensors", "s1", "sensors/s1/state"},
		{"home/air/", "kitchen", "home/air/kitchen/state"},
		{"sensors", "a/b+c#", "sensors/a_b_c_/state"},
	}
	for _, tt := range tests {
		if got := StateTopic(tt.prefix, tt.id); got != tt.want {
			t.Errorf("StateTopic(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}

func TestNewPublisher(t *testing.T) {
	if _, err := NewPublisher(config.MQTTConfig{}); err == nil {
		t.Error("expected error for empty broker")
	}

	p, err := NewPublisher(config.MQTTConfig{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("NewPublisher() error: %v", err)
	}
	if p.config.ClientID == "" || p.config.TopicPrefix != "sensors" {
		t.Errorf("defaults not applied: %+v", p.config)
	}
	if p.Name() != "mqtt" {
		t.Errorf("unexpected name %q", p.Name())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() on a never-connected publisher: %v", err)
	}
}
