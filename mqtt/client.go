package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/logger"
	"github.com/eddielth/sensor-poller/storage"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Publisher publishes the state of each polled sensor as a retained message
// on {prefix}/{sensor id}/state. It implements storage.StorageBackend.
type Publisher struct {
	client paho.Client
	config config.MQTTConfig
}

// NewPublisher creates a publisher; call Connect before Store.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("sensor-poller-%d", time.Now().UnixNano())
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "sensors"
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})

	return &Publisher{
		client: paho.NewClient(opts),
		config: cfg,
	}, nil
}

// Connect connects to the MQTT broker
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("connected to MQTT broker: %s", p.config.Broker)
	return nil
}

// Name implements storage.StorageBackend.
func (p *Publisher) Name() string { return "mqtt" }

// Store implements storage.StorageBackend.
func (p *Publisher) Store(events []storage.Event) error {
	for _, ev := range events {
		topic := StateTopic(p.config.TopicPrefix, ev.SensorID)
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("serialize event for %s: %w", ev.SensorID, err)
		}

		token := p.client.Publish(topic, byte(p.config.QoS), true, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		logger.Debug("published state of %s to %s", ev.SensorID, topic)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		logger.Info("disconnected from MQTT broker")
	}
	return nil
}

// StateTopic returns the topic carrying the state of one sensor. MQTT
// wildcard and separator characters in the id are replaced.
func StateTopic(prefix, sensorID string) string {
	id := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(sensorID)
	return strings.TrimSuffix(prefix, "/") + "/" + id + "/state"
}
