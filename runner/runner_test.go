package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/device"
	"github.com/eddielth/sensor-poller/history"
	"github.com/eddielth/sensor-poller/storage"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// testConfig returns a configuration rooted in a temp dir whose sensors file
// contains the given JSON.
func testConfig(t *testing.T, sensorsJSON string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sensors.ConfigPath = filepath.Join(dir, "config", "sensors.json")
	cfg.Sensors.Timeout = 2
	cfg.History.Path = filepath.Join(dir, "out", "data.json")

	if sensorsJSON != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Sensors.ConfigPath), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(cfg.Sensors.ConfigPath, []byte(sensorsJSON), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func readDoc(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid document: %v", err)
	}
	return doc
}

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestRunOnceAgainstDevices(t *testing.T) {
	online := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"co2": 612, "tvoc": 140}`))
	}))
	defer online.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	host, onlinePort := hostPort(t, online)
	_, downPort := hostPort(t, down)

	cfg := testConfig(t, fmt.Sprintf(`{
  "s1": {"ip": %q, "port": %d, "name": "Kitchen", "location": {"lat": 48.85}},
  "s2": {"ip": %q, "port": %d},
  "s3": {"name": "Unwired"}
}`, host, onlinePort, host, downPort))

	r := New(cfg, WithClock(func() time.Time { return t0 }))
	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if summary.Sensors != 3 || summary.Online != 1 || summary.Offline != 1 || summary.Errors != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	doc := readDoc(t, cfg.History.Path)
	if doc["lastUpdateTimestamp"] != "2024-03-01T10:00:00Z" {
		t.Errorf("unexpected lastUpdateTimestamp %v", doc["lastUpdateTimestamp"])
	}
	sensors := doc["sensors"].(map[string]interface{})

	s1 := sensors["s1"].(map[string]interface{})
	if s1["status"] != "online" || s1["name"] != "Kitchen" {
		t.Errorf("unexpected s1 %v", s1)
	}
	last := s1["lastReading"].(map[string]interface{})
	if last["co2"] != 612.0 || last["tvoc"] != 140.0 || last["timestamp"] != "2024-03-01T10:00:00Z" {
		t.Errorf("unexpected s1 lastReading %v", last)
	}
	if hist := s1["history"].([]interface{}); len(hist) != 1 {
		t.Errorf("expected one history entry, got %v", hist)
	}

	for _, id := range []string{"s2", "s3"} {
		rec := sensors[id].(map[string]interface{})
		if rec["status"] != "offline" || rec["lastReading"] != nil {
			t.Errorf("%s: unexpected record %v", id, rec)
		}
	}
}

func TestRunOnceTimeoutKeepsHistory(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer slow.Close()
	host, port := hostPort(t, slow)

	cfg := testConfig(t, fmt.Sprintf(`{"s1": {"ip": %q, "port": %d}}`, host, port))
	cfg.Sensors.Timeout = 1

	prev := history.NewDocument()
	co2, tvoc := 500.0, 20.0
	last := history.Reading{Timestamp: t0.Add(-10 * time.Minute), CO2: &co2, TVOC: &tvoc}
	prev.Sensors["s1"] = &history.SensorRecord{
		Name:        "s1",
		Location:    map[string]interface{}{},
		Status:      history.StatusOnline,
		LastReading: &last,
		History:     []history.Reading{last, last, last},
	}
	store := history.NewStore(cfg.History.Path, 0)
	if err := store.Save(prev); err != nil {
		t.Fatal(err)
	}

	if _, err := New(cfg, WithClock(func() time.Time { return t0 })).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}

	rec := store.Load().Sensors["s1"]
	if rec.Status != history.StatusOffline {
		t.Errorf("expected offline, got %s", rec.Status)
	}
	if len(rec.History) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(rec.History))
	}
	if rec.LastReading == nil || !rec.LastReading.Timestamp.Equal(last.Timestamp) {
		t.Errorf("lastReading changed: %+v", rec.LastReading)
	}
}

func TestRunOnceWithoutSensorsFile(t *testing.T) {
	cfg := testConfig(t, "")

	summary, err := New(cfg).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if summary.Sensors != 0 {
		t.Errorf("expected no sensors, got %d", summary.Sensors)
	}
	doc := readDoc(t, cfg.History.Path)
	if sensors, ok := doc["sensors"].(map[string]interface{}); !ok || len(sensors) != 0 {
		t.Errorf("expected empty sensors object, got %v", doc["sensors"])
	}
}

func TestRunOnceReportsSaveFailure(t *testing.T) {
	cfg := testConfig(t, `{}`)
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.History.Path = filepath.Join(blocker, "data.json")

	if _, err := New(cfg).RunOnce(context.Background()); err == nil {
		t.Fatal("expected save failure to fail the pass")
	}
}

type stubFetcher struct{ outcome device.Outcome }

func (s stubFetcher) Fetch(context.Context, device.Target) device.Outcome { return s.outcome }

type captureBackend struct {
	mu     sync.Mutex
	events [][]storage.Event
}

func (c *captureBackend) Name() string { return "capture" }
func (c *captureBackend) Close() error { return nil }
func (c *captureBackend) Store(events []storage.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events)
	return nil
}

func TestRunOnceFeedsSinks(t *testing.T) {
	cfg := testConfig(t, `{"s1": {"ip": "10.0.0.5"}, "s2": {"ip": "10.0.0.6"}}`)
	capture := &captureBackend{}

	r := New(cfg,
		WithClock(func() time.Time { return t0 }),
		WithFetcher(stubFetcher{device.OnlineOutcome(612, 140)}),
		WithSinks(storage.NewManager([]storage.StorageBackend{capture})),
	)
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}

	if len(capture.events) != 1 || len(capture.events[0]) != 2 {
		t.Fatalf("expected one batch of 2 events, got %+v", capture.events)
	}
	ev := capture.events[0][0]
	if ev.SensorID != "s1" || ev.Status != "online" || *ev.CO2 != 612 || !ev.Timestamp.Equal(t0) {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestRunOnceUnknownModelAndBrokenTransformer(t *testing.T) {
	cfg := testConfig(t, `{"s1": {"ip": "10.0.0.5", "model": "broken"}, "s2": {"ip": "10.0.0.6", "model": "acme"}}`)
	cfg.Transformers = map[string]config.Transformer{
		"broken": {ScriptCode: `function transform(raw) {`},
		"acme":   {ScriptCode: `function transform(raw) { return {co2: 1, tvoc: 2}; }`},
	}

	summary, err := New(cfg, WithFetcher(stubFetcher{device.OnlineOutcome(1, 2)})).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if summary.Online != 1 || summary.Errors != 1 {
		t.Errorf("a broken transformer should only affect its own sensors, got %+v", summary)
	}
}

func TestApplySwitchesPaths(t *testing.T) {
	cfg := testConfig(t, `{}`)
	r := New(cfg, WithFetcher(stubFetcher{device.OfflineOutcome("timeout")}))

	next := testConfig(t, `{"s1": {"ip": "10.0.0.5"}}`)
	if err := r.Apply(next); err != nil {
		t.Fatal(err)
	}

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if _, err := os.Stat(next.History.Path); err != nil {
		t.Errorf("expected document at the new path: %v", err)
	}
	if _, err := os.Stat(cfg.History.Path); err == nil {
		t.Error("old path should not be written after Apply")
	}
}

func TestApplyDropsRemovedTransformers(t *testing.T) {
	cfg := testConfig(t, `{"s1": {"ip": "10.0.0.5", "model": "acme"}}`)
	cfg.Transformers = map[string]config.Transformer{
		"acme": {ScriptCode: `function transform(raw) { return {co2: 1, tvoc: 2}; }`},
	}
	r := New(cfg, WithFetcher(stubFetcher{device.OnlineOutcome(1, 2)}))

	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Online != 1 {
		t.Fatalf("expected acme sensor online, got %+v", summary)
	}

	next := *cfg
	next.Transformers = nil
	if err := r.Apply(&next); err != nil {
		t.Fatal(err)
	}
	summary, err = r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Errors != 1 {
		t.Errorf("sensor using a removed transformer should be an error, got %+v", summary)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, `{"s1": {"ip": "10.0.0.5"}}`)

	var (
		mu    sync.Mutex
		ticks int
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return t0.Add(time.Duration(ticks) * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	r := New(cfg, WithClock(clock), WithFetcher(stubFetcher{device.OnlineOutcome(400, 10)}))
	if err := r.Loop(ctx, 20*time.Millisecond); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	rec := history.NewStore(cfg.History.Path, 0).Load().Sensors["s1"]
	if rec == nil || len(rec.History) < 2 {
		t.Fatalf("expected several passes to be recorded, got %+v", rec)
	}
}
