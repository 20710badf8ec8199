// Package poller fetches every configured sensor once and collects one
// outcome per sensor id.
package poller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/device"
	"github.com/eddielth/sensor-poller/logger"
	"golang.org/x/sync/errgroup"
)

// MissingAddress is the reason reported for sensors without an ip.
const MissingAddress = "missing address"

// Fetcher performs a single sensor request. *device.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, target device.Target) device.Outcome
}

// DecoderSource resolves a device model to a payload decoder.
// *transformer.Manager implements it.
type DecoderSource interface {
	Decoder(model string) (device.Decoder, bool)
}

// Settings are the request parameters shared by all sensors.
type Settings struct {
	Port        int
	Endpoint    string
	Timeout     time.Duration
	Concurrency int
}

// SettingsFrom converts the sensors section of the configuration.
func SettingsFrom(cfg config.SensorsConfig) Settings {
	return Settings{
		Port:        cfg.Port,
		Endpoint:    cfg.Endpoint,
		Timeout:     cfg.RequestTimeout(),
		Concurrency: cfg.Concurrency,
	}
}

// Poller fans requests out to all sensors of a pass.
type Poller struct {
	fetcher  Fetcher
	decoders DecoderSource

	mu       sync.RWMutex
	settings Settings
}

// New creates a Poller. decoders may be nil when no transformers are configured.
func New(fetcher Fetcher, decoders DecoderSource, settings Settings) *Poller {
	return &Poller{fetcher: fetcher, decoders: decoders, settings: settings}
}

// SetSettings replaces the request parameters for subsequent passes.
func (p *Poller) SetSettings(settings Settings) {
	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()
}

// Settings returns the current request parameters.
func (p *Poller) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// FetchAll polls every sensor and returns exactly one outcome per input id.
// Sensors are fetched concurrently, at most Settings.Concurrency at a time;
// each request writes only its own result slot.
func (p *Poller) FetchAll(ctx context.Context, sensors map[string]config.Sensor) map[string]device.Outcome {
	settings := p.Settings()

	ids := make([]string, 0, len(sensors))
	for id := range sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]device.Outcome, len(ids))

	var g errgroup.Group
	if settings.Concurrency > 0 {
		g.SetLimit(settings.Concurrency)
	}
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = p.fetchOne(ctx, id, sensors[id], settings)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make(map[string]device.Outcome, len(ids))
	for i, id := range ids {
		outcomes[id] = results[i]
	}
	return outcomes
}

func (p *Poller) fetchOne(ctx context.Context, id string, sensor config.Sensor, settings Settings) device.Outcome {
	address := strings.TrimSpace(sensor.IP)
	if address == "" {
		logger.Warn("sensor %s has no ip, skipped", id)
		return device.ErrorOutcome(MissingAddress)
	}

	target := device.Target{
		Address: address,
		Port:    sensor.Port,
		Path:    settings.Endpoint,
		Timeout: settings.Timeout,
	}
	if target.Port <= 0 {
		target.Port = settings.Port
	}

	if sensor.Model != "" {
		var decode device.Decoder
		ok := false
		if p.decoders != nil {
			decode, ok = p.decoders.Decoder(sensor.Model)
		}
		if !ok {
			logger.Warn("sensor %s uses unknown model %s, skipped", id, sensor.Model)
			return device.ErrorOutcome(fmt.Sprintf("no transformer for model %s", sensor.Model))
		}
		target.Decoder = decode
	}

	logger.Info("fetching sensor %s from %s", id, target.URL())
	outcome := p.fetcher.Fetch(ctx, target)

	switch outcome.Kind {
	case device.Online:
		logger.Info("sensor %s: co2=%v tvoc=%v", id, outcome.CO2, outcome.TVOC)
	case device.Offline:
		logger.Warn("sensor %s offline (%s): %s", id, target.URL(), outcome.Reason)
	default:
		logger.Error("sensor %s error (%s): %s", id, target.URL(), outcome.Reason)
	}
	return outcome
}
