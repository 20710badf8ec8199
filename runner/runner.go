// Package runner performs one polling pass: load the sensor list and the
// persisted document, poll every sensor, merge, save, and mirror the pass to
// the secondary sinks.
//
// A Runner keeps no state between passes. The document file must not be
// written by two passes at once; schedulers that can overlap invocations
// (cron with slow sensors, for example) must serialize them.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/device"
	"github.com/eddielth/sensor-poller/history"
	"github.com/eddielth/sensor-poller/logger"
	"github.com/eddielth/sensor-poller/poller"
	"github.com/eddielth/sensor-poller/storage"
	"github.com/eddielth/sensor-poller/transformer"
)

// Summary describes a completed pass.
type Summary struct {
	Sensors int
	Online  int
	Offline int
	Errors  int
}

// Runner wires configuration, poller, history store and sinks.
type Runner struct {
	poller       *poller.Poller
	transformers *transformer.Manager
	sinks        *storage.Manager
	fetcher      poller.Fetcher
	now          func() time.Time

	mu          sync.RWMutex
	sensorsPath string
	store       *history.Store
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock overrides the time source used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithFetcher replaces the HTTP device client.
func WithFetcher(f poller.Fetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

// WithSinks sets the secondary sinks that receive every pass.
func WithSinks(sinks *storage.Manager) Option {
	return func(r *Runner) { r.sinks = sinks }
}

// New builds a Runner from the configuration. Transformers that fail to load
// are logged and left out; sensors using them are reported as errors.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		now:         time.Now,
		sensorsPath: cfg.Sensors.ConfigPath,
		store:       history.NewStore(cfg.History.Path, cfg.History.Limit),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = device.NewClient(nil)
	}

	r.transformers, _ = transformer.NewManager(nil)
	if err := r.transformers.Sync(cfg.Transformers); err != nil {
		logger.Error("%v", err)
	}

	r.poller = poller.New(r.fetcher, r.transformers, poller.SettingsFrom(cfg.Sensors))
	return r
}

// Apply switches to a new configuration for subsequent passes. Transformers
// dropped from the configuration are unregistered; one whose new script
// fails to load keeps running the previous script.
func (r *Runner) Apply(cfg *config.Config) error {
	if err := r.transformers.Sync(cfg.Transformers); err != nil {
		logger.Error("%v", err)
	}
	r.poller.SetSettings(poller.SettingsFrom(cfg.Sensors))

	r.mu.Lock()
	r.sensorsPath = cfg.Sensors.ConfigPath
	r.store = history.NewStore(cfg.History.Path, cfg.History.Limit)
	r.mu.Unlock()
	return nil
}

// RunOnce performs one full pass. Unreachable sensors, a missing sensor list
// and a corrupt document do not fail the pass; only failing to save the
// document does.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	r.mu.RLock()
	sensorsPath, store := r.sensorsPath, r.store
	r.mu.RUnlock()

	started := time.Now()
	logger.Info("--- sensor update started ---")

	sensors := config.LoadSensors(sensorsPath)
	if len(sensors) == 0 {
		logger.Warn("no sensors configured, nothing to poll")
	}

	doc := store.Load()
	outcomes := r.poller.FetchAll(ctx, sensors)

	now := r.now().UTC()
	merged := store.Merge(doc, outcomes, sensors, now)

	summary := summarize(outcomes)
	if err := store.Save(merged); err != nil {
		logger.Error("cannot write data file %s: %v", store.Path, err)
		return summary, fmt.Errorf("save document: %w", err)
	}

	if r.sinks != nil && r.sinks.Len() > 0 && len(outcomes) > 0 {
		if err := r.sinks.Store(storage.NewEvents(merged, outcomes, now)); err != nil {
			logger.Warn("some sinks did not receive this pass: %v", err)
		}
	}

	logger.Info("--- sensor update finished in %v: %d sensors, %d online, %d offline, %d errors ---",
		time.Since(started).Round(time.Millisecond), summary.Sensors, summary.Online, summary.Offline, summary.Errors)
	return summary, nil
}

func summarize(outcomes map[string]device.Outcome) *Summary {
	s := &Summary{Sensors: len(outcomes)}
	for _, o := range outcomes {
		switch o.Kind {
		case device.Online:
			s.Online++
		case device.Offline:
			s.Offline++
		default:
			s.Errors++
		}
	}
	return s
}

// Loop runs a pass immediately and then every interval until ctx is done.
// Failed passes are logged and do not stop the loop. Passes never overlap.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Error("pass failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
