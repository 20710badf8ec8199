package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eddielth/sensor-poller/device"
	"github.com/eddielth/sensor-poller/history"
	"github.com/eddielth/sensor-poller/logger"
)

// Event is what secondary sinks receive for every sensor polled in a pass.
// Status is the persisted status; Outcome keeps the finer online/offline/error
// classification that the document collapses.
type Event struct {
	SensorID  string    `json:"sensor_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	CO2       *float64  `json:"co2"`
	TVOC      *float64  `json:"tvoc"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvents builds one event per outcome from the merged document, ordered
// by sensor id.
func NewEvents(doc *history.Document, outcomes map[string]device.Outcome, now time.Time) []Event {
	events := make([]Event, 0, len(outcomes))
	for id, outcome := range outcomes {
		ev := Event{
			SensorID:  id,
			Name:      id,
			Outcome:   string(outcome.Kind),
			Reason:    outcome.Reason,
			Timestamp: now.UTC(),
		}
		if rec := doc.Sensors[id]; rec != nil {
			ev.Name = rec.Name
			ev.Status = string(rec.Status)
		}
		if outcome.Kind == device.Online {
			co2, tvoc := outcome.CO2, outcome.TVOC
			ev.CO2, ev.TVOC = &co2, &tvoc
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].SensorID < events[j].SensorID })
	return events
}

// StorageBackend is a secondary destination for sensor events.
type StorageBackend interface {
	Name() string
	Store(events []Event) error
	Close() error
}

// Manager fans events out to several backends.
type Manager struct {
	backends []StorageBackend
	mutex    sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(backends []StorageBackend) *Manager {
	return &Manager{
		backends: backends,
	}
}

// Store hands events to every backend. A failing backend does not stop the
// others; all failures are returned joined.
func (m *Manager) Store(events []Event) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var errs []error
	for _, backend := range m.backends {
		if err := backend.Store(events); err != nil {
			logger.Error("store events to %s failed: %v", backend.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of backends.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.backends)
}

// Close closes every backend.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			logger.Error("close %s failed: %v", backend.Name(), err)
		}
	}
}

// AddBackend adds a backend.
func (m *Manager) AddBackend(backend StorageBackend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}
