// Package history keeps the persisted sensor document: the latest state of
// every sensor plus a bounded, newest-first reading history.
//
// The document file has a single writer. Running two passes against the same
// path at once is not safe; callers that may overlap must serialize them.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/device"
	"github.com/eddielth/sensor-poller/logger"
)

// DefaultLimit is the number of readings kept per sensor: 24h at one pass
// every ten minutes.
const DefaultLimit = 144

// Store reads, merges and writes the document at Path.
type Store struct {
	Path  string
	Limit int
}

// NewStore returns a Store. A non-positive limit means DefaultLimit.
func NewStore(path string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{Path: path, Limit: limit}
}

// Load returns the persisted document. A missing, unreadable or corrupt file
// yields an empty document; it will be replaced on the next Save.
func (s *Store) Load() *Document {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("data file %s does not exist, starting a new document", s.Path)
		} else {
			logger.Error("cannot read data file %s: %v, starting a new document", s.Path, err)
		}
		return NewDocument()
	}

	doc, err := Decode(data)
	if err != nil {
		logger.Warn("invalid data file %s: %v, starting a new document", s.Path, err)
		return NewDocument()
	}

	logger.Info("loaded %d sensors from %s", len(doc.Sensors), s.Path)
	return doc
}

// Merge applies one pass of outcomes to a copy of doc and returns the copy.
// Sensors without an outcome are left exactly as they were.
//
// An Online outcome prepends a reading stamped now, unless history already
// starts with a reading stamped now, in which case that reading is replaced.
// Offline and Error outcomes only flip the status to offline.
func (s *Store) Merge(doc *Document, outcomes map[string]device.Outcome, sensors map[string]config.Sensor, now time.Time) *Document {
	if doc == nil {
		doc = NewDocument()
	}
	out := doc.Clone()
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	now = now.UTC()
	out.LastUpdateTimestamp = &now

	for id, outcome := range outcomes {
		rec := out.Sensors[id]
		if rec == nil {
			rec = &SensorRecord{
				Status:  StatusUnknown,
				History: []Reading{},
			}
			out.Sensors[id] = rec
		}

		cfg := sensors[id]
		rec.Name = cfg.Name
		if rec.Name == "" {
			rec.Name = id
		}
		rec.Location = copyMap(cfg.Location)
		if rec.Location == nil {
			rec.Location = map[string]interface{}{}
		}

		switch outcome.Kind {
		case device.Online:
			co2, tvoc := outcome.CO2, outcome.TVOC
			reading := Reading{Timestamp: now, CO2: &co2, TVOC: &tvoc}

			rec.Status = StatusOnline
			last := reading.clone()
			rec.LastReading = &last

			if len(rec.History) > 0 && rec.History[0].Timestamp.Equal(now) {
				rec.History[0] = reading
			} else {
				rec.History = append([]Reading{reading}, rec.History...)
			}
			if len(rec.History) > limit {
				rec.History = rec.History[:limit]
			}
		case device.Offline:
			rec.Status = StatusOffline
			logger.Info("sensor %s marked offline: %s", id, outcome.Reason)
		default:
			rec.Status = StatusOffline
			logger.Warn("sensor %s fetch failed, marked offline: %s", id, outcome.Reason)
		}
	}

	return out
}

// Save writes the whole document, replacing the previous file. The content is
// written to a temporary file in the same directory first and renamed into
// place, so a failed Save leaves the previous file intact.
func (s *Store) Save(doc *Document) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(s.Path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", s.Path, err)
	}

	logger.Info("data file updated: %s", s.Path)
	return nil
}
