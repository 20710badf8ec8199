package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eddielth/sensor-poller/logger"
)

// ArchiveStorage appends events as JSON lines to
// {basePath}/{sensor id}/{YYYY-MM-DD}.jsonl. Unlike the history document it
// is never truncated.
type ArchiveStorage struct {
	basePath string
}

// NewArchiveStorage creates the base directory and returns the backend.
func NewArchiveStorage(basePath string) (*ArchiveStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	logger.Info("init archive storage: %s", basePath)
	return &ArchiveStorage{
		basePath: basePath,
	}, nil
}

// Name implements StorageBackend.
func (fs *ArchiveStorage) Name() string { return "archive" }

// Store implements StorageBackend.
func (fs *ArchiveStorage) Store(events []Event) error {
	for _, ev := range events {
		if err := fs.append(ev); err != nil {
			return err
		}
	}
	return nil
}

func (fs *ArchiveStorage) append(ev Event) error {
	sensorDir := filepath.Join(fs.basePath, safeName(ev.SensorID))
	if err := os.MkdirAll(sensorDir, 0755); err != nil {
		return fmt.Errorf("create dir %s failed: %w", sensorDir, err)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize event failed: %w", err)
	}
	line = append(line, '\n')

	filename := filepath.Join(sensorDir, ev.Timestamp.UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s failed: %w", filename, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write %s failed: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s failed: %w", filename, err)
	}

	logger.Debug("archived event for %s to %s", ev.SensorID, filename)
	return nil
}

// safeName keeps a sensor id from escaping the archive directory.
func safeName(id string) string {
	name := strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(id)
	if name == "" || name == "." {
		return "_"
	}
	return name
}

// Close implements StorageBackend.
func (fs *ArchiveStorage) Close() error {
	return nil
}
