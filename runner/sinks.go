package runner

import (
	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/logger"
	"github.com/eddielth/sensor-poller/mqtt"
	"github.com/eddielth/sensor-poller/storage"
)

// OpenSinks opens every enabled secondary sink. A sink that cannot be opened
// is logged and skipped: sinks are never required for a pass to succeed.
func OpenSinks(cfg *config.Config) *storage.Manager {
	manager := storage.NewManager(nil)

	if cfg.Archive.Enabled {
		archive, err := storage.NewArchiveStorage(cfg.Archive.Path)
		if err != nil {
			logger.Error("archive sink disabled: %v", err)
		} else {
			manager.AddBackend(archive)
		}
	}

	if cfg.Database.Enabled {
		db, err := storage.NewDatabaseStorage(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			logger.Error("database sink disabled: %v", err)
		} else {
			manager.AddBackend(db)
		}
	}

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.NewPublisher(cfg.MQTT)
		if err == nil {
			err = publisher.Connect()
		}
		if err != nil {
			logger.Error("mqtt sink disabled: %v", err)
		} else {
			manager.AddBackend(publisher)
		}
	}

	return manager
}
