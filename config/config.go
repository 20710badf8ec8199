package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eddielth/sensor-poller/logger"
	"github.com/eddielth/sensor-poller/validator"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the poller configuration.
type Config struct {
	Sensors      SensorsConfig          `mapstructure:"sensors"`
	History      HistoryConfig          `mapstructure:"history"`
	Archive      ArchiveConfig          `mapstructure:"archive"`
	Database     DatabaseConfig         `mapstructure:"database"`
	MQTT         MQTTConfig             `mapstructure:"mqtt"`
	Transformers map[string]Transformer `mapstructure:"transformers"`
	Logger       LoggerConfig           `mapstructure:"logger"`
}

// SensorsConfig controls where sensors are listed and how they are polled.
type SensorsConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	Endpoint   string `mapstructure:"endpoint"`
	Port       int    `mapstructure:"port"`
	// Timeout is the per-request timeout in seconds.
	Timeout     int `mapstructure:"timeout"`
	Concurrency int `mapstructure:"concurrency"`
}

// RequestTimeout returns Timeout as a duration.
func (s SensorsConfig) RequestTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// HistoryConfig locates the persisted document.
type HistoryConfig struct {
	Path  string `mapstructure:"path"`
	Limit int    `mapstructure:"limit"`
}

// ArchiveConfig enables the append-only per-sensor event archive.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseConfig enables mirroring sensor events to MySQL or PostgreSQL.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// MQTTConfig enables publishing sensor state to a broker.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// Transformer is a JavaScript payload decoder for one device model.
type Transformer struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// LoggerConfig mirrors logger.InitFromConfig arguments.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ConfigChangeCallback is invoked with the new configuration after a change on disk.
type ConfigChangeCallback func(cfg *Config) error

const envPrefix = "POLLER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("sensors.config_path", filepath.Join("config", "sensors.json"))
	v.SetDefault("sensors.endpoint", "/readings")
	v.SetDefault("sensors.port", 5000)
	v.SetDefault("sensors.timeout", 5)
	v.SetDefault("sensors.concurrency", 8)

	v.SetDefault("history.path", "data.json")
	v.SetDefault("history.limit", 144)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "./archive")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "mysql")
	v.SetDefault("database.dsn", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "sensors")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// historical variable names used by deployed sensor boxes
	_ = v.BindEnv("sensors.port", "POLLER_SENSORS_PORT", "ESP32_PORT")
	_ = v.BindEnv("sensors.timeout", "POLLER_SENSORS_TIMEOUT", "SENSOR_TIMEOUT")

	return v
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Loader reads the configuration file and keeps it open for watching.
type Loader struct {
	v    *viper.Viper
	path string
	read bool
}

// NewLoader creates a loader for the given YAML file. An empty path means
// defaults and environment only.
func NewLoader(configPath string) *Loader {
	return &Loader{v: newViper(), path: configPath}
}

// Load reads the file (when present), applies environment overrides and
// validates the result. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err == nil {
			l.v.SetConfigFile(l.path)
			l.v.SetConfigType("yaml")
			if err := l.v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", l.path, err)
			}
			l.read = true
			logger.Info("configuration loaded from %s", l.path)
		} else if errors.Is(err, os.ErrNotExist) {
			logger.Warn("configuration file %s not found, using defaults", l.path)
		} else {
			return nil, fmt.Errorf("stat config %s: %w", l.path, err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig is shorthand for NewLoader(configPath).Load().
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Validate checks value ranges that would otherwise surface as confusing
// runtime failures.
func Validate(cfg *Config) error {
	return errors.Join(
		validator.ValidateAll(cfg.Sensors,
			&validator.RangeValidator{Field: "Port", Min: 1, Max: 65535},
			&validator.RangeValidator{Field: "Timeout", Min: 1, Max: 300},
			&validator.RangeValidator{Field: "Concurrency", Min: 1, Max: 256},
			&validator.RequiredValidator{Field: "Endpoint"},
		),
		validator.ValidateAll(cfg.History,
			&validator.RequiredValidator{Field: "Path"},
			&validator.RangeValidator{Field: "Limit", Min: 1, Max: 100000},
		),
		validator.ValidateAll(cfg.MQTT,
			&validator.RangeValidator{Field: "QoS", Min: 0, Max: 2},
		),
	)
}

// Watch reloads the configuration whenever the file is written and hands the
// validated result to callback. Bursts of events within two seconds are
// collapsed into one reload.
func (l *Loader) Watch(callback ConfigChangeCallback) error {
	if !l.read {
		return fmt.Errorf("no configuration file loaded, nothing to watch")
	}

	var (
		mu             sync.Mutex
		lastChangeTime time.Time
	)
	const debounceInterval = 2 * time.Second

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			mu.Unlock()
			return
		}
		lastChangeTime = now
		mu.Unlock()

		logger.Info("configuration file changed: %s", e.Name)

		cfg, err := l.decode()
		if err != nil {
			logger.Error("reload configuration failed: %v", err)
			return
		}
		if err := callback(cfg); err != nil {
			logger.Error("apply configuration failed: %v", err)
			return
		}
		logger.Info("configuration reloaded")
	})
	l.v.WatchConfig()

	return nil
}
