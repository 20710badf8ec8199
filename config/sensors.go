package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"

	"github.com/eddielth/sensor-poller/logger"
)

// Sensor is one entry of the sensors file, keyed by its stable id.
type Sensor struct {
	IP       string                 `json:"ip"`
	Port     int                    `json:"port,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Location map[string]interface{} `json:"location,omitempty"`
	// Model selects a payload transformer; empty means plain JSON.
	Model string `json:"model,omitempty"`
}

// LoadSensors reads the sensors file. Problems never abort a run: a missing
// or malformed file yields an empty set, and a malformed entry is kept
// without an address so that it is reported instead of silently dropped.
func LoadSensors(path string) map[string]Sensor {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Error("sensors file not found: %s", path)
		} else {
			logger.Error("cannot read sensors file %s: %v", path, err)
		}
		return map[string]Sensor{}
	}

	sensors, err := ParseSensors(data)
	if err != nil {
		logger.Error("invalid sensors file %s: %v", path, err)
		return map[string]Sensor{}
	}

	logger.Info("loaded %d sensors from %s", len(sensors), path)
	return sensors
}

// ParseSensors decodes a JSON object of sensor id to sensor settings.
func ParseSensors(data []byte) (map[string]Sensor, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, errors.New("top-level value is not an object")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	sensors := make(map[string]Sensor, len(raw))
	for id, entry := range raw {
		sensors[id] = decodeSensor(id, entry)
	}
	return sensors, nil
}

// decodeSensor decodes an entry field by field. A field of the wrong type is
// logged and dropped; the rest of the entry is kept.
func decodeSensor(id string, entry json.RawMessage) Sensor {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		logger.Warn("sensor %s has invalid settings: %v", id, err)
		return Sensor{}
	}

	var s Sensor
	targets := map[string]interface{}{
		"ip":       &s.IP,
		"port":     &s.Port,
		"name":     &s.Name,
		"location": &s.Location,
		"model":    &s.Model,
	}
	for key, dst := range targets {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			logger.Warn("sensor %s: ignoring %s: %v", id, key, err)
		}
	}
	return s
}
