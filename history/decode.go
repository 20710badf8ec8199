package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/eddielth/sensor-poller/logger"
)

// Decode parses a document. Only a body that is not a JSON object, or whose
// sensors field is missing or not an object, is an error. Below that level
// damage is repaired locally: a record that is not an object is dropped, a
// bad field falls back to its zero value, and a reading without a valid
// timestamp is dropped from its history.
func Decode(data []byte) (*Document, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	raw, ok := root["sensors"]
	if !ok {
		return nil, errors.New("missing sensors field")
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, errors.New("sensors field is not an object")
	}
	var records map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	doc := NewDocument()
	if ts, ok := root["lastUpdateTimestamp"]; ok && !isNull(ts) {
		var t time.Time
		if err := json.Unmarshal(ts, &t); err != nil {
			logger.Warn("data file: ignoring lastUpdateTimestamp: %v", err)
		} else {
			doc.LastUpdateTimestamp = &t
		}
	}

	for id, rec := range records {
		if r := decodeRecord(id, rec); r != nil {
			doc.Sensors[id] = r
		}
	}
	return doc, nil
}

func decodeRecord(id string, data json.RawMessage) *SensorRecord {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		logger.Warn("data file: dropping sensor %s: not an object", id)
		return nil
	}

	rec := &SensorRecord{Name: id, Status: StatusUnknown}
	decodeField(id, fields, "name", &rec.Name)
	decodeField(id, fields, "location", &rec.Location)
	decodeField(id, fields, "status", &rec.Status)
	if rec.Location == nil {
		rec.Location = map[string]interface{}{}
	}

	if raw, ok := fields["lastReading"]; ok && !isNull(raw) {
		if r, ok := decodeReading(id, raw); ok {
			rec.LastReading = &r
		}
	}

	rec.History = []Reading{}
	var entries []json.RawMessage
	decodeField(id, fields, "history", &entries)
	for _, raw := range entries {
		if r, ok := decodeReading(id, raw); ok {
			rec.History = append(rec.History, r)
		}
	}
	return rec
}

// decodeField leaves dst untouched when the field is absent, null or of the
// wrong type.
func decodeField(id string, fields map[string]json.RawMessage, key string, dst interface{}) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		logger.Warn("data file: sensor %s: ignoring %s: %v", id, key, err)
	}
}

func decodeReading(id string, data json.RawMessage) (Reading, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		logger.Warn("data file: sensor %s: dropping reading that is not an object", id)
		return Reading{}, false
	}

	var r Reading
	raw, ok := fields["timestamp"]
	if !ok {
		logger.Warn("data file: sensor %s: dropping reading without timestamp", id)
		return Reading{}, false
	}
	if err := json.Unmarshal(raw, &r.Timestamp); err != nil {
		logger.Warn("data file: sensor %s: dropping reading: %v", id, err)
		return Reading{}, false
	}
	r.CO2 = decodeValue(id, fields["co2"])
	r.TVOC = decodeValue(id, fields["tvoc"])
	return r, true
}

// decodeValue accepts a number or a numeric string. Anything else is null.
func decodeValue(id string, raw json.RawMessage) *float64 {
	if raw == nil || isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	logger.Warn("data file: sensor %s: replacing non-numeric value %s with null", id, raw)
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
