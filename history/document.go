package history

import "time"

// Status is the persisted state of a sensor.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Reading is one history entry. CO2 and TVOC are nullable in the file.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	CO2       *float64  `json:"co2"`
	TVOC      *float64  `json:"tvoc"`
}

// SensorRecord is the persisted state of one sensor. History is newest-first.
type SensorRecord struct {
	Name        string                 `json:"name"`
	Location    map[string]interface{} `json:"location"`
	Status      Status                 `json:"status"`
	LastReading *Reading               `json:"lastReading"`
	History     []Reading              `json:"history"`
}

// Document is the root of the persisted file.
type Document struct {
	LastUpdateTimestamp *time.Time               `json:"lastUpdateTimestamp"`
	Sensors             map[string]*SensorRecord `json:"sensors"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Sensors: map[string]*SensorRecord{}}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{Sensors: make(map[string]*SensorRecord, len(d.Sensors))}
	if d.LastUpdateTimestamp != nil {
		ts := *d.LastUpdateTimestamp
		out.LastUpdateTimestamp = &ts
	}
	for id, rec := range d.Sensors {
		if rec == nil {
			out.Sensors[id] = nil
			continue
		}
		out.Sensors[id] = rec.clone()
	}
	return out
}

func (r *SensorRecord) clone() *SensorRecord {
	out := &SensorRecord{
		Name:     r.Name,
		Location: copyMap(r.Location),
		Status:   r.Status,
	}
	if r.LastReading != nil {
		lr := r.LastReading.clone()
		out.LastReading = &lr
	}
	if r.History != nil {
		out.History = make([]Reading, len(r.History))
		for i, h := range r.History {
			out.History[i] = h.clone()
		}
	}
	return out
}

func (r Reading) clone() Reading {
	return Reading{
		Timestamp: r.Timestamp,
		CO2:       copyFloat(r.CO2),
		TVOC:      copyFloat(r.TVOC),
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
