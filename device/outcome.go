package device

import "fmt"

// Kind classifies one poll attempt.
type Kind string

const (
	// Online means the device answered with a usable reading.
	Online Kind = "online"
	// Offline means the device could not be reached or reported itself down.
	Offline Kind = "offline"
	// Error means the device answered with something unusable.
	Error Kind = "error"
)

// Outcome is the result of polling one sensor. CO2 and TVOC are only
// meaningful when Kind is Online; Reason only when it is not.
type Outcome struct {
	Kind   Kind
	CO2    float64
	TVOC   float64
	Reason string
}

// OnlineOutcome builds an Online outcome.
func OnlineOutcome(co2, tvoc float64) Outcome {
	return Outcome{Kind: Online, CO2: co2, TVOC: tvoc}
}

// OfflineOutcome builds an Offline outcome.
func OfflineOutcome(reason string) Outcome {
	return Outcome{Kind: Offline, Reason: reason}
}

// ErrorOutcome builds an Error outcome.
func ErrorOutcome(reason string) Outcome {
	return Outcome{Kind: Error, Reason: reason}
}

func (o Outcome) String() string {
	if o.Kind == Online {
		return fmt.Sprintf("online co2=%v tvoc=%v", o.CO2, o.TVOC)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}
