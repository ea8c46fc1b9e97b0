package events

import "encoding/json"

// Event name constants
const (
	StatusChanged  = "battery.status"
	HealthChanged  = "battery.health"
	CableChanged   = "battery.cable"
	Abnormal       = "battery.abnormal"
	SessionStarted = "battery.session"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// TransitionEvent is the typed payload for battery.status and battery.health.
type TransitionEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// CableEvent is the typed payload for battery.cable.
type CableEvent struct {
	Cable    string `json:"cable"`
	Attached bool   `json:"attached"`
	// Power is the available source power in mW.
	Power int   `json:"power,omitempty"`
	Ts    int64 `json:"ts"`
}

// AbnormalEvent is the typed payload for battery.abnormal.
type AbnormalEvent struct {
	Tag string `json:"tag"`
	Ts  int64  `json:"ts"`
}

// SessionEvent is the typed payload for battery.session.
type SessionEvent struct {
	ID string `json:"id"`
	Ts int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.TransitionEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
