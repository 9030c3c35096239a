package model

import "time"

// ValveState indicates whether the watering valve is energized.
type ValveState string

const (
	StateOff ValveState = "off"
	StateOn  ValveState = "on"
)

// ValveStateEvent is emitted on every cycle start/stop transition.
type ValveStateEvent struct {
	Zone      string        `json:"zone"`
	NewState  ValveState    `json:"new_state"`
	Duration  time.Duration `json:"duration"` // planned run time, zero on stop
	Trigger   string        `json:"trigger"`  // startup|interval|duration|request|shutdown
	Timestamp time.Time     `json:"timestamp"`
}

// CycleStatusEvent carries the periodic status report.
type CycleStatusEvent struct {
	Zone         string        `json:"zone"`
	Watering     bool          `json:"watering"`
	NextStartIn  time.Duration `json:"next_start_in"`
	RemainingRun time.Duration `json:"remaining_run"`
	Timestamp    time.Time     `json:"timestamp"`
}
