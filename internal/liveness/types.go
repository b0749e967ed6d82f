// Package liveness judges whether a tracked face is a live subject from the
// blink and head-movement cues in its landmark stream.
package liveness

import (
	"fmt"
	"time"
)

// Status is the liveness verdict
type Status int

const (
	StatusUnknown Status = iota
	StatusNotLive
	StatusLive
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusNotLive:
		return "NOT_LIVE"
	case StatusLive:
		return "LIVE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is one liveness verdict. Reason is for humans only.
type Result struct {
	Status     Status
	Confidence float32
	Reason     string
}

// State is the checker lifecycle stage
type State int

const (
	StateUninitialized State = iota
	StateCalibrating
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCalibrating:
		return "calibrating"
	case StateTracking:
		return "tracking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Policy holds the tunable thresholds of the checker. EARClosedThreshold
// applies until a calibration baseline exists. Closures longer than
// BlinkMaxFrames are sustained and never count as blinks.
type Policy struct {
	EARClosedThreshold float32
	BlinkMinFrames     int
	BlinkMaxFrames     int
	CalibrationFrames  int

	HeadYawChangeMinDeg   float32
	HeadPitchChangeMinDeg float32
	PoseSmoothingAlpha    float32
	MovementDebounce      time.Duration

	Window           time.Duration
	Probation        time.Duration
	InactivityFactor float32
}

// DefaultPolicy returns the standard thresholds
func DefaultPolicy() Policy {
	return Policy{
		EARClosedThreshold:    0.20,
		BlinkMinFrames:        2,
		BlinkMaxFrames:        8,
		CalibrationFrames:     10,
		HeadYawChangeMinDeg:   10,
		HeadPitchChangeMinDeg: 8,
		PoseSmoothingAlpha:    0.15,
		MovementDebounce:      500 * time.Millisecond,
		Window:                2000 * time.Millisecond,
		Probation:             20 * time.Second,
		InactivityFactor:      2,
	}
}

// Stats is a snapshot of a checker's internal state
type Stats struct {
	State          State
	Blinks         int
	Movements      int
	Proven         bool
	BaselineEAR    float32
	RecentEAR      float32
	BlinkThreshold float32
	Yaw, Pitch     float32
}
