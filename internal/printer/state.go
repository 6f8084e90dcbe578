package printer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	Idle State = iota
	Configuring
	StreamingLines
	Finishing
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Configuring:
		return "Configuring"
	case StreamingLines:
		return "StreamingLines"
	case Finishing:
		return "Finishing"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

type Outcome string

const (
	Completed Outcome = "completed"
	Failed    Outcome = "failed"
	Canceled  Outcome = "canceled"
)

var (
	ErrTransport    = errors.New("transport failure")
	ErrJobCanceled  = errors.New("print job canceled")
	ErrStopped      = errors.New("printer controller stopped")
	ErrInvalidJob   = errors.New("invalid print request")
	ErrNotConnected = errors.New("printer is not connected")
)

// Timing holds the fixed delays the protocol relies on instead of
// acknowledgements from the device.
type Timing struct {
	// Pause between writing two frames.
	DrainInterval time.Duration
	// Wait between ending the print data exchange and ending the print, so
	// the device can commit the page.
	SettleDelay time.Duration
	// Period of the keep-alive sent while no print is running. Zero or less
	// disables heartbeats.
	HeartbeatInterval time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		DrainInterval:     100 * time.Millisecond,
		SettleDelay:       time.Second,
		HeartbeatInterval: time.Second,
	}
}

// Status is a snapshot of what the controller is doing, safe to read from any
// goroutine.
type Status struct {
	State            State
	JobID            uuid.UUID
	QueueLength      int
	FramesSent       uint64
	LastNotification []byte
	LastNotified     time.Time
	LastError        string
}

// Report describes the result of one print job.
type Report struct {
	ID         uuid.UUID
	Width      byte
	Height     byte
	Density    byte
	Lines      int
	FramesSent int
	Outcome    Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
