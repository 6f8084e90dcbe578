package printer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/niimprint/internal/protocol"
)

const (
	MinDensity = 1
	MaxDensity = 5
)

// Request describes a label to print. Lines must already be rasterised, and
// are sent exactly in the order given.
type Request struct {
	Width     byte
	Height    byte
	Density   byte
	LabelType protocol.LabelType
	Lines     []protocol.Line
}

func (r *Request) Validate() error {
	if r.Density < MinDensity || r.Density > MaxDensity {
		return fmt.Errorf("%w: density %d not in range %d-%d", ErrInvalidJob, r.Density, MinDensity, MaxDensity)
	}
	return nil
}

// job is the state machine for a single print. It decides which frames go
// into the queue and when, based on what has been written so far. All
// methods are called from the controller's event loop.
type job struct {
	id      uuid.UUID
	request Request
	config  []protocol.Frame
	lines   []protocol.Frame
	settle  time.Duration

	state          State
	framesSent     int
	exchangeEnded  bool
	settleAt       time.Time
	endPrintQueued bool
	canceled       bool
	startedAt      time.Time

	done chan *Report
}

// newJob builds every frame of the job up front, so a bad request is rejected
// before anything reaches the printer.
func newJob(req Request, settle time.Duration) (*job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.LabelType == 0 {
		req.LabelType = protocol.LabelTypeGap
	}

	j := &job{
		id:      uuid.New(),
		request: req,
		settle:  settle,
		state:   Idle,
		done:    make(chan *Report, 1),
		config: []protocol.Frame{
			protocol.SetLabelType(req.LabelType),
			protocol.SetPrintDensity(req.Density),
			protocol.GetPrintStatus(),
			protocol.StartPrintDataExchange(),
			protocol.SetPrintDimensions(req.Width, req.Height),
		},
		lines: make([]protocol.Frame, 0, len(req.Lines)),
	}

	for i, l := range req.Lines {
		f, err := protocol.Command(l)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d:\n%w", ErrInvalidJob, i, err)
		}
		j.lines = append(j.lines, f)
	}

	return j, nil
}

// start moves the job out of Idle, queueing the configuration and every line.
func (j *job) start(q *Queue, now time.Time) {
	j.startedAt = now

	j.state = Configuring
	for _, f := range j.config {
		q.Enqueue(f)
	}

	j.state = StreamingLines
	for _, f := range j.lines {
		q.Enqueue(f)
	}
}

// sent is called after each frame of the job has been written.
func (j *job) sent(code protocol.Code, now time.Time) {
	j.framesSent++

	switch code {
	case protocol.EndPrintDataExchangeCode:
		j.exchangeEnded = true
		j.settleAt = now.Add(j.settle)
	case protocol.EndPrintCode:
		j.state = Done
	}
}

// advance queues the finishing frames once the queue has been drained.
func (j *job) advance(q *Queue, now time.Time) {
	switch j.state {
	case StreamingLines:
		if q.Empty() {
			q.Enqueue(protocol.EndPrintDataExchange())
			j.state = Finishing
		}
	case Finishing:
		if j.exchangeEnded && !j.endPrintQueued && q.Empty() && !now.Before(j.settleAt) {
			q.Enqueue(protocol.EndPrint())
			j.endPrintQueued = true
		}
	}
}

// wakeAt returns when the job next needs attention while its queue is empty.
func (j *job) wakeAt() (time.Time, bool) {
	if j.state == Finishing && j.exchangeEnded && !j.endPrintQueued {
		return j.settleAt, true
	}
	return time.Time{}, false
}

// cancel drops the lines that haven't been written yet. A job which hasn't
// written anything is finished straight away, otherwise the page is closed
// off so the printer isn't left mid exchange.
func (j *job) cancel(q *Queue) {
	j.canceled = true

	switch j.state {
	case Configuring, StreamingLines:
		q.Clear()
		if j.framesSent == 0 {
			j.state = Done
			return
		}
		q.Enqueue(protocol.EndPrintDataExchange())
		j.state = Finishing
	}
}

func (j *job) report(now time.Time, err error) *Report {
	r := &Report{
		ID:         j.id,
		Width:      j.request.Width,
		Height:     j.request.Height,
		Density:    j.request.Density,
		Lines:      len(j.request.Lines),
		FramesSent: j.framesSent,
		Outcome:    Completed,
		StartedAt:  j.startedAt,
		FinishedAt: now,
	}

	if err == nil && j.canceled {
		err = ErrJobCanceled
	}
	switch {
	case errors.Is(err, ErrJobCanceled):
		r.Outcome = Canceled
	case err != nil:
		r.Outcome = Failed
	}
	r.Err = err
	return r
}
