package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/niimprint/internal/protocol"
)

// How long the loop sleeps when there's nothing to do and heartbeats are off.
const idleWait = time.Hour

const inboundBuffer = 64

// Observer is told about everything the controller does, e.g. to export
// metrics.
type Observer interface {
	FrameSent(code protocol.Code, size int)
	WriteFailed(code protocol.Code)
	Notification(code protocol.Code)
	StateChanged(s State)
	QueueLength(n int)
	JobFinished(r *Report)
}

type nopObserver struct{}

func (nopObserver) FrameSent(protocol.Code, int) {}
func (nopObserver) WriteFailed(protocol.Code)    {}
func (nopObserver) Notification(protocol.Code)   {}
func (nopObserver) StateChanged(State)           {}
func (nopObserver) QueueLength(int)              {}
func (nopObserver) JobFinished(*Report)          {}

type command struct {
	frame protocol.Frame
	done  chan error
}

// Controller runs the single event loop which owns the command queue and the
// current print job. Other goroutines only talk to it over channels, through
// Print, the command methods and Notify.
type Controller struct {
	writer   DeviceWriter
	timing   Timing
	log      *slog.Logger
	observer Observer

	// only touched by the Run goroutine
	queue            Queue
	job              *job
	waiter           *command
	decoder          protocol.Decoder
	state            State
	lastStep         time.Time
	lastHeartbeat    time.Time
	framesSent       uint64
	lastNotification []byte
	lastNotified     time.Time
	lastError        string

	jobs     chan *job
	commands chan *command
	cancels  chan uuid.UUID
	inbound  chan []byte
	stopped  chan struct{}
	running  atomic.Bool
	status   atomic.Pointer[Status]
}

func NewController(w DeviceWriter, timing Timing, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		writer:   w,
		timing:   timing,
		log:      logger,
		observer: nopObserver{},
		jobs:     make(chan *job),
		commands: make(chan *command),
		cancels:  make(chan uuid.UUID),
		inbound:  make(chan []byte, inboundBuffer),
		stopped:  make(chan struct{}),
	}
	c.status.Store(&Status{State: Idle})
	return c
}

// SetObserver must be called before Run.
func (c *Controller) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// Run is the event loop. It returns when ctx is cancelled, failing any job
// still in progress.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("printer controller is already running")
	}
	defer close(c.stopped)

	c.log.Info("Printer controller started",
		"drainInterval", c.timing.DrainInterval,
		"settleDelay", c.timing.SettleDelay,
		"heartbeatInterval", c.timing.HeartbeatInterval,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		var jobs chan *job
		var commands chan *command
		if c.acceptingWork() {
			jobs, commands = c.jobs, c.commands
		}

		select {
		case <-ctx.Done():
			c.shutdown(time.Now())
			c.publish()
			return ctx.Err()
		case j := <-jobs:
			c.begin(j, time.Now())
		case cmd := <-commands:
			c.queue.Enqueue(cmd.frame)
			c.waiter = cmd
		case id := <-c.cancels:
			c.cancel(id)
		case data := <-c.inbound:
			c.handleNotification(data, time.Now())
		case now := <-timer.C:
			c.step(now)
		}

		c.publish()
		now := time.Now()
		timer.Reset(c.nextStep(now).Sub(now))
	}
}

// Print queues a label and blocks until it has been printed, has failed, or
// ctx is cancelled. Only one label is printed at a time; later calls wait for
// the printer to become idle. Cancelling ctx once the job has started closes
// the page off on the printer before returning ErrJobCanceled.
func (c *Controller) Print(ctx context.Context, req Request) (*Report, error) {
	j, err := newJob(req, c.timing.SettleDelay)
	if err != nil {
		return nil, err
	}

	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, ErrStopped
	}

	select {
	case r := <-j.done:
		return r, r.Err
	case <-ctx.Done():
	}

	select {
	case c.cancels <- j.id:
	case <-c.stopped:
	case r := <-j.done:
		return r, r.Err
	}
	r := <-j.done
	return r, r.Err
}

// Heartbeat sends a single keep-alive frame once the printer is idle.
func (c *Controller) Heartbeat(ctx context.Context) error {
	return c.send(ctx, protocol.Heartbeat())
}

func (c *Controller) Calibrate(ctx context.Context) error {
	return c.send(ctx, protocol.CalibrateLabelGap())
}

func (c *Controller) QueryStatus(ctx context.Context) error {
	return c.send(ctx, protocol.GetPrintStatus())
}

func (c *Controller) QueryRFID(ctx context.Context) error {
	return c.send(ctx, protocol.GetLabelRFID())
}

// Notify hands data received from the printer to the event loop. It never
// blocks; data is dropped if the loop has fallen behind.
func (c *Controller) Notify(data []byte) {
	select {
	case c.inbound <- bytes.Clone(data):
	default:
		c.log.Warn("Dropped notification from printer, event loop is busy", "size", len(data))
	}
}

func (c *Controller) Status() Status {
	return *c.status.Load()
}

// send queues a single frame while the printer is idle and waits for it to
// be written.
func (c *Controller) send(ctx context.Context, f protocol.Frame) error {
	cmd := &command{frame: f, done: make(chan error, 1)}

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) acceptingWork() bool {
	return c.job == nil && c.waiter == nil && c.queue.Empty()
}

func (c *Controller) begin(j *job, now time.Time) {
	c.log.Info("Starting print job",
		"job", j.id,
		"width", j.request.Width,
		"height", j.request.Height,
		"density", j.request.Density,
		"lines", len(j.lines),
	)
	c.job = j
	j.start(&c.queue, now)
}

// step writes at most one frame and then lets the job react to it.
func (c *Controller) step(now time.Time) {
	c.lastStep = now

	if c.acceptingWork() && c.heartbeatDue(now) {
		c.queue.Enqueue(protocol.Heartbeat())
		c.lastHeartbeat = now
	}

	if f, ok := c.queue.Dequeue(); ok {
		if err := c.write(f, now); err != nil {
			c.fail(err, now)
			return
		}
	}

	if c.job != nil {
		c.job.advance(&c.queue, now)
		if c.job.state == Done {
			c.finish(now, nil)
		}
	}
}

func (c *Controller) heartbeatDue(now time.Time) bool {
	return c.timing.HeartbeatInterval > 0 && !now.Before(c.lastHeartbeat.Add(c.timing.HeartbeatInterval))
}

func (c *Controller) write(f protocol.Frame, now time.Time) error {
	if err := c.writer.Write(f.Bytes()); err != nil {
		c.observer.WriteFailed(f.Code())
		return fmt.Errorf("Couldn't write %s frame (%w):\n%w", f.Code(), ErrTransport, err)
	}

	c.framesSent++
	c.observer.FrameSent(f.Code(), f.Len())
	c.log.Debug("Wrote frame to printer", "code", f.Code(), "size", f.Len())

	if c.job != nil {
		c.job.sent(f.Code(), now)
	}
	if c.waiter != nil {
		c.waiter.done <- nil
		c.waiter = nil
	}
	return nil
}

// fail abandons everything queued after a transport error. Nothing is
// retried, as the printer may have partially applied the failed frame.
func (c *Controller) fail(err error, now time.Time) {
	c.lastError = err.Error()
	c.log.Error("Printer write failed", "error", err)

	c.queue.Clear()
	if c.waiter != nil {
		c.waiter.done <- err
		c.waiter = nil
	}
	if c.job != nil {
		c.finish(now, err)
	}
}

func (c *Controller) finish(now time.Time, err error) {
	j := c.job
	c.job = nil

	r := j.report(now, err)
	c.log.Info("Print job finished",
		"job", r.ID,
		"outcome", r.Outcome,
		"frames", r.FramesSent,
		"duration", r.Duration(),
	)
	c.observer.JobFinished(r)
	j.done <- r
}

func (c *Controller) cancel(id uuid.UUID) {
	if c.job == nil || c.job.id != id {
		return
	}

	c.log.Info("Cancelling print job", "job", id, "state", c.job.state)
	c.job.cancel(&c.queue)
	if c.job.state == Done {
		c.finish(time.Now(), nil)
	}
}

func (c *Controller) shutdown(now time.Time) {
	c.queue.Clear()
	if c.waiter != nil {
		c.waiter.done <- ErrStopped
		c.waiter = nil
	}
	if c.job != nil {
		c.finish(now, ErrStopped)
	}
	c.log.Info("Printer controller stopped")
}

func (c *Controller) handleNotification(data []byte, now time.Time) {
	frames := c.decoder.Feed(data)
	if len(frames) == 0 && c.decoder.Buffered() == 0 {
		c.log.Info("Received unknown notification:", "data", fmt.Sprintf("%x", data))
		return
	}

	for _, f := range frames {
		c.log.Debug("Received notification",
			"code", f.Code(),
			"payload", fmt.Sprintf("%x", f.Payload()),
		)
		c.observer.Notification(f.Code())
		c.lastNotification = f.Bytes()
		c.lastNotified = now
	}
}

// nextStep works out when the loop next needs to call step.
func (c *Controller) nextStep(now time.Time) time.Time {
	drained := c.lastStep.Add(c.timing.DrainInterval)

	switch {
	case !c.queue.Empty():
		return drained
	case c.job != nil:
		if t, ok := c.job.wakeAt(); ok && t.After(drained) {
			return t
		}
		return drained
	case c.timing.HeartbeatInterval > 0:
		return c.lastHeartbeat.Add(c.timing.HeartbeatInterval)
	default:
		return now.Add(idleWait)
	}
}

func (c *Controller) publish() {
	state := Idle
	var id uuid.UUID
	if c.job != nil {
		state = c.job.state
		id = c.job.id
	}
	if state != c.state {
		c.observer.StateChanged(state)
		c.state = state
	}
	c.observer.QueueLength(c.queue.Len())

	c.status.Store(&Status{
		State:            state,
		JobID:            id,
		QueueLength:      c.queue.Len(),
		FramesSent:       c.framesSent,
		LastNotification: c.lastNotification,
		LastNotified:     c.lastNotified,
		LastError:        c.lastError,
	})
}

// Observers fans every event out to each observer in turn.
type Observers []Observer

func (obs Observers) FrameSent(code protocol.Code, size int) {
	for _, o := range obs {
		o.FrameSent(code, size)
	}
}

func (obs Observers) WriteFailed(code protocol.Code) {
	for _, o := range obs {
		o.WriteFailed(code)
	}
}

func (obs Observers) Notification(code protocol.Code) {
	for _, o := range obs {
		o.Notification(code)
	}
}

func (obs Observers) StateChanged(s State) {
	for _, o := range obs {
		o.StateChanged(s)
	}
}

func (obs Observers) QueueLength(n int) {
	for _, o := range obs {
		o.QueueLength(n)
	}
}

func (obs Observers) JobFinished(r *Report) {
	for _, o := range obs {
		o.JobFinished(r)
	}
}
