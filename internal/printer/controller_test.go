package printer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tomgalvin.uk/niimprint/internal/protocol"
)

var errLinkDropped = errors.New("link dropped")

type recordingWriter struct {
	mu      sync.Mutex
	frames  [][]byte
	failAt  int
	onWrite func(n int)
}

func (w *recordingWriter) Write(data []byte) error {
	w.mu.Lock()
	if w.failAt > 0 && len(w.frames)+1 == w.failAt {
		w.mu.Unlock()
		return errLinkDropped
	}
	w.frames = append(w.frames, data)
	n, onWrite := len(w.frames), w.onWrite
	w.mu.Unlock()

	if onWrite != nil {
		onWrite(n)
	}
	return nil
}

func (w *recordingWriter) codes() []protocol.Code {
	w.mu.Lock()
	defer w.mu.Unlock()
	codes := make([]protocol.Code, len(w.frames))
	for i, f := range w.frames {
		codes[i] = protocol.Code(f[2])
	}
	return codes
}

func (w *recordingWriter) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = nil
	w.failAt = 0
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noDelays() Timing {
	return Timing{}
}

func startController(t *testing.T, w DeviceWriter, timing Timing) (*Controller, context.CancelFunc) {
	c := NewController(w, timing, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return c, cancel
}

func someLines(n int) []protocol.Line {
	lines := make([]protocol.Line, 0, n)
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			lines = append(lines, protocol.Line{Start: byte(i), Thickness: 1})
		} else {
			lines = append(lines, protocol.Line{Start: byte(i), Thickness: 1, Data: []byte{0xF0, byte(i)}})
		}
	}
	return lines
}

var configCodes = []protocol.Code{
	protocol.SetLabelTypeCode,
	protocol.SetPrintDensityCode,
	protocol.GetPrintStatusCode,
	protocol.StartPrintDataExchangeCode,
	protocol.SetPrintDimensionsCode,
}

func TestPrintWithoutLines(t *testing.T) {
	w := &recordingWriter{}
	c, _ := startController(t, w, noDelays())

	r, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3})
	require.NoError(t, err)

	expected := append(append([]protocol.Code{}, configCodes...),
		protocol.EndPrintDataExchangeCode,
		protocol.EndPrintCode,
	)
	assert.Equal(t, expected, w.codes())
	assert.Len(t, w.codes(), 7)
	assert.Equal(t, Completed, r.Outcome)
	assert.Equal(t, 7, r.FramesSent)
	assert.Eventually(t, func() bool { return c.Status().State == Idle }, time.Second, time.Millisecond)
}

func TestPrintSendsLinesInOrder(t *testing.T) {
	w := &recordingWriter{}
	c, _ := startController(t, w, noDelays())

	lines := someLines(20)
	r, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3, Lines: lines})
	require.NoError(t, err)
	assert.Equal(t, 27, r.FramesSent)

	w.mu.Lock()
	frames := w.frames
	w.mu.Unlock()
	require.Len(t, frames, 27)

	for i, l := range lines {
		expected, err := protocol.Command(l)
		require.NoError(t, err)
		assert.Equal(t, expected.Bytes(), frames[5+i], "line %d", i)
	}
	assert.Equal(t, protocol.EndPrintDataExchange().Bytes(), frames[25])
	assert.Equal(t, protocol.EndPrint().Bytes(), frames[26])
}

func TestTransportFailureAbortsJob(t *testing.T) {
	w := &recordingWriter{failAt: 8}
	c, _ := startController(t, w, noDelays())

	r, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3, Lines: someLines(10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, errLinkDropped)
	assert.Equal(t, Failed, r.Outcome)
	assert.Equal(t, 7, r.FramesSent)

	// nothing else of the job is written after the failure
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, w.codes(), 7)

	assert.Eventually(t, func() bool { return c.Status().State == Idle }, time.Second, time.Millisecond)
	status := c.Status()
	assert.Equal(t, 0, status.QueueLength)
	assert.Contains(t, status.LastError, "link dropped")

	// the controller is usable again once the link is back
	w.reset()
	r, err = c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3})
	require.NoError(t, err)
	assert.Equal(t, Completed, r.Outcome)
}

func TestPrintRejectsInvalidRequest(t *testing.T) {
	w := &recordingWriter{}
	c, _ := startController(t, w, noDelays())

	_, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 9})
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Empty(t, w.codes())
}

func TestCancelPrint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &recordingWriter{onWrite: func(n int) {
		if n == 8 {
			cancel()
		}
	}}
	c, _ := startController(t, w, Timing{DrainInterval: 2 * time.Millisecond})

	r, err := c.Print(ctx, Request{Width: 240, Height: 128, Density: 3, Lines: someLines(100)})
	assert.ErrorIs(t, err, ErrJobCanceled)
	require.NotNil(t, r)
	assert.Equal(t, Canceled, r.Outcome)

	codes := w.codes()
	require.Greater(t, len(codes), 8)
	assert.Less(t, len(codes), 107)
	assert.Equal(t, []protocol.Code{protocol.EndPrintDataExchangeCode, protocol.EndPrintCode}, codes[len(codes)-2:])
}

func TestPrintQueuesBehindRunningJob(t *testing.T) {
	w := &recordingWriter{}
	c, _ := startController(t, w, Timing{DrainInterval: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3, Lines: someLines(5)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every job runs to the end before the next one starts
	codes := w.codes()
	require.Len(t, codes, 3*12)
	for i := 0; i < 3; i++ {
		job := codes[i*12 : (i+1)*12]
		assert.Equal(t, configCodes, job[:5])
		assert.Equal(t, protocol.EndPrintCode, job[11])
	}
}

func TestHeartbeatWhileIdle(t *testing.T) {
	w := &recordingWriter{}
	_, _ = startController(t, w, Timing{HeartbeatInterval: time.Millisecond})

	assert.Eventually(t, func() bool { return len(w.codes()) >= 3 }, time.Second, time.Millisecond)
	for _, code := range w.codes() {
		assert.Equal(t, protocol.HeartbeatCode, code)
	}
}

func TestNoHeartbeatsDuringJob(t *testing.T) {
	w := &recordingWriter{}
	c := NewController(w, Timing{HeartbeatInterval: time.Nanosecond}, quietLogger())

	j, err := newJob(Request{Width: 240, Height: 128, Density: 3, Lines: someLines(10)}, 0)
	require.NoError(t, err)

	now := time.Now()
	c.step(now)
	c.begin(j, now)
	for i := 0; i < 50 && c.job != nil; i++ {
		now = now.Add(time.Millisecond)
		c.step(now)
	}
	require.Nil(t, c.job)

	codes := w.codes()
	require.Len(t, codes, 1+17)
	assert.Equal(t, protocol.HeartbeatCode, codes[0])
	for _, code := range codes[1:] {
		assert.NotEqual(t, protocol.HeartbeatCode, code)
	}

	r := <-j.done
	assert.Equal(t, Completed, r.Outcome)
}

func TestSingleCommands(t *testing.T) {
	w := &recordingWriter{}
	c, _ := startController(t, w, noDelays())
	ctx := context.Background()

	require.NoError(t, c.Calibrate(ctx))
	require.NoError(t, c.QueryRFID(ctx))
	require.NoError(t, c.QueryStatus(ctx))
	require.NoError(t, c.Heartbeat(ctx))

	assert.Equal(t, []protocol.Code{
		protocol.CalibrateLabelGapCode,
		protocol.GetLabelRFIDCode,
		protocol.GetPrintStatusCode,
		protocol.HeartbeatCode,
	}, w.codes())
}

func TestSingleCommandWriteFailure(t *testing.T) {
	w := &recordingWriter{failAt: 1}
	c, _ := startController(t, w, noDelays())

	err := c.Calibrate(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestNotifyRecordsLastNotification(t *testing.T) {
	w := &recordingWriter{}
	c, _ := startController(t, w, noDelays())

	frame, err := protocol.BuildCommand(0xDE, []byte{0x01, 0x02})
	require.NoError(t, err)
	c.Notify(frame.Bytes())

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(frame.Bytes(), c.Status().LastNotification)
	}, time.Second, time.Millisecond)
}

func TestStopFailsRunningJob(t *testing.T) {
	w := &recordingWriter{}
	c, stop := startController(t, w, Timing{DrainInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(20 * time.Millisecond)
		stop()
	}()

	r, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3, Lines: someLines(200)})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, Failed, r.Outcome)

	_, err = c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3})
	assert.ErrorIs(t, err, ErrStopped)
}

type countingObserver struct {
	nopObserver
	mu     sync.Mutex
	frames []protocol.Code
	states []State
	jobs   []*Report
}

func (o *countingObserver) FrameSent(code protocol.Code, size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, code)
}

func (o *countingObserver) StateChanged(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *countingObserver) JobFinished(r *Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, r)
}

func TestObserversSeeEveryFrame(t *testing.T) {
	w := &recordingWriter{}
	first, second := &countingObserver{}, &countingObserver{}

	c := NewController(w, noDelays(), quietLogger())
	c.SetObserver(Observers{first, second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.Print(context.Background(), Request{Width: 240, Height: 128, Density: 3, Lines: someLines(3)})
	require.NoError(t, err)

	for _, o := range []*countingObserver{first, second} {
		o.mu.Lock()
		assert.Equal(t, w.codes(), o.frames)
		assert.Len(t, o.jobs, 1)
		assert.Contains(t, o.states, StreamingLines)
		o.mu.Unlock()
	}
}
