package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tomgalvin.uk/niimprint/internal/history"
	"tomgalvin.uk/niimprint/internal/model"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/protocol"
)

type fakePrinter struct {
	mu         sync.Mutex
	requests   []printer.Request
	calibrated int
	heartbeats int
	err        error
}

func (p *fakePrinter) Print(ctx context.Context, req printer.Request) (*printer.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p.requests = append(p.requests, req)

	now := time.Now()
	r := &printer.Report{
		ID:         uuid.New(),
		Width:      req.Width,
		Height:     req.Height,
		Density:    req.Density,
		Lines:      len(req.Lines),
		FramesSent: 7 + len(req.Lines),
		Outcome:    printer.Completed,
		StartedAt:  now,
		FinishedAt: now,
	}
	if p.err != nil {
		r.Outcome = printer.Failed
		if errors.Is(p.err, printer.ErrJobCanceled) {
			r.Outcome = printer.Canceled
		}
		r.Err = p.err
	}
	return r, r.Err
}

func (p *fakePrinter) Calibrate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calibrated++
	return p.err
}

func (p *fakePrinter) Heartbeat(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeats++
	return p.err
}

func (p *fakePrinter) printed() []printer.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]printer.Request(nil), p.requests...)
}

func (p *fakePrinter) commands() (calibrated int, heartbeats int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibrated, p.heartbeats
}

func (p *fakePrinter) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePrinter) Status() printer.Status {
	return printer.Status{State: printer.Idle, FramesSent: 42}
}

var defaults = Defaults{Width: 240, Height: 128, Density: 3, LabelType: 1}

func newTestServer(t *testing.T, withHistory bool) (*fakePrinter, *history.Repository, *httptest.Server) {
	p := &fakePrinter{}
	var h *history.Repository
	if withHistory {
		var err error
		h, err = history.Open("file:" + filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { h.Close() })
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# metrics")
	})
	ts := httptest.NewServer(NewServer(logger, p, h, defaults).Handler(metrics))
	t.Cleanup(ts.Close)
	return p, h, ts
}

func postJson(t *testing.T, url string, body any) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPrintLines(t *testing.T) {
	p, h, ts := newTestServer(t, true)

	resp := postJson(t, ts.URL+"/api/print", model.PrintRequest{
		Density: 4,
		Lines: []model.Line{
			{Start: 0, Thickness: 3, Data: []byte{0xFF}},
			{Start: 3, Thickness: 10},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job := decode[model.JobResponse](t, resp)
	assert.Equal(t, "completed", job.Outcome)
	assert.Equal(t, 2, job.Lines)

	requests := p.printed()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, byte(240), req.Width)
	assert.Equal(t, byte(128), req.Height)
	assert.Equal(t, byte(4), req.Density)
	assert.Equal(t, protocol.LabelTypeGap, req.LabelType)
	assert.Equal(t, []protocol.Line{
		{Start: 0, Thickness: 3, Data: []byte{0xFF}},
		{Start: 3, Thickness: 10},
	}, req.Lines)

	rec, err := h.Get(job.Id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, printer.Completed, rec.Outcome)
}

func TestPrintImage(t *testing.T) {
	p, _, ts := newTestServer(t, false)

	img := image.NewGray(image.Rect(0, 0, 100, 20))
	for y := range 20 {
		for x := range 100 {
			img.SetGray(x, y, color.Gray{Y: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	resp := postJson(t, ts.URL+"/api/print", model.PrintRequest{Image: buf.Bytes()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a blank image is a single run of whitespace
	requests := p.printed()
	require.Len(t, requests, 1)
	assert.Equal(t, []protocol.Line{{Start: 0, Thickness: 20}}, requests[0].Lines)
}

func TestPrintRejectsBadRequests(t *testing.T) {
	_, _, ts := newTestServer(t, false)

	for name, body := range map[string]model.PrintRequest{
		"no source":      {},
		"two sources":    {Lines: []model.Line{}, Image: []byte("hi")},
		"density":        {Density: 9, Lines: []model.Line{}},
		"width":          {Width: 300, Lines: []model.Line{}},
		"thickness":      {Lines: []model.Line{{Start: 0, Thickness: 0}}},
		"long line":      {Lines: []model.Line{{Start: 0, Thickness: 1, Data: make([]byte, protocol.MaxLineData+1)}}},
		"bad image data": {Image: []byte("not an image")},
	} {
		t.Run(name, func(t *testing.T) {
			resp := postJson(t, ts.URL+"/api/print", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decode[model.ErrorResponse](t, resp).Error)
		})
	}

	resp, err := http.Post(ts.URL+"/api/print", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPrintTransportFailure(t *testing.T) {
	p, h, ts := newTestServer(t, true)
	p.failWith(fmt.Errorf("Couldn't write frame (%w):\nlink dropped", printer.ErrTransport))

	resp := postJson(t, ts.URL+"/api/print", model.PrintRequest{Lines: []model.Line{}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	job := decode[model.JobResponse](t, resp)
	assert.Equal(t, "failed", job.Outcome)
	assert.Contains(t, job.Error, "link dropped")

	// failures are recorded too
	records, err := h.List(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPrintCanceledIsRecorded(t *testing.T) {
	p, h, ts := newTestServer(t, true)
	p.failWith(printer.ErrJobCanceled)

	resp := postJson(t, ts.URL+"/api/print", model.PrintRequest{Lines: []model.Line{}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	job := decode[model.JobResponse](t, resp)
	assert.Equal(t, "canceled", job.Outcome)

	records, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, printer.Canceled, records[0].Outcome)
}

func TestCommands(t *testing.T) {
	p, _, ts := newTestServer(t, false)

	resp := postJson(t, ts.URL+"/api/calibrate", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = postJson(t, ts.URL+"/api/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	calibrated, heartbeats := p.commands()
	assert.Equal(t, 1, calibrated)
	assert.Equal(t, 1, heartbeats)

	resp, err := http.Get(ts.URL + "/api/calibrate")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	_, _, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	status := decode[model.StatusResponse](t, resp)
	assert.Equal(t, "Idle", status.State)
	assert.Equal(t, uint64(42), status.FramesSent)
}

func TestJobs(t *testing.T) {
	_, _, ts := newTestServer(t, true)

	for range 3 {
		resp := postJson(t, ts.URL+"/api/print", model.PrintRequest{Lines: []model.Line{}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/jobs?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	jobs := decode[[]model.JobResponse](t, resp)
	require.Len(t, jobs, 2)

	resp, err = http.Get(ts.URL + "/api/jobs/" + jobs[0].Id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobs[0].Id, decode[model.JobResponse](t, resp).Id)

	resp, err = http.Get(ts.URL + "/api/jobs/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/jobs/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobsWithoutHistory(t *testing.T) {
	_, _, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "# metrics", string(body))
}
