// Package model holds the JSON bodies of the HTTP API.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/niimprint/internal/history"
	"tomgalvin.uk/niimprint/internal/printer"
)

type Line struct {
	Start     int `json:"start"`
	Thickness int `json:"thickness"`
	// Packed row bits, base64 in JSON. Empty for whitespace.
	Data []byte `json:"data,omitempty"`
}

// PrintRequest carries exactly one of Lines or Image.
type PrintRequest struct {
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Density   int    `json:"density,omitempty"`
	LabelType int    `json:"labelType,omitempty"`
	Lines     []Line `json:"lines"`
	// PNG or JPEG, base64 in JSON.
	Image []byte `json:"image,omitempty"`
}

func (r *PrintRequest) Sources() int {
	n := 0
	if r.Lines != nil {
		n++
	}
	if r.Image != nil {
		n++
	}
	return n
}

type JobResponse struct {
	Id         uuid.UUID `json:"id"`
	Outcome    string    `json:"outcome"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Density    int       `json:"density"`
	Lines      int       `json:"lines"`
	FramesSent int       `json:"framesSent"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

func FromReport(r *printer.Report) JobResponse {
	j := JobResponse{
		Id:         r.ID,
		Outcome:    string(r.Outcome),
		Width:      int(r.Width),
		Height:     int(r.Height),
		Density:    int(r.Density),
		Lines:      r.Lines,
		FramesSent: r.FramesSent,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
	}
	if r.Err != nil {
		j.Error = r.Err.Error()
	}
	return j
}

func FromRecord(r *history.Record) JobResponse {
	return JobResponse{
		Id:         r.Uuid,
		Outcome:    string(r.Outcome),
		Width:      r.Width,
		Height:     r.Height,
		Density:    r.Density,
		Lines:      r.Lines,
		FramesSent: r.Frames,
		StartedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		Error:      r.Error,
	}
}

type StatusResponse struct {
	State            string     `json:"state"`
	JobId            *uuid.UUID `json:"jobId,omitempty"`
	QueueLength      int        `json:"queueLength"`
	FramesSent       uint64     `json:"framesSent"`
	LastNotification string     `json:"lastNotification,omitempty"`
	LastNotified     *time.Time `json:"lastNotified,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

func FromStatus(s printer.Status) StatusResponse {
	r := StatusResponse{
		State:       s.State.String(),
		QueueLength: s.QueueLength,
		FramesSent:  s.FramesSent,
		LastError:   s.LastError,
	}
	if s.JobID != uuid.Nil {
		id := s.JobID
		r.JobId = &id
	}
	if len(s.LastNotification) > 0 {
		r.LastNotification = fmt.Sprintf("%x", s.LastNotification)
		t := s.LastNotified
		r.LastNotified = &t
	}
	return r
}

type ErrorResponse struct {
	Error string `json:"error"`
}
