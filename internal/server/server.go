package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"tomgalvin.uk/niimprint/internal/history"
	"tomgalvin.uk/niimprint/internal/model"
	"tomgalvin.uk/niimprint/internal/printer"
)

// Printer is the part of printer.Controller the API drives.
type Printer interface {
	Print(ctx context.Context, req printer.Request) (*printer.Report, error)
	Calibrate(ctx context.Context) error
	Heartbeat(ctx context.Context) error
	Status() printer.Status
}

// Defaults fill in whatever a print request leaves out.
type Defaults struct {
	Width     byte
	Height    byte
	Density   byte
	LabelType byte
}

const maxRequestSize = 8 << 20

type Server struct {
	log      *slog.Logger
	printer  Printer
	history  *history.Repository
	defaults Defaults
}

// NewServer builds the API. history may be nil, in which case jobs aren't
// recorded and the job endpoints return 404.
func NewServer(logger *slog.Logger, p Printer, h *history.Repository, d Defaults) *Server {
	return &Server{log: logger, printer: p, history: h, defaults: d}
}

// Handler serves the API under /api/, and metrics under /metrics when given a
// handler for them.
func (s *Server) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/print", s.handlePrint)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/calibrate", s.handleCalibrate)
	mux.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	var body model.PrintRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := s.mapPrintRequest(&body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.printer.Print(r.Context(), req)
	if report == nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	// every finished job is recorded, cancelled ones included
	if s.history != nil {
		if err := s.history.Save(report); err != nil {
			s.log.Error("Couldn't record print job", "job", report.ID, "error", err)
		}
	}
	s.writeJson(w, statusFor(err), model.FromReport(report))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, model.FromStatus(s.printer.Status()))
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if err := s.printer.Calibrate(r.Context()); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.printer.Heartbeat(r.Context()); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	records, err := s.history.List(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	jobs := make([]model.JobResponse, len(records))
	for i := range records {
		jobs[i] = model.FromRecord(&records[i])
	}
	s.writeJson(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := s.history.Get(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		http.NotFound(w, r)
		return
	}
	s.writeJson(w, http.StatusOK, model.FromRecord(record))
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, printer.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, printer.ErrJobCanceled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, printer.ErrTransport), errors.Is(err, printer.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Couldn't write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "status", status, "error", err)
	} else {
		s.log.Debug("Bad request", "status", status, "error", err)
	}
	s.writeJson(w, status, model.ErrorResponse{Error: err.Error()})
}
