// Package metrics exports what the printer controller is doing to
// prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/protocol"
)

const namespace = "niimprint"

var states = []printer.State{
	printer.Idle,
	printer.Configuring,
	printer.StreamingLines,
	printer.Finishing,
	printer.Done,
}

// Metrics implements printer.Observer.
type Metrics struct {
	framesSent    *prometheus.CounterVec
	bytesSent     prometheus.Counter
	writeErrors   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	jobLines      prometheus.Histogram
	state         *prometheus.GaugeVec
	queueLength   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "printer", Name: "frames_sent_total", Help: "Frames written to the printer"}, []string{"command"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "printer", Name: "bytes_sent_total", Help: "Bytes written to the printer"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "printer", Name: "write_errors_total", Help: "Frames which couldn't be written"}, []string{"command"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "printer", Name: "notifications_total", Help: "Frames received from the printer"}, []string{"command"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "finished_total", Help: "Print jobs finished"}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds", Help: "Time taken to print a label",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60}}),
		jobLines: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "lines", Help: "Line commands per label",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9)}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "printer", Name: "state", Help: "1 for the state the controller is in"}, []string{"state"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "printer", Name: "queue_length", Help: "Frames waiting to be written"}),
	}

	reg.MustRegister(
		m.framesSent,
		m.bytesSent,
		m.writeErrors,
		m.notifications,
		m.jobs,
		m.jobDuration,
		m.jobLines,
		m.state,
		m.queueLength,
	)

	m.StateChanged(printer.Idle)
	return m
}

func (m *Metrics) FrameSent(code protocol.Code, size int) {
	m.framesSent.WithLabelValues(code.String()).Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) WriteFailed(code protocol.Code) {
	m.writeErrors.WithLabelValues(code.String()).Inc()
}

func (m *Metrics) Notification(code protocol.Code) {
	m.notifications.WithLabelValues(code.String()).Inc()
}

func (m *Metrics) StateChanged(s printer.State) {
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) QueueLength(n int) {
	m.queueLength.Set(float64(n))
}

func (m *Metrics) JobFinished(r *printer.Report) {
	m.jobs.WithLabelValues(string(r.Outcome)).Inc()
	m.jobLines.Observe(float64(r.Lines))
	if r.Outcome == printer.Completed {
		m.jobDuration.Observe(r.Duration().Seconds())
	}
}
