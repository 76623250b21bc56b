// Package metrics tracks runtime statistics of a logsock server and
// exposes them in the Prometheus text format.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "logsock"

// Packet kinds.
const (
	PacketComplete   = "complete"
	PacketIncomplete = "incomplete"
)

// Append sources.
const (
	SourceSession = "session"
	SourceTimer   = "timer"
)

// Collector owns a private Prometheus registry so that tests and
// multiple servers in one process never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	packets        *prometheus.CounterVec
	appends        *prometheus.CounterVec
	logErrors      *prometheus.CounterVec
	acceptErrors   prometheus.Counter
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
	logBytes       prometheus.Gauge

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a collector with the start time set to now.  Go runtime
// and process collectors are registered alongside the server metrics.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions currently running",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Total sessions accepted",
		}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "packets_total",
			Help:      "Packets framed from client input, by kind",
		}, []string{"kind"}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "appends_total",
			Help:      "Successful appends to the shared log, by source",
		}, []string{"source"}),
		logErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "errors_total",
			Help:      "Failed shared log operations, by operation",
		}, []string{"op"}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "accept_errors_total",
			Help:      "Accept calls that returned an error",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "received_bytes_total",
			Help:      "Bytes received from clients",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "sent_bytes_total",
			Help:      "Bytes sent to clients",
		}),
		logBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "size_bytes",
			Help:      "Current length of the shared log",
		}),
	}

	c.registry.MustRegister(
		c.sessionsActive, c.sessionsTotal, c.packets, c.appends,
		c.logErrors, c.acceptErrors, c.bytesIn, c.bytesOut, c.logBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// ActiveSessions returns the current number of running sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return int64(value(c.sessionsActive))
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return int64(value(c.sessionsTotal))
}

// Packet records one framed packet of the given kind.
func (c *Collector) Packet(kind string) {
	if c == nil {
		return
	}
	c.packets.WithLabelValues(kind).Inc()
}

// Packets returns the number of packets framed of the given kind.
func (c *Collector) Packets(kind string) int64 {
	if c == nil {
		return 0
	}
	return int64(value(c.packets.WithLabelValues(kind)))
}

// ── Log metrics ──────────────────────────────────────────────────────

// Appended records a successful append from source.
func (c *Collector) Appended(source string) {
	if c == nil {
		return
	}
	c.appends.WithLabelValues(source).Inc()
}

// Appends returns the number of successful appends from source.
func (c *Collector) Appends(source string) int64 {
	if c == nil {
		return 0
	}
	return int64(value(c.appends.WithLabelValues(source)))
}

// LogSize sets the current log length gauge.
func (c *Collector) LogSize(n int64) {
	if c == nil {
		return
	}
	c.logBytes.Set(float64(n))
}

// LogFailure counts a failed log operation and records the message.
func (c *Collector) LogFailure(op, msg string) {
	if c == nil {
		return
	}
	c.logErrors.WithLabelValues(op).Inc()
	c.recordError(msg)
}

// AcceptFailure counts a failed accept and records the message.
func (c *Collector) AcceptFailure(msg string) {
	if c == nil {
		return
	}
	c.acceptErrors.Inc()
	c.recordError(msg)
}

func (c *Collector) recordError(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from a client.
func (c *Collector) BytesReceived(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(float64(n))
}

// BytesSent records n bytes written to a client.
func (c *Collector) BytesSent(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesOut.Add(float64(n))
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of the server metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	PacketsComplete  int64  `json:"packets_complete"`
	PacketsPartial   int64  `json:"packets_incomplete"`
	SessionAppends   int64  `json:"session_appends"`
	TimerAppends     int64  `json:"timer_appends"`
	LogBytes         int64  `json:"log_bytes"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:  c.ActiveSessions(),
		SessionsTotal:   c.TotalSessions(),
		PacketsComplete: c.Packets(PacketComplete),
		PacketsPartial:  c.Packets(PacketIncomplete),
		SessionAppends:  c.Appends(SourceSession),
		TimerAppends:    c.Appends(SourceTimer),
		LogBytes:        int64(value(c.logBytes)),
		BytesIn:         int64(value(c.bytesIn)),
		BytesOut:        int64(value(c.bytesOut)),
		ErrorsTotal:     c.ErrorCount(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// ErrorCount returns the total number of log and accept failures.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	total := value(c.acceptErrors)
	for _, op := range []string{"append", "read"} {
		total += value(c.logErrors.WithLabelValues(op))
	}
	return int64(total)
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// value reads the current value of a counter or gauge.
func value(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return 0
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	return 0
}
