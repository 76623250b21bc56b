// Package timer runs the background task that stamps the shared log
// with the wall-clock time at a fixed interval.
package timer

import (
	"context"
	"time"

	"logsock/internal/metrics"
	"logsock/util"
)

// Layout is the time format of a timestamp record, matching the
// strftime pattern "%a, %d %b %Y %H:%M:%S %z".
const Layout = "Mon, 02 Jan 2006 15:04:05 -0700"

// Prefix starts every timestamp record.
const Prefix = "timestamp:"

// Appender is the subset of the shared log the task needs.
type Appender interface {
	Append(data []byte) error
}

// Task appends a timestamp line to Log every Interval until its
// context is cancelled.
type Task struct {
	Log      Appender
	Interval time.Duration
	Logger   *util.Logger
	Metrics  *metrics.Collector

	// Now defaults to time.Now.
	Now func() time.Time
	// Tick, when set, replaces the interval ticker.  Tests use it to
	// drive fires by hand.
	Tick <-chan time.Time
}

// Format renders t as a timestamp record, newline included.
func Format(t time.Time) []byte {
	return []byte(Prefix + t.Format(Layout) + "\n")
}

// Run blocks until ctx is done.  A failed append is logged and the
// next interval is attempted regardless.
func (t *Task) Run(ctx context.Context) {
	now := t.Now
	if now == nil {
		now = time.Now
	}

	tick := t.Tick
	if tick == nil {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	t.Logger.Verbose("timestamp task started (every %s)", t.Interval)
	defer t.Logger.Verbose("timestamp task stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}

		// A tick and cancellation can be ready together; shutdown wins.
		if ctx.Err() != nil {
			return
		}

		line := Format(now())
		if err := t.Log.Append(line); err != nil {
			t.Logger.Error("timestamp: %v", err)
			continue
		}
		t.Metrics.Appended(metrics.SourceTimer)
		t.Logger.Debug("appended %q", line)
	}
}
