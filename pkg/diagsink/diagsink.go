// Package diagsink implements the diagnostics sink consumed by
// Scheduler.PrintTasks: a truncating, circuit-breaker-guarded writer so a
// failing external collector (a serial console, a syslog pipe) turns into
// silent drops (spec §6, §7). A write that blocks still blocks the caller.
package diagsink

import (
	"io"
	"sync/atomic"

	"github.com/sony/gobreaker"
)

// lineBufferSize is the diagnostics line buffer referenced by spec §7:
// formatting overflow is silently truncated rather than reported.
const lineBufferSize = 200

// Sink is the narrow interface Scheduler.PrintTasks writes through.
type Sink interface {
	Print(line string)
	Println(line string)
}

// Writer adapts an io.Writer into a Sink, truncating long lines and
// tripping a circuit breaker around the underlying writer so a failing
// sink degrades to silent drops: after three consecutive write errors the
// breaker opens and writes are skipped. The breaker has no timeout, so a
// write that blocks blocks the caller.
// Output is gated behind a debug flag, defaulting to off, mirroring the
// original scheduler's debug_flag/Scheduler::debug(bool) (spec §6): a
// Writer constructed but never toggled on produces no output at all.
type Writer struct {
	dst     io.Writer
	breaker *gobreaker.CircuitBreaker
	debug   atomic.Bool
}

// New constructs a Writer wrapping dst. name identifies the breaker in its
// state-change logging. Debug output is disabled until SetDebug(true).
func New(name string, dst io.Writer) *Writer {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Writer{
		dst:     dst,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetDebug toggles diagnostic output on or off, the way the original
// Scheduler::debug(bool) flips debug_flag to gate vprint/vprintln.
func (w *Writer) SetDebug(on bool) {
	w.debug.Store(on)
}

// Enabled reports whether debug output is currently on.
func (w *Writer) Enabled() bool {
	return w.debug.Load()
}

// Print writes line without a trailing newline, truncated to the
// diagnostics buffer size. A no-op while debug output is disabled.
// Breaker-open or write failures are dropped silently: diagnostics output
// is best-effort and must never propagate back into the scheduling tick.
func (w *Writer) Print(line string) {
	if !w.debug.Load() {
		return
	}

	w.write(truncate(line))
}

// Println writes line followed by a newline, truncated to the diagnostics
// buffer size (the newline does not count against the limit). A no-op
// while debug output is disabled.
func (w *Writer) Println(line string) {
	if !w.debug.Load() {
		return
	}

	w.write(truncate(line) + "\n")
}

func (w *Writer) write(s string) {
	_, _ = w.breaker.Execute(func() (any, error) {
		_, err := io.WriteString(w.dst, s)

		return nil, err
	})
}

func truncate(line string) string {
	if len(line) <= lineBufferSize {
		return line
	}

	return line[:lineBufferSize]
}
