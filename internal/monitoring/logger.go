// Package monitoring holds the process-wide diagnostic log streams.
//
// Three streams are kept apart so each can be routed or muted on its own:
//
//   - ops: actionable warnings and failures
//   - diag: per-run and per-ROI summaries
//   - trace: high-frequency separator telemetry (per iteration batch)
//
// All streams start muted except ops, which writes to the standard logger.
package monitoring

import (
	"io"
	"log"
	"sync/atomic"
)

var (
	opsLogger   atomic.Pointer[log.Logger]
	diagLogger  atomic.Pointer[log.Logger]
	traceLogger atomic.Pointer[log.Logger]
)

func init() {
	opsLogger.Store(log.Default())
}

// SetLogWriters configures the three streams. Pass nil for any writer to
// disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger.Store(newLogger("[roisep] ", ops))
	diagLogger.Store(newLogger("[roisep] ", diag))
	traceLogger.Store(newLogger("[roisep:trace] ", trace))
}

// SetLegacyLogger routes all three streams to a single writer.
// Pass nil to disable all logging.
func SetLegacyLogger(w io.Writer) {
	SetLogWriters(w, w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	if l := opsLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	if l := diagLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	if l := traceLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream is active, so callers can
// skip building expensive trace arguments.
func TraceEnabled() bool { return traceLogger.Load() != nil }
