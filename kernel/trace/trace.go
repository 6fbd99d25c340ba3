// Package trace provides the kernel's diagnostic event sink. The kernel
// core never logs directly to stdout/stderr (it may run with no console
// at all); instead it reports structured events to a Sink, and the
// embedder wires that to go.uber.org/zap the way a hosted application
// would.
package trace

import "go.uber.org/zap"

// Event names the kind of occurrence being traced. These correspond to
// the state transitions and dispatch decisions spec §4.8/§4.10 call out
// as observable, not to every internal function call.
type Event string

const (
	EventActivate     Event = "task_activate"
	EventDispatch     Event = "dispatch"
	EventWait         Event = "wait"
	EventWake         Event = "wake"
	EventTimeout      Event = "timeout"
	EventInterrupt    Event = "interrupt"
	EventMutexLock    Event = "mutex_lock"
	EventMutexAbandon Event = "mutex_abandon"
	EventTimerFire    Event = "timer_fire"
	EventTimerCatchUp Event = "timer_catch_up"
	EventAdjustTime   Event = "adjust_time"
	EventBoost        Event = "boost_priority"
)

// Sink receives kernel trace events. The zero value of the kernel's
// default implementation, NopSink, discards everything -- tracing is
// purely diagnostic and must never be on the critical path of a correct
// build.
type Sink interface {
	Trace(event Event, taskID int, fields ...Field)
}

// Field is a single piece of structured context attached to a trace
// event. Key/Value mirror zap.Field closely enough that ZapSink can
// convert without an adapter type per call site.
type Field struct {
	Key   string
	Value interface{}
}

// F constructs a Field; kernel call sites use this instead of importing
// zap directly, so the core has no hard dependency on the logging
// library's API surface, only trace.Sink does.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// NopSink discards every event. This is the kernel's default Sink until
// the embedder calls SetSink with something real.
type NopSink struct{}

func (NopSink) Trace(Event, int, ...Field) {}

// ZapSink adapts a *zap.Logger to Sink, the way a hosted embedder would
// wire up diagnostics in production: one structured log line per kernel
// event, at Debug level (these fire on every dispatch and wait, far too
// often for Info in a running system).
type ZapSink struct {
	Logger *zap.Logger
}

// NewZapSink wraps logger. A nil logger is replaced with zap.NewNop() so
// a misconfigured embedder degrades to silence rather than a panic.
func NewZapSink(logger *zap.Logger) ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ZapSink{Logger: logger}
}

func (s ZapSink) Trace(event Event, taskID int, fields ...Field) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.Int("task_id", taskID))
	for _, f := range fields {
		zf = append(zf, zap.Any(f.Key, f.Value))
	}
	s.Logger.Debug(string(event), zf...)
}
