// Package errors defines the closed error taxonomy returned by every kernel
// system call (spec §7). Every operation returns one of these codes
// synchronously; none are silently swallowed.
package errors

// Code is a kernel result code. The zero value is never returned by a
// failing call; success is reported as a nil error.
type Code int8

const (
	// BadContext: called from a context where the operation is disallowed
	// (CPU-lock active, non-task context, boot-only operation).
	BadContext Code = iota + 1
	// BadID: the opaque identifier does not name a live object of the
	// expected kind.
	BadID
	// NoAccess: the identifier names an object, but not one this caller
	// may operate on.
	NoAccess
	// BadParam: a numerical argument is out of range.
	BadParam
	// BadObjectState: the object is not in a state that permits this
	// operation.
	BadObjectState
	// QueueOverflow: activation count or semaphore signal would exceed
	// its configured bound.
	QueueOverflow
	// Timeout: the blocking call's deadline elapsed.
	Timeout
	// Interrupted: the blocking call was terminated by InterruptTask.
	Interrupted
	// WouldDeadlock: self-lock of an already-held non-recursive mutex.
	// A priority-inheritance chain that loops is cut short silently and
	// does not produce this code.
	WouldDeadlock
	// WouldBlock: a poll/try variant would otherwise have blocked.
	WouldBlock
	// Abandoned: the mutex's previous owner exited while holding it.
	Abandoned
	// NotOwner: the caller does not hold the mutex it tried to unlock.
	NotOwner
	// BadInheritance: mark_consistent called without the inconsistent
	// flag set.
	BadInheritance
	// NotSupported: not implementable on this controller/port.
	NotSupported
)

var names = [...]string{
	0:              "<invalid>",
	BadContext:     "BadContext",
	BadID:          "BadID",
	NoAccess:       "NoAccess",
	BadParam:       "BadParam",
	BadObjectState: "BadObjectState",
	QueueOverflow:  "QueueOverflow",
	Timeout:        "Timeout",
	Interrupted:    "Interrupted",
	WouldDeadlock:  "WouldDeadlock",
	WouldBlock:     "WouldBlock",
	Abandoned:      "Abandoned",
	NotOwner:       "NotOwner",
	BadInheritance: "BadInheritance",
	NotSupported:   "NotSupported",
}

// Error implements the error interface so Code values compose naturally
// with errors.Is / errors.As and can be returned directly as `error`.
func (c Code) Error() string {
	if int(c) < 0 || int(c) >= len(names) {
		return "errors.Code(unknown)"
	}
	return names[c]
}

// Is allows errors.Is(err, errors.Timeout) to work when err wraps a Code
// returned by a different but equal-valued Code (e.g. through fmt.Errorf
// with %w, which this package's callers avoid, but defensive equality
// costs nothing).
func (c Code) Is(target error) bool {
	t, ok := target.(Code)
	return ok && t == c
}
