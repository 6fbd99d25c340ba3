// Package port defines the contracts the kernel core consumes from its
// CPU/architecture-specific collaborators (spec §6): the port proper
// (context switch, CPU-lock), the interrupt controller, and the hardware
// timer. None of these are implemented here -- that is out of scope per
// spec §1's "out of scope (external collaborators)" -- but the core is
// written entirely against these interfaces, and the top-level simport
// package provides a goroutine-backed implementation for tests.
package port

import "time"

// Port is the CPU/architecture-specific half of task dispatch and
// critical sections. Real ports (context-switch assembly against a
// shared "current task" global) don't need the destination passed in
// explicitly; this Go port is handed it directly as task, since nothing
// here can reach across a context switch to read kernel state the way
// inline assembly can.
type Port interface {
	// DispatchFirstTask hands control to task, the highest-priority
	// ready task computed right after boot. Never returns.
	DispatchFirstTask(task uintptr)
	// YieldCPU dispatches to task, whatever the scheduler now considers
	// the highest-priority ready task, from task context. May return,
	// on this same task later being redispatched.
	YieldCPU(task uintptr)
	// ExitAndDispatch tears down the calling task's stack context (it is
	// now Dormant) and dispatches to next. Never returns to the caller.
	ExitAndDispatch(next uintptr)
	// EnterCPULock / LeaveCPULock implement the global critical-section
	// primitive every kernel operation runs under.
	EnterCPULock()
	LeaveCPULock()
	// InitializeTaskState prepares a newly activated task's stack so
	// that a future dispatch to it resumes at its entry point.
	InitializeTaskState(task uintptr)
	// IsCPULockActive / IsTaskContext / IsInterruptContext /
	// IsSchedulerActive answer the context queries spec §4.10 and §5
	// need to validate which operations are currently legal.
	IsCPULockActive() bool
	IsTaskContext() bool
	IsInterruptContext() bool
	IsSchedulerActive() bool

	// StackDefaultSize / StackAlign are the port's default stack sizing
	// constants. Nothing in the kernel core, including the config
	// builder, reads them; a task's Attr.StackSize is stored as declared.
	StackDefaultSize() uintptr
	StackAlign() uintptr
}

// InterruptController is the contract for a port's interrupt controller
// driver (GIC, PLIC, NVIC, ...).
type InterruptController interface {
	Init()
	SetInterruptLinePriority(line int, priority int)
	EnableInterruptLine(line int)
	DisableInterruptLine(line int)
	Pend(line int)
	Clear(line int)
	IsPending(line int) bool
	// AcknowledgeInterrupt returns the pending line number and true, or
	// (0, false) if nothing is pending.
	AcknowledgeInterrupt() (int, bool)
	EndInterrupt(line int)
}

// ManagedInterruptPriorityRange bounds the interrupt priorities the
// kernel manages; handlers registered outside this range are unmanaged
// and must not call back into the kernel (spec §6).
type ManagedInterruptPriorityRange struct {
	Min int
	Max int
}

// HardwareTimer is the contract for a port's tick-generating timer driver
// (ARM SP804, RISC-V mtime, SysTick, RZ/A OSTM, ...).
type HardwareTimer interface {
	Init()
	// TickCount returns the raw hardware counter reading; kernel/clock
	// converts it into kernel microseconds.
	TickCount() uint32
	// PendTick requests an immediate tick interrupt.
	PendTick()
	// PendTickAfter requests a tick interrupt after delta hardware
	// cycles.
	PendTickAfter(delta uint32)

	MaxTickCount() uint32
	MaxTimeout() time.Duration
}
