// Package cfg implements the static configuration builder (spec §4.1):
// the one piece of the kernel that runs before boot, turning a pure
// Go function's declarations into the fixed-size tables the rest of the
// kernel indexes into for the system's entire lifetime. There is no
// dynamic object creation after Finish returns.
//
// Grounded on constance's kernel/cfg/task.rs for the shape of "a builder
// method per object kind, validated eagerly, producing a dense
// identifier" -- that file works through Rust macros and const-eval to
// produce a literal static array; this port does the equivalent at
// ordinary Go build() time, since Go has no const-eval rich enough to
// replace it.
package cfg

import (
	"github.com/r3-os/r3-sub003/kernel/event"
	"github.com/r3-os/r3-sub003/kernel/mutex"
	"github.com/r3-os/r3-sub003/kernel/sched"
	"github.com/r3-os/r3-sub003/kernel/sem"
	"github.com/r3-os/r3-sub003/kernel/task"
	"github.com/r3-os/r3-sub003/kernel/timeoutwheel"
	"github.com/r3-os/r3-sub003/kernel/timer"
)

// ID is a 1-based dense identifier for a declared object, per object
// kind; 0 is never issued and marks "no object" in optional fields.
type ID int

// HunkInit describes one hunk allocation request: length and alignment
// of the carved-out region, plus an optional initializer run over it in
// registration order at boot.
type HunkInit struct {
	Len   uintptr
	Align uintptr
	Init  func(region []byte)
}

// InterruptHandler is one user handler registered against an interrupt
// line, at a given dispatch priority (lower first, like startup hooks).
type InterruptHandler struct {
	Line     int
	Priority int
	Handler  func()
}

// StartupHook runs during boot, in ascending (Priority, registration
// order). Priority defaults to 0; a negative priority (runs before the
// defaults) requires NegativeOK to be explicitly set, matching spec
// §4.1's "requiring explicit opt-in to be negative".
type StartupHook struct {
	Priority   int
	NegativeOK bool
	Run        func()
}

// Builder accumulates object declarations. Every Add* method validates
// eagerly, and those that declare a kernel object return its fresh ID
// (or panic -- see Finish -- for
// build-time-only violations spec §4.1 calls out as "a build-time
// panic", since these represent a programming error in the static
// configuration, not a runtime condition any caller could recover from).
type Builder struct {
	numPriorityLevels int

	tasks       []*task.Attr
	eventGroups int
	semaphores  []semSpec
	mutexes     []mutexSpec
	timers      []timerSpec

	interruptHandlers []InterruptHandler
	startupHooks      []StartupHook
	hunks             []HunkInit
}

type semSpec struct {
	initial, max int64
}

type mutexSpec struct {
	protocol mutex.Protocol
	ceiling  int
}

type timerSpec struct {
	callback      timer.Callback
	param         uintptr
	delay, period uint64
}

// NewBuilder returns an empty Builder for a kernel configured with
// numPriorityLevels task priority levels (0..numPriorityLevels-1). Panics
// if numPriorityLevels+1 (the extra slot is for sched.BoostPriority)
// exceeds the 64 slots of the scheduler's ready bitmap.
func NewBuilder(numPriorityLevels int) *Builder {
	if numPriorityLevels+1 > 64 {
		panic("cfg: too many task priority levels for the scheduler bitmap")
	}
	return &Builder{numPriorityLevels: numPriorityLevels}
}

// AddTask declares a task. Panics if attr.BasePrio is outside
// 0..numPriorityLevels, per spec §4.1's build-time validation.
func (b *Builder) AddTask(attr task.Attr) ID {
	if attr.BasePrio < 0 || attr.BasePrio >= b.numPriorityLevels {
		panic("cfg: task priority out of configured range")
	}
	a := attr
	b.tasks = append(b.tasks, &a)
	return ID(len(b.tasks))
}

// AddEventGroup declares an event group.
func (b *Builder) AddEventGroup() ID {
	b.eventGroups++
	return ID(b.eventGroups)
}

// AddSemaphore declares a semaphore. Panics if initial > max, per spec
// §4.1.
func (b *Builder) AddSemaphore(initial, max int64) ID {
	if initial > max {
		panic("cfg: semaphore initial count exceeds maximum")
	}
	b.semaphores = append(b.semaphores, semSpec{initial, max})
	return ID(len(b.semaphores))
}

// AddMutex declares a mutex with the given protocol. ceiling is only
// meaningful when protocol == mutex.Ceiling.
func (b *Builder) AddMutex(protocol mutex.Protocol, ceiling int) ID {
	if protocol == mutex.Ceiling && (ceiling < 0 || ceiling >= b.numPriorityLevels) {
		panic("cfg: mutex ceiling out of configured range")
	}
	b.mutexes = append(b.mutexes, mutexSpec{protocol, ceiling})
	return ID(len(b.mutexes))
}

// AddTimer declares a timer. delay and period are unsigned, so they are
// never negative and are stored without further checks;
// timer.InfiniteDelay is the dedicated "never" sentinel.
func (b *Builder) AddTimer(callback timer.Callback, param uintptr, delay, period uint64) ID {
	b.timers = append(b.timers, timerSpec{callback, param, delay, period})
	return ID(len(b.timers))
}

// AddInterruptLine registers a handler against an interrupt line at the
// given dispatch priority.
func (b *Builder) AddInterruptLine(h InterruptHandler) {
	b.interruptHandlers = append(b.interruptHandlers, h)
}

// AddStartupHook registers a boot-time hook.
func (b *Builder) AddStartupHook(h StartupHook) {
	if h.Priority < 0 && !h.NegativeOK {
		panic("cfg: negative startup-hook priority requires NegativeOK")
	}
	b.startupHooks = append(b.startupHooks, h)
}

// AddHunk requests align bytes of alignment (must be a power of two,
// spec §4.1) and len bytes of storage, with an optional initializer run
// at boot.
func (b *Builder) AddHunk(h HunkInit) ID {
	if h.Align == 0 || h.Align&(h.Align-1) != 0 {
		panic("cfg: hunk alignment must be a power of two")
	}
	b.hunks = append(b.hunks, h)
	return ID(len(b.hunks))
}

// Tables is everything Finish produces: the statically sized object
// arrays and auxiliary tables the kernel facade's Boot/system-call
// surface indexes into for the remainder of the program's life.
type Tables struct {
	NumPriorityLevels int

	Tasks       []*task.TCB
	EventGroups []*event.Group
	Semaphores  []*sem.Semaphore
	Mutexes     []*mutex.Mutex
	Timers      []*timer.Timer

	Scheduler *sched.Scheduler
	Wheel     *timeoutwheel.Wheel

	HunkPoolLen   uintptr
	HunkPoolAlign uintptr
	HunkInits     []HunkInit
	HunkOffsets   []uintptr // parallel to HunkInits: each hunk's byte offset into the pool

	InterruptHandlers map[int][]InterruptHandler // keyed by line, sorted by Priority then registration order
	StartupHooks      []StartupHook              // sorted by (Priority, registration order)
}

// Finish materializes every declared object, returning the immutable
// Tables the kernel facade runs against. It is the one point where
// build-time configuration becomes the runtime object graph; nothing
// below it ever allocates a new kernel object again. Every validation
// rule spec §4.1 lists is instead enforced eagerly, as a panic, by the
// Add* method that would otherwise accept the bad declaration -- these
// represent a programming error in the static configuration, not a
// runtime condition any caller could recover from.
func (b *Builder) Finish() *Tables {
	t := &Tables{
		NumPriorityLevels: b.numPriorityLevels,
		Scheduler:         sched.New(b.numPriorityLevels),
		Wheel:             timeoutwheel.New(len(b.tasks) + len(b.timers)),
		HunkInits:         b.hunks,
		InterruptHandlers: make(map[int][]InterruptHandler),
	}

	for _, attr := range b.tasks {
		t.Tasks = append(t.Tasks, task.New(attr))
	}
	for i := 0; i < b.eventGroups; i++ {
		t.EventGroups = append(t.EventGroups, event.New())
	}
	for _, s := range b.semaphores {
		t.Semaphores = append(t.Semaphores, sem.New(s.initial, s.max))
	}
	for _, m := range b.mutexes {
		t.Mutexes = append(t.Mutexes, mutex.New(m.protocol, m.ceiling))
	}
	for _, tm := range b.timers {
		t.Timers = append(t.Timers, timer.New(tm.callback, tm.param, tm.delay, tm.period))
	}

	var offset uintptr
	var poolAlign uintptr = 1
	for _, h := range b.hunks {
		if h.Align > poolAlign {
			poolAlign = h.Align
		}
		offset = alignUp(offset, h.Align)
		t.HunkOffsets = append(t.HunkOffsets, offset)
		offset += h.Len
	}
	t.HunkPoolLen = offset
	t.HunkPoolAlign = poolAlign

	for _, h := range b.interruptHandlers {
		t.InterruptHandlers[h.Line] = append(t.InterruptHandlers[h.Line], h)
	}
	for line := range t.InterruptHandlers {
		stableSortHandlersByPriority(t.InterruptHandlers[line])
	}

	t.StartupHooks = append(t.StartupHooks, b.startupHooks...)
	stableSortHooksByPriority(t.StartupHooks)

	return t
}

func alignUp(offset, align uintptr) uintptr {
	if align == 0 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// stableSortHandlersByPriority and stableSortHooksByPriority use simple
// insertion sorts: these run once, over a handful of build-time entries,
// so clarity wins over reaching for sort.Slice.
func stableSortHandlersByPriority(hs []InterruptHandler) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0 && hs[j].Priority < hs[j-1].Priority; j-- {
			hs[j], hs[j-1] = hs[j-1], hs[j]
		}
	}
}

func stableSortHooksByPriority(hs []StartupHook) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0 && hs[j].Priority < hs[j-1].Priority; j-- {
			hs[j], hs[j-1] = hs[j-1], hs[j]
		}
	}
}
