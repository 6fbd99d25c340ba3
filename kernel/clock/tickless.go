// Package clock implements the tickless time abstraction of spec §4.3: a
// monotonic 64-bit microsecond clock built on top of a wrapping hardware
// free-running (or periodic) counter.
//
// Converting hardware ticks to microseconds needs a full-width multiply
// followed by a divide (tick counts and microsecond counts both routinely
// exceed 2^32), so this uses math/bits.Mul64/Div64 for an exact 128-bit
// intermediate rather than risking silent wraparound in a plain uint64
// multiply -- the same kind of bit-level care the teacher's scheduler
// brings to its bitmap arithmetic, applied here to the clock instead.
package clock

import (
	"math/bits"

	"github.com/r3-os/r3-sub003/kernel/errors"
)

// Config describes the hardware counter this Tickless instance converts
// for. HWWidth is the counter's width in bits (<=64); HWFreqNum/HWFreqDenom
// express its nominal rate as HWFreqNum/HWFreqDenom Hz; HWHeadroomTicks is
// the maximum permitted interrupt latency, in hardware cycles, that the
// hardware-timer programming must stay clear of.
type Config struct {
	HWWidth           uint8
	HWFreqNum         uint64
	HWFreqDenom       uint64
	HWHeadroomTicks   uint64
	ForceFullHWPeriod bool
	Resettable        bool
}

// Tickless holds the (reference hardware count, reference kernel
// microseconds, frontier microseconds) triple from spec §3/§4.3.
type Tickless struct {
	cfg    Config
	hwMask uint64

	refHW      uint64
	refUS      uint64
	frontierUS uint64
}

// New constructs a Tickless clock. hwBootValue is the hardware counter's
// value observed at boot; it is used as the initial reference only when
// cfg.Resettable is false (the counter cannot be cleared, so boot must
// record wherever it happens to be).
func New(cfg Config, hwBootValue uint64) *Tickless {
	t := &Tickless{cfg: cfg}
	if cfg.HWWidth >= 64 {
		t.hwMask = ^uint64(0)
	} else {
		t.hwMask = (uint64(1) << cfg.HWWidth) - 1
	}
	if !cfg.Resettable {
		t.refHW = hwBootValue & t.hwMask
	}
	return t
}

// mulDivU64 computes a*b/c exactly, using the full 128-bit product so that
// neither a nor b need fit in 32 bits for the result to be correct.
func mulDivU64(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return q
}

func (t *Tickless) ticksToUS(ticks uint64) uint64 {
	return mulDivU64(ticks, 1_000_000*t.cfg.HWFreqDenom, t.cfg.HWFreqNum)
}

func (t *Tickless) usToTicks(us uint64) uint64 {
	return mulDivU64(us, t.cfg.HWFreqNum, 1_000_000*t.cfg.HWFreqDenom)
}

// ticksBetween decodes the elapsed hardware cycles between from and to,
// modulo the counter's wrap period. This is correct for any to, including
// one that is numerically "before" from, because hardware counters only
// ever move forward until they wrap.
func (t *Tickless) ticksBetween(from, to uint64) uint64 {
	return (to - from) & t.hwMask
}

// periodLimit returns the largest tick delta this clock will ever treat
// as "within one wrap interval" before accounting for headroom. When
// ForceFullHWPeriod is false, the clock resyncs at the half-period point
// instead of the full period, trading a more frequent reference update for
// a smaller worst-case rounding error in ticksToUS.
func (t *Tickless) periodLimit() uint64 {
	if t.cfg.ForceFullHWPeriod || t.hwMask == ^uint64(0) {
		return t.hwMask
	}
	return t.hwMask / 2
}

// TickCount converts the current hardware reading into kernel
// microseconds. Two calls in program order never return a decreasing
// value (spec §8 property 7), where "decreasing" is judged in wrapping
// 64-bit arithmetic so kernel time carries on past 2^64 by wrapping: the
// frontier field remembers the latest value produced and is returned in
// place of a result that would otherwise regress it.
func (t *Tickless) TickCount(hwNow uint64) uint64 {
	elapsed := t.ticksBetween(t.refHW, hwNow)
	result := t.refUS + t.ticksToUS(elapsed)
	if int64(result-t.frontierUS) > 0 {
		t.frontierUS = result
		return result
	}
	return t.frontierUS
}

// MarkReference advances the reference hardware count to hwNow while
// preserving the kernel-time value a caller would observe from TickCount
// at this same instant -- i.e. it resyncs the (hw, us) pair without
// introducing a jump.
func (t *Tickless) MarkReference(hwNow uint64) {
	now := t.TickCount(hwNow)
	t.refHW = hwNow & t.hwMask
	t.refUS = now
}

// MarkReferenceAndMeasure advances the reference to hwNow (as MarkReference
// does) and then reports how many hardware cycles remain until
// frontier_us + deltaUS, saturating at the headroom-safe maximum this
// clock will program into a single hardware-timer shot.
func (t *Tickless) MarkReferenceAndMeasure(hwNow uint64, deltaUS uint64) uint64 {
	t.MarkReference(hwNow)
	deadlineUS := t.frontierUS + deltaUS

	var ticksUntil uint64
	if deadlineUS > t.refUS {
		ticksUntil = t.usToTicks(deadlineUS - t.refUS)
	}

	limit := t.periodLimit()
	if limit > t.cfg.HWHeadroomTicks {
		limit -= t.cfg.HWHeadroomTicks
	} else {
		limit = 0
	}
	if ticksUntil > limit {
		ticksUntil = limit
	}
	return ticksUntil
}

// Now returns the frontier -- the latest kernel-microsecond value produced
// by TickCount or reached by a forward AdjustTime -- without taking a
// fresh hardware reading. This
// is what AdjustTime validates against.
func (t *Tickless) Now() uint64 { return t.frontierUS }

// AdjustTime shifts the kernel clock by deltaUS (positive or negative).
// nearestDeadlineUS, if non-nil, is the earliest pending timeout the
// caller knows about; it is used to enforce the headroom rules from
// spec §4.3:
//
//   - A forward adjustment is rejected if it would make any pending
//     timeout overdue by more than headroomUS.
//   - A backward adjustment is rejected if the frontier would end up
//     more than headroomUS ahead of the rewound current time (since
//     tick_count can never be allowed to regress past where it has
//     already been observed).
//
// On success, the reference point shifts by deltaUS and the new current
// time is returned.
func (t *Tickless) AdjustTime(hwNow uint64, deltaUS int64, headroomUS uint64, nearestDeadlineUS *uint64) (uint64, error) {
	// Resync refHW/refUS to hwNow first so the refUS -= magnitude shift
	// below operates on "now", not on a potentially much older reference
	// point -- otherwise a backward adjustment could underflow refUS.
	t.MarkReference(hwNow)
	now := t.refUS

	if deltaUS > 0 {
		shifted := now + uint64(deltaUS)
		if nearestDeadlineUS != nil && shifted > *nearestDeadlineUS {
			overdueBy := shifted - *nearestDeadlineUS
			if overdueBy > headroomUS {
				return 0, errors.BadParam
			}
		}
		t.refUS += uint64(deltaUS)
		if shifted > t.frontierUS {
			t.frontierUS = shifted
		}
		return shifted, nil
	}

	magnitude := uint64(-deltaUS)
	if magnitude > now {
		// Rewinding past zero is never representable.
		return 0, errors.BadParam
	}
	rewound := now - magnitude
	if t.frontierUS > rewound && t.frontierUS-rewound > headroomUS {
		return 0, errors.BadParam
	}
	t.refUS -= magnitude
	return rewound, nil
}
