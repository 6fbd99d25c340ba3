package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg1MHz32() Config {
	return Config{
		HWWidth:           32,
		HWFreqNum:         1_000_000,
		HWFreqDenom:       1,
		HWHeadroomTicks:   1000,
		ForceFullHWPeriod: true,
	}
}

func TestTickCountAdvancesWithHWTicks(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	require.Equal(t, uint64(0), c.TickCount(0))
	// 1 MHz counter: 500_000 ticks == 500_000us.
	require.Equal(t, uint64(500_000), c.TickCount(500_000))
}

func TestTickCountNeverRegresses(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	a := c.TickCount(1_000_000)
	b := c.TickCount(999_999) // a hw reading "before" the last one, modulo wrap
	assert.GreaterOrEqual(t, b, a)
}

// S6 Tickless wrap: scenario from spec §8.
func TestWrapAroundAcrossFullHardwareCounter(t *testing.T) {
	c := New(cfg1MHz32(), 0)

	base := uint64(0xFFFFFFFFFFFE0000)
	// AdjustTime takes a signed delta and base is above math.MaxInt64, so
	// kernel time is brought to base with two forward adjustments of
	// base/2 each, with the hardware reference left at hw=0.
	_, err := c.AdjustTime(0, int64(base/2), 1<<62, nil)
	require.NoError(t, err)
	_, err = c.AdjustTime(0, int64(base/2), 1<<62, nil)
	require.NoError(t, err)
	require.Equal(t, base, c.Now())

	// Sleeping 0x40000 hardware ticks (us, at 1MHz) from hw=0 takes hwNow
	// to 0x40000; the hardware counter itself does not wrap, but kernel
	// time passes 2^64 and wraps, so the expected value is base+0x40000
	// modulo 2^64.
	hwNow := uint64(0x40000)
	now := c.TickCount(hwNow)

	want := base + 0x40000
	assert.GreaterOrEqual(t, now, want)
	assert.LessOrEqual(t, now-want, uint64(100_000)) // within 100ms
}

func TestMarkReferencePreservesKernelTime(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	before := c.TickCount(100_000)
	c.MarkReference(100_000)
	after := c.TickCount(100_000)
	assert.Equal(t, before, after)
}

func TestAdjustTimeForwardRejectedWhenTooCloseToDeadline(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	c.TickCount(0)
	deadline := uint64(1_000_000) // 1s out
	_, err := c.AdjustTime(0, 2_000_000, 500_000, &deadline)
	require.Error(t, err)
}

func TestAdjustTimeForwardAllowedWithinHeadroom(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	c.TickCount(0)
	deadline := uint64(2_000_000)
	now, err := c.AdjustTime(0, 1_900_000, 500_000, &deadline)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_900_000), now)
}

func TestAdjustTimeBackwardRejectedPastHeadroom(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	c.TickCount(5_000_000)
	_, err := c.AdjustTime(5_000_000, -4_000_000, 500_000, nil)
	require.Error(t, err)
}

func TestAdjustTimeBackwardAllowedWithinHeadroom(t *testing.T) {
	c := New(cfg1MHz32(), 0)
	c.TickCount(5_000_000)
	now, err := c.AdjustTime(5_000_000, -400_000, 500_000, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_600_000), now)
}

func TestMulDivU64ExactForLargeOperands(t *testing.T) {
	// a*b overflows a plain 64-bit multiply (2^40 * 10^9 ~= 1.1e21, far
	// past 2^64 ~= 1.8e19); mulDivU64 must still divide out exactly via
	// its 128-bit intermediate.
	a := uint64(1) << 40
	got := mulDivU64(a, 1_000_000_000, 1_000_000)
	assert.Equal(t, a*1_000, got)
}
