package servo

import (
	"errors"
	"fmt"

	"servopulse/core"
)

var (
	ErrInvalidPeriod   = errors.New("invalid servo period")
	ErrWidthOutOfRange = errors.New("pulse width out of range")
	ErrCounterBits     = errors.New("counter width must be 8 to 32 bits")
)

// Config describes one servo output. Durations are in microseconds.
type Config struct {
	OID uint8

	// Period is the fixed pulse period
	Period uint32
	// StartupOffset delays the first rising edge after Start
	StartupOffset uint32
	// InitialWidth is the neutral position used until a producer runs
	InitialWidth uint32
	// MinWidth and MaxWidth bound requested widths. Zero selects the
	// widest legal bound: one tick and one tick short of the period.
	MinWidth uint32
	MaxWidth uint32

	// TickHz is the compare counter rate
	TickHz uint32
	// CounterBits is the compare counter width; compare arithmetic wraps
	// modulo 2^CounterBits
	CounterBits uint8
}

// DefaultConfig returns a 50 Hz servo centered at 1.5 ms on a 1 MHz,
// 32-bit counter
func DefaultConfig() Config {
	return Config{
		Period:        20000,
		StartupOffset: 10000,
		InitialWidth:  1500,
		TickHz:        core.TimerFreq,
		CounterBits:   32,
	}
}

// Ticks converts microseconds to counter ticks
func (c Config) Ticks(us uint32) uint32 {
	return uint32(uint64(us) * uint64(c.TickHz) / 1000000)
}

// Ticks64 converts a long duration in microseconds to ticks
func (c Config) Ticks64(us uint64) uint64 {
	return us * uint64(c.TickHz) / 1000000
}

// Micros converts counter ticks to microseconds
func (c Config) Micros(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / uint64(c.TickHz))
}

func (c Config) counterMask() uint32 {
	return uint32((uint64(1) << c.CounterBits) - 1)
}

// widthLimits returns the clamp bounds in ticks
func (c Config) widthLimits() (uint64, uint64) {
	period := c.Ticks64(uint64(c.Period))
	lo, hi := uint64(1), period-1
	if c.MinWidth != 0 {
		lo = c.Ticks64(uint64(c.MinWidth))
	}
	if c.MaxWidth != 0 {
		hi = c.Ticks64(uint64(c.MaxWidth))
	}
	return lo, hi
}

// Validate checks that the period fits the counter and that every width
// bound lies inside (0, Period)
func (c Config) Validate() error {
	if c.CounterBits < 8 || c.CounterBits > 32 {
		return fmt.Errorf("%d: %w", c.CounterBits, ErrCounterBits)
	}
	if c.TickHz == 0 {
		return fmt.Errorf("tick rate is zero: %w", ErrInvalidPeriod)
	}

	half := uint64(c.counterMask() / 2)
	period := c.Ticks64(uint64(c.Period))
	if period < 2 || period > half {
		return fmt.Errorf("period %d ticks must be in [2, %d]: %w", period, half, ErrInvalidPeriod)
	}
	if c.Ticks64(uint64(c.StartupOffset)) > half {
		return fmt.Errorf("startup offset %dus exceeds half the counter range: %w", c.StartupOffset, ErrInvalidPeriod)
	}

	lo, hi := c.widthLimits()
	if lo == 0 || lo > hi || hi >= period {
		return fmt.Errorf("limits [%d, %d] ticks outside (0, %d): %w", lo, hi, period, ErrWidthOutOfRange)
	}
	if w := c.Ticks64(uint64(c.InitialWidth)); w < lo || w > hi {
		return fmt.Errorf("initial width %dus: %w", c.InitialWidth, ErrWidthOutOfRange)
	}
	return nil
}
