// Package sim runs the servo channel against an emulated compare timer on
// the host, in virtual time or paced against a clock.
package sim

import (
	"sync"

	"servopulse/servo"
)

// CCP compare mode codes
const (
	ModeSetOnMatch   uint8 = 0b1000
	ModeClearOnMatch uint8 = 0b1001
)

// Edge is one output transition. At is the absolute tick, unaffected by
// counter wrap. Mode is the compare mode that produced the edge, zero for
// a forced level.
type Edge struct {
	At    uint64 `yaml:"at"`
	Level bool   `yaml:"level"`
	Mode  uint8  `yaml:"mode"`
}

// Timer emulates a CCP-style compare unit on a free running counter of
// CounterBits width. It implements servo.CompareTimer.
//
// The interrupt handler runs with mu held. Methods the handler calls (Now,
// Arm, CompareEnabled, ComparePending, ClearCompare) therefore do not lock;
// the control-loop methods do. Start must not race a running Machine.
//
// A match that lands while the interrupt is masked holds the counter until
// the mask is released, so a critical section takes no virtual time. The
// mask must not be held across a Machine run on the same goroutine.
type Timer struct {
	mu       sync.Mutex
	released *sync.Cond

	mask    uint32
	abs     uint64
	compare uint32
	mode    uint8
	armed   bool
	enabled bool
	flag    bool
	level   bool

	edges      []Edge
	isr        func()
	deliveries uint64
}

var _ servo.CompareTimer = (*Timer)(nil)

// NewTimer creates a stopped timer with a bits-wide counter
func NewTimer(bits uint8) *Timer {
	t := &Timer{mask: uint32((uint64(1) << bits) - 1)}
	t.released = sync.NewCond(&t.mu)
	return t
}

// SetHandler installs the compare interrupt handler
func (t *Timer) SetHandler(isr func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isr = isr
}

func (t *Timer) Now() uint32 {
	return uint32(t.abs) & t.mask
}

func (t *Timer) Arm(compare uint32, mode servo.OutputMode) {
	t.compare = compare & t.mask
	t.mode = encodeMode(mode)
	t.armed = true
}

func (t *Timer) CompareEnabled() bool { return t.enabled }
func (t *Timer) ComparePending() bool { return t.flag }
func (t *Timer) ClearCompare()        { t.flag = false }

func (t *Timer) EnableCompare() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	if t.flag {
		t.deliver()
	}
	t.released.Broadcast()
}

func (t *Timer) DisableCompare() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.enabled
	t.enabled = false
	return was
}

func (t *Timer) RestoreCompare(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if enabled && t.flag {
		t.deliver()
	}
	t.released.Broadcast()
}

func (t *Timer) HoldLow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.setLevel(false, 0)
	t.released.Broadcast()
}

// encodeMode maps an output mode to its CCP mode code
func encodeMode(m servo.OutputMode) uint8 {
	if m == servo.GenerateHigh {
		return ModeSetOnMatch
	}
	return ModeClearOnMatch
}

func (t *Timer) setLevel(level bool, mode uint8) {
	if level == t.level {
		return
	}
	t.level = level
	t.edges = append(t.edges, Edge{At: t.abs, Level: level, Mode: mode})
}

// deliver runs the handler. Called with mu held.
func (t *Timer) deliver() {
	if t.isr == nil {
		return
	}
	t.deliveries++
	t.isr()
}

// nextMatch returns the absolute tick of the armed compare. A compare
// equal to the counter matches after a full wrap.
func (t *Timer) nextMatch() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return 0, false
	}
	d := (t.compare - t.Now()) & t.mask
	if d == 0 {
		d = t.mask + 1
	}
	return t.abs + uint64(d), true
}

// advance moves the counter to the absolute tick at
func (t *Timer) advance(at uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at > t.abs {
		t.abs = at
	}
}

// match applies the armed compare at the current tick: the output mode
// acts on the pin, the flag latches and an enabled interrupt is delivered.
// A compare disarmed since nextMatch does nothing.
func (t *Timer) match() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return
	}
	t.setLevel(t.mode == ModeSetOnMatch, t.mode)
	t.flag = true
	if t.enabled {
		t.deliver()
		return
	}
	for t.armed && t.flag && !t.enabled {
		t.released.Wait()
	}
}

// Ticks returns the absolute tick count
func (t *Timer) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abs
}

// Level returns the output level
func (t *Timer) Level() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Edges returns a copy of the recorded transitions
func (t *Timer) Edges() []Edge {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Edge(nil), t.edges...)
}

// Deliveries returns how many times the handler ran
func (t *Timer) Deliveries() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deliveries
}
