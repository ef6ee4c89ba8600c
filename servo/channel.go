// Package servo generates a jitter-free servo pulse train from a single
// output-compare channel.
//
// The compare unit produces every edge in hardware. The interrupt only
// programs the next compare value, so interrupt latency never reaches the
// output as long as the handler finishes before the armed match.
package servo

import (
	"servopulse/core"
)

// Channel is one servo output: the two-phase compare state machine and its
// double-buffered width register
type Channel struct {
	cfg   Config
	timer CompareTimer

	period   uint32 // ticks
	startup  uint32 // ticks
	mask     uint32
	minWidth uint32 // ticks
	maxWidth uint32 // ticks

	// Dispatcher state. Read from the control loop only under a Mask.
	phase    Phase
	compare  uint32
	events   uint32
	periods  uint32
	commits  uint32
	late     uint32
	spurious uint32
	running  bool

	width widthBuffer
}

// New validates cfg and builds a stopped channel on timer
func New(cfg Config, timer CompareTimer) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lo, hi := cfg.widthLimits()
	initial := cfg.Ticks(cfg.InitialWidth)
	return &Channel{
		cfg:      cfg,
		timer:    timer,
		period:   cfg.Ticks(cfg.Period),
		startup:  cfg.Ticks(cfg.StartupOffset),
		mask:     cfg.counterMask(),
		minWidth: uint32(lo),
		maxWidth: uint32(hi),
		phase:    HighPhase,
		width:    widthBuffer{current: initial, pending: initial},
	}, nil
}

// Config returns the configuration the channel was built with
func (c *Channel) Config() Config {
	return c.cfg
}

// Start holds the output low and arms the first rising edge StartupOffset
// after the current counter value. The pending width becomes the first
// width output. The compare interrupt is enabled last.
func (c *Channel) Start() {
	c.timer.DisableCompare()
	c.timer.HoldLow()
	c.timer.ClearCompare()

	c.width.latch()
	c.phase = HighPhase
	c.compare = (c.timer.Now() + c.startup) & c.mask
	c.running = true
	c.timer.Arm(c.compare, c.phase.Mode())

	c.timer.EnableCompare()
}

// HandleCompare is the compare interrupt entry point. Invocations without
// an enabled and pending compare are counted and otherwise ignored, so the
// handler may sit on a shared interrupt line.
func (c *Channel) HandleCompare() {
	if !c.timer.CompareEnabled() || !c.timer.ComparePending() {
		c.spurious++
		return
	}
	c.timer.ClearCompare()
	if !c.running {
		core.RecordTiming(core.EvtSpurious, c.cfg.OID, c.compare, 0, 0)
		return
	}
	c.step()
}

// step advances the state machine by one compare event. The edge the event
// stands for has already been produced by the hardware.
//
// A rising edge arms the falling edge one width later. A falling edge arms
// the next rising edge the remainder of the period later, computed with the
// width that was just output, then latches the pending width. Each high
// and low pair therefore sums to exactly one period, and a new width only
// takes effect from the next rising edge.
func (c *Channel) step() {
	c.events++

	switch c.phase {
	case HighPhase:
		c.compare = (c.compare + c.width.current) & c.mask
		c.phase = LowPhase
	default:
		c.compare = (c.compare + c.period - c.width.current) & c.mask
		c.phase = HighPhase
		c.periods++
		if old, changed := c.width.latch(); changed {
			c.commits++
			core.RecordTiming(core.EvtCommit, c.cfg.OID, c.compare, old, c.width.current)
		}
	}

	c.timer.Arm(c.compare, c.phase.Mode())
	core.RecordTiming(core.EvtCompare, c.cfg.OID, c.compare, uint32(c.phase), c.width.current)

	if c.behind(c.timer.Now()) {
		c.late++
		core.RecordTiming(core.EvtComparePast, c.cfg.OID, c.compare, c.timer.Now(), 0)
	}
}

// behind reports whether the armed compare is at or before now in counter
// arithmetic; the hardware will only match it after a full wrap
func (c *Channel) behind(now uint32) bool {
	d := (c.compare - now) & c.mask
	return d == 0 || d > c.mask/2
}

// ClampWidth converts a width in microseconds to ticks and limits it to
// the configured range. The conversion is done in 64 bits so a request
// too large for a 32-bit tick count still clamps to the maximum.
func (c *Channel) ClampWidth(us uint32) (ticks uint32, clamped bool) {
	w, clamped := clamp(c.cfg.Ticks64(uint64(us)), uint64(c.minWidth), uint64(c.maxWidth))
	return uint32(w), clamped
}

// SetPulseWidth requests a new pulse width in microseconds. Out of range
// requests are clamped. The request replaces any pending width and is
// output from the next period boundary. Safe to call from any context
// except the compare interrupt.
func (c *Channel) SetPulseWidth(us uint32) {
	w, _ := c.ClampWidth(us)

	m := AcquireMask(c.timer)
	defer m.Release()

	c.width.pending = w
	core.RecordTiming(core.EvtWidthRequest, c.cfg.OID, c.compare, us, w)
}

// Shutdown stops edge generation and holds the output low. Both widths
// are kept; Start resumes from the pending one.
func (c *Channel) Shutdown() {
	c.timer.DisableCompare()
	c.timer.HoldLow()
	c.running = false
	core.RecordTiming(core.EvtShutdown, c.cfg.OID, c.compare, c.width.current, 0)
}

// Status is a consistent snapshot of the channel. Widths are in
// microseconds.
type Status struct {
	Running      bool
	Phase        Phase
	Compare      uint32
	CurrentWidth uint32
	PendingWidth uint32
	Events       uint32
	Periods      uint32
	Commits      uint32
	Late         uint32
	Spurious     uint32
}

// Status returns a snapshot taken under the compare mask
func (c *Channel) Status() Status {
	m := AcquireMask(c.timer)
	defer m.Release()

	return Status{
		Running:      c.running,
		Phase:        c.phase,
		Compare:      c.compare,
		CurrentWidth: c.cfg.Micros(c.width.current),
		PendingWidth: c.cfg.Micros(c.width.pending),
		Events:       c.events,
		Periods:      c.periods,
		Commits:      c.commits,
		Late:         c.late,
		Spurious:     c.spurious,
	}
}
