package servo

// edge is one output transition at an absolute (unwrapped) tick
type edge struct {
	at    uint64
	level bool
}

// fakeTimer is a minimal compare unit. fire advances the counter straight
// to the armed compare, applies the output mode and delivers the interrupt
// if it is enabled; a flag latched while disabled is delivered by
// RestoreCompare.
type fakeTimer struct {
	mask    uint32
	now     uint32
	abs     uint64
	compare uint32
	mode    OutputMode
	armed   bool
	enabled bool
	pending bool
	level   bool
	edges   []edge
	lag     uint32 // added to Now, models handler latency

	isr       func()
	delivered int
}

func newFakeTimer(bits uint8) *fakeTimer {
	return &fakeTimer{mask: uint32((uint64(1) << bits) - 1)}
}

func (f *fakeTimer) Now() uint32 { return (f.now + f.lag) & f.mask }

func (f *fakeTimer) Arm(compare uint32, mode OutputMode) {
	f.compare = compare
	f.mode = mode
	f.armed = true
}

func (f *fakeTimer) CompareEnabled() bool { return f.enabled }
func (f *fakeTimer) ComparePending() bool { return f.pending }
func (f *fakeTimer) ClearCompare()        { f.pending = false }
func (f *fakeTimer) EnableCompare()       { f.enabled = true }

func (f *fakeTimer) DisableCompare() bool {
	was := f.enabled
	f.enabled = false
	return was
}

func (f *fakeTimer) RestoreCompare(enabled bool) {
	f.enabled = enabled
	if enabled && f.pending {
		f.deliver()
	}
}

func (f *fakeTimer) HoldLow() {
	f.armed = false
	if f.level {
		f.level = false
		f.edges = append(f.edges, edge{at: f.abs, level: false})
	}
}

func (f *fakeTimer) deliver() {
	if f.isr == nil {
		return
	}
	f.delivered++
	f.isr()
}

// fire runs the counter to the next match. It reports false if nothing
// is armed.
func (f *fakeTimer) fire() bool {
	if !f.armed {
		return false
	}
	d := (f.compare - f.now) & f.mask
	if d == 0 {
		d = f.mask + 1
	}
	f.abs += uint64(d)
	f.now = f.compare

	level := f.mode == GenerateHigh
	if level != f.level {
		f.level = level
		f.edges = append(f.edges, edge{at: f.abs, level: level})
	}
	f.pending = true
	if f.enabled {
		f.deliver()
	}
	return true
}

// pulses splits the recorded edges into (high, period) pairs measured from
// each rising edge to the next
func (f *fakeTimer) pulses() (highs, periods []uint64) {
	var rise, fall uint64
	seenRise := false
	for _, e := range f.edges {
		if e.level {
			if seenRise {
				highs = append(highs, fall-rise)
				periods = append(periods, e.at-rise)
			}
			rise = e.at
			seenRise = true
		} else {
			fall = e.at
		}
	}
	return highs, periods
}
