package servo

import (
	"errors"
	"math/rand"
	"testing"
)

func startChannel(t *testing.T, cfg Config, bits uint8) (*Channel, *fakeTimer) {
	t.Helper()
	ft := newFakeTimer(bits)
	cfg.CounterBits = bits
	ch, err := New(cfg, ft)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ft.isr = ch.HandleCompare
	ch.Start()
	return ch, ft
}

func TestStartupSequence(t *testing.T) {
	ch, ft := startChannel(t, DefaultConfig(), 32)

	want := []struct {
		compare uint32
		phase   Phase
	}{
		{10000, HighPhase},
		{11500, LowPhase},
		{30000, HighPhase},
		{31500, LowPhase},
		{50000, HighPhase},
	}

	for i, w := range want {
		if i > 0 && !ft.fire() {
			t.Fatalf("step %d: nothing armed", i)
		}
		if ft.compare != w.compare {
			t.Errorf("step %d: expected compare %d, got %d", i, w.compare, ft.compare)
		}
		if ch.phase != w.phase {
			t.Errorf("step %d: expected phase %v, got %v", i, w.phase, ch.phase)
		}
		if ft.mode != w.phase.Mode() {
			t.Errorf("step %d: expected mode %v, got %v", i, w.phase.Mode(), ft.mode)
		}
	}

	wantEdges := []edge{{10000, true}, {11500, false}, {30000, true}, {31500, false}}
	if len(ft.edges) != len(wantEdges) {
		t.Fatalf("Expected %d edges, got %d: %v", len(wantEdges), len(ft.edges), ft.edges)
	}
	for i, e := range wantEdges {
		if ft.edges[i] != e {
			t.Errorf("edge %d: expected %+v, got %+v", i, e, ft.edges[i])
		}
	}
}

func TestPeriodConservation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWidth = 500
	cfg.MaxWidth = 2500
	ch, ft := startChannel(t, cfg, 32)

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		if rnd.Intn(3) == 0 {
			ch.SetPulseWidth(uint32(rnd.Intn(4000)))
		}
		ft.fire()
	}

	highs, periods := ft.pulses()
	if len(periods) < 900 {
		t.Fatalf("Expected about 1000 periods, got %d", len(periods))
	}
	for i, p := range periods {
		if p != 20000 {
			t.Fatalf("period %d: expected 20000 ticks, got %d", i, p)
		}
		if highs[i] < 500 || highs[i] > 2500 {
			t.Fatalf("period %d: high %d outside clamp range", i, highs[i])
		}
	}
}

func TestGlitchFreeCommit(t *testing.T) {
	ch, ft := startChannel(t, DefaultConfig(), 32)

	ft.fire() // rise at 10000
	ch.SetPulseWidth(800)
	ch.SetPulseWidth(2200)
	ch.SetPulseWidth(1000)
	for i := 0; i < 3; i++ {
		ft.fire()
	}

	// A request during the low time is latched at the next falling edge
	ch.SetPulseWidth(2000)
	for i := 0; i < 5; i++ {
		ft.fire()
	}

	highs, periods := ft.pulses()
	wantHighs := []uint64{1500, 1000, 1000, 2000}
	if len(highs) < len(wantHighs) {
		t.Fatalf("Expected at least %d periods, got %d", len(wantHighs), len(highs))
	}
	for i, w := range wantHighs {
		if highs[i] != w {
			t.Errorf("period %d: expected high %d, got %d", i, w, highs[i])
		}
		if periods[i] != 20000 {
			t.Errorf("period %d: expected 20000 ticks, got %d", i, periods[i])
		}
	}
	if st := ch.Status(); st.Commits != 2 {
		t.Errorf("Expected 2 commits, got %d", st.Commits)
	}
}

func TestClampWidth(t *testing.T) {
	narrow := DefaultConfig()
	narrow.MinWidth = 500
	narrow.MaxWidth = 2500

	// 16 ticks per microsecond: requests past 2^32/16 us overflow 32 bits
	fast := DefaultConfig()
	fast.TickHz = 16000000

	testCases := []struct {
		name    string
		cfg     Config
		in      uint32
		want    uint32
		clamped bool
	}{
		{"zero", DefaultConfig(), 0, 1, true},
		{"period", DefaultConfig(), 20000, 19999, true},
		{"above period", DefaultConfig(), 65000, 19999, true},
		{"lowest legal", DefaultConfig(), 1, 1, false},
		{"highest legal", DefaultConfig(), 19999, 19999, false},
		{"neutral", DefaultConfig(), 1500, 1500, false},
		{"narrow low", narrow, 100, 500, true},
		{"narrow high", narrow, 3000, 2500, true},
		{"narrow in range", narrow, 2100, 2100, false},
		{"fast neutral", fast, 1500, 24000, false},
		{"fast wraps to in-range", fast, 268445456, 319999, true},
		{"fast wraps to one tick", fast, 268435456, 319999, true},
		{"fast max request", fast, 0xFFFFFFFF, 319999, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ch, err := New(tc.cfg, newFakeTimer(32))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			got, clamped := ch.ClampWidth(tc.in)
			if got != tc.want || clamped != tc.clamped {
				t.Errorf("ClampWidth(%d) = %d, %v; expected %d, %v", tc.in, got, clamped, tc.want, tc.clamped)
			}
		})
	}
}

func TestExtremeWidths(t *testing.T) {
	for _, req := range []uint32{0, 20000} {
		ch, ft := startChannel(t, DefaultConfig(), 16)
		ch.SetPulseWidth(req)
		for i := 0; i < 10; i++ {
			ft.fire()
		}

		highs, periods := ft.pulses()
		last := len(highs) - 1
		if last < 2 {
			t.Fatalf("request %d: too few periods (%d)", req, len(highs))
		}
		want, _ := ch.ClampWidth(req)
		if highs[last] != uint64(want) {
			t.Errorf("request %d: expected high %d, got %d", req, want, highs[last])
		}
		for i, p := range periods {
			if p != 20000 {
				t.Errorf("request %d period %d: expected 20000, got %d", req, i, p)
			}
		}
	}
}

func TestPhaseAlternation(t *testing.T) {
	ch, ft := startChannel(t, DefaultConfig(), 16)

	for k := 0; k <= 64; k++ {
		if k > 0 {
			ft.fire()
		}
		want := HighPhase
		if k%2 == 1 {
			want = LowPhase
		}
		if ch.phase != want {
			t.Fatalf("after %d events: expected %v, got %v", k, want, ch.phase)
		}
		if ch.events != uint32(k) {
			t.Fatalf("Expected %d events, got %d", k, ch.events)
		}
	}
}

func TestCounterWrap(t *testing.T) {
	ft := newFakeTimer(16)
	ft.now = 0xFFF0

	cfg := DefaultConfig()
	cfg.CounterBits = 16
	ch, err := New(cfg, ft)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ft.isr = ch.HandleCompare
	ch.Start()

	if ft.compare != (0xFFF0+10000)&0xFFFF {
		t.Fatalf("Expected wrapped startup compare, got %#x", ft.compare)
	}

	widths := []uint32{1000, 2000, 1234, 1900, 600}
	for i := 0; i < 400; i++ {
		if i%7 == 0 {
			ch.SetPulseWidth(widths[(i/7)%len(widths)])
		}
		ft.fire()
		if ft.compare > 0xFFFF {
			t.Fatalf("compare %#x exceeds 16 bits", ft.compare)
		}
	}

	_, periods := ft.pulses()
	for i, p := range periods {
		if p != 20000 {
			t.Fatalf("period %d across wrap: expected 20000, got %d", i, p)
		}
	}
	if st := ch.Status(); st.Late != 0 {
		t.Errorf("Expected no late compares, got %d", st.Late)
	}
}

// TestMaskInterleaving places a period-boundary compare event at every
// point of the producer's critical section and checks that the dispatcher
// never runs inside it and only ever observes whole widths.
func TestMaskInterleaving(t *testing.T) {
	const newWidth = 2100

	for pos := 0; pos <= 3; pos++ {
		ch, ft := startChannel(t, DefaultConfig(), 16)
		ft.fire() // rise; the next event is the falling edge that latches

		masked := false
		observed := []uint32{}
		ft.isr = func() {
			if masked {
				t.Errorf("pos %d: dispatcher ran inside the critical section", pos)
			}
			ch.HandleCompare()
			observed = append(observed, ch.width.current, ch.width.pending)
		}
		before := ft.delivered

		var m Mask
		steps := []func(){
			func() { m = AcquireMask(ft); masked = true },
			func() { ch.width.pending = newWidth },
			func() { masked = false; m.Release() },
		}
		for i, step := range steps {
			if i == pos {
				ft.fire()
			}
			step()
		}
		if pos == len(steps) {
			ft.fire()
		}

		if n := ft.delivered - before; n != 1 {
			t.Errorf("pos %d: expected exactly one delivery, got %d", pos, n)
		}
		for _, v := range observed {
			if v != 1500 && v != newWidth {
				t.Errorf("pos %d: observed torn width %d", pos, v)
			}
		}

		// Events before the write latch the old width; any event that
		// lands inside or after the critical section sees the new one.
		want := uint32(newWidth)
		if pos == 0 {
			want = 1500
		}
		if ch.width.current != want {
			t.Errorf("pos %d: expected current %d, got %d", pos, want, ch.width.current)
		}
		if ch.width.pending != newWidth {
			t.Errorf("pos %d: expected pending %d, got %d", pos, newWidth, ch.width.pending)
		}
		if !ft.enabled {
			t.Errorf("pos %d: compare interrupt left disabled", pos)
		}
	}
}

func TestMaskRestoresPriorState(t *testing.T) {
	ft := newFakeTimer(16)
	calls := 0
	ft.isr = func() { calls++ }

	m := AcquireMask(ft)
	m.Release()
	if ft.enabled {
		t.Error("Release enabled an interrupt that was disabled")
	}

	ft.enabled = true
	outer := AcquireMask(ft)
	inner := AcquireMask(ft)
	ft.pending = true
	inner.Release()
	if ft.enabled || calls != 0 {
		t.Errorf("inner release: enabled=%v calls=%d", ft.enabled, calls)
	}
	outer.Release()
	if !ft.enabled || calls != 1 {
		t.Errorf("outer release: enabled=%v calls=%d", ft.enabled, calls)
	}
}

func TestSpuriousCompare(t *testing.T) {
	ch, ft := startChannel(t, DefaultConfig(), 16)
	compare := ft.compare

	// Flag clear
	ch.HandleCompare()

	// Flag set but interrupt disabled
	ft.pending = true
	ft.enabled = false
	ch.HandleCompare()
	ft.enabled = true
	ft.pending = false

	st := ch.Status()
	if st.Spurious != 2 {
		t.Errorf("Expected 2 spurious calls, got %d", st.Spurious)
	}
	if st.Events != 0 || st.Phase != HighPhase || ft.compare != compare {
		t.Errorf("Spurious call changed state: %+v compare=%d", st, ft.compare)
	}
}

func TestComparePast(t *testing.T) {
	ch, ft := startChannel(t, DefaultConfig(), 16)
	ft.lag = 5000 // handler runs long after the match
	ft.fire()

	if st := ch.Status(); st.Late != 1 {
		t.Errorf("Expected 1 late compare, got %d", st.Late)
	}
}

func TestShutdownHoldsLow(t *testing.T) {
	ch, ft := startChannel(t, DefaultConfig(), 16)
	ft.fire() // output high

	ch.SetPulseWidth(1800)
	ch.Shutdown()

	if ft.level {
		t.Error("Expected output low after shutdown")
	}
	if ft.enabled {
		t.Error("Expected compare interrupt disabled after shutdown")
	}
	if ft.fire() {
		t.Error("Expected no armed compare after shutdown")
	}

	st := ch.Status()
	if st.Running {
		t.Error("Expected channel stopped")
	}
	if st.CurrentWidth != 1500 || st.PendingWidth != 1800 {
		t.Errorf("Expected widths kept across shutdown (1500, 1800), got (%d, %d)", st.CurrentWidth, st.PendingWidth)
	}

	// Restart resumes from the kept width
	ch.Start()
	ft.fire()
	ft.fire()
	if got := ft.edges[len(ft.edges)-1].at - ft.edges[len(ft.edges)-2].at; got != 1800 {
		t.Errorf("Expected 1800 tick pulse after restart, got %d", got)
	}
}

func TestTickConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickHz = 2000000
	ch, ft := startChannel(t, cfg, 32)

	if ft.compare != 20000 {
		t.Errorf("Expected startup compare 20000 ticks, got %d", ft.compare)
	}
	ft.fire()
	if ft.compare != 23000 {
		t.Errorf("Expected falling compare 23000 ticks, got %d", ft.compare)
	}
	ft.fire()
	if ft.compare != 60000 {
		t.Errorf("Expected next rising compare 60000 ticks, got %d", ft.compare)
	}
	if st := ch.Status(); st.CurrentWidth != 1500 {
		t.Errorf("Expected status in microseconds (1500), got %d", st.CurrentWidth)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"default", func(c *Config) {}, nil},
		{"zero initial", func(c *Config) { c.InitialWidth = 0 }, ErrWidthOutOfRange},
		{"initial equals period", func(c *Config) { c.InitialWidth = 20000 }, ErrWidthOutOfRange},
		{"inverted limits", func(c *Config) { c.MinWidth = 2500; c.MaxWidth = 500 }, ErrWidthOutOfRange},
		{"max at period", func(c *Config) { c.MaxWidth = 20000 }, ErrWidthOutOfRange},
		{"initial outside limits", func(c *Config) { c.MinWidth = 1600 }, ErrWidthOutOfRange},
		{"zero period", func(c *Config) { c.Period = 0 }, ErrInvalidPeriod},
		{"period beyond 16-bit half range", func(c *Config) { c.CounterBits = 16; c.Period = 40000 }, ErrInvalidPeriod},
		{"zero tick rate", func(c *Config) { c.TickHz = 0 }, ErrInvalidPeriod},
		{"counter too wide", func(c *Config) { c.CounterBits = 40 }, ErrCounterBits},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.want == nil {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}
