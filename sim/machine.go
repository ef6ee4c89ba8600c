package sim

import (
	"sort"

	"servopulse/core"
	"servopulse/servo"
)

type hook struct {
	at  uint64
	seq int
	fn  func()
}

// Machine is a virtual-time event loop around one channel. It jumps the
// counter from event to event: compare matches, scheduler timers and hooks
// registered with At. Each compare match is delivered to the dispatcher
// exactly once.
type Machine struct {
	Timer   *Timer
	Channel *servo.Channel
	Sched   *core.Scheduler

	// Control is the channel as seen from other goroutines. Code running
	// on the Machine goroutine, such as hooks and scheduler timers, may use
	// Channel directly.
	Control *Control

	// ProducerFirst runs hooks and scheduler timers due on the tick of a
	// compare match before the match instead of after it
	ProducerFirst bool

	period uint64
	hooks  []hook
	seq    int
}

// NewMachine builds a channel for cfg on a fresh emulated timer
func NewMachine(cfg servo.Config) (*Machine, error) {
	t := NewTimer(cfg.CounterBits)
	ch, err := servo.New(cfg, t)
	if err != nil {
		return nil, err
	}
	t.SetHandler(ch.HandleCompare)

	return &Machine{
		Timer:   t,
		Channel: ch,
		Sched:   &core.Scheduler{},
		Control: &Control{ch: ch},
		period:  uint64(cfg.Ticks(cfg.Period)),
	}, nil
}

// Start starts the channel at the current tick
func (m *Machine) Start() {
	m.Control.mu.Lock()
	defer m.Control.mu.Unlock()
	m.Channel.Start()
}

// Clock returns the low 32 bits of the absolute tick, the timebase of
// Sched
func (m *Machine) Clock() uint32 {
	return uint32(m.Timer.Ticks())
}

// At runs fn when the machine reaches absolute tick at. Hooks sharing a
// tick run in registration order.
func (m *Machine) At(at uint64, fn func()) {
	m.hooks = append(m.hooks, hook{at: at, seq: m.seq, fn: fn})
	m.seq++
	sort.SliceStable(m.hooks, func(i, j int) bool {
		return m.hooks[i].at < m.hooks[j].at
	})
}

type eventKind int

const (
	evtNone eventKind = iota
	evtCompare
	evtHook
	evtTimer
)

// nextEvent picks the earliest pending event
func (m *Machine) nextEvent() (uint64, eventKind) {
	now := m.Timer.Ticks()

	var (
		bestAt   uint64
		bestKind = evtNone
	)
	consider := func(at uint64, kind eventKind) {
		switch {
		case bestKind == evtNone || at < bestAt:
			bestAt, bestKind = at, kind
		case at == bestAt && (kind == evtCompare) != m.ProducerFirst:
			bestKind = kind
		}
	}

	if len(m.hooks) > 0 {
		at := m.hooks[0].at
		if at < now {
			at = now
		}
		consider(at, evtHook)
	}
	if wake, ok := m.Sched.NextWake(); ok {
		delta := wake - uint32(now)
		at := now
		if int32(delta) > 0 {
			at += uint64(delta)
		}
		consider(at, evtTimer)
	}
	if at, ok := m.Timer.nextMatch(); ok {
		consider(at, evtCompare)
	}
	return bestAt, bestKind
}

// RunUntil processes every event up to and including absolute tick end
// and leaves the counter at end
func (m *Machine) RunUntil(end uint64) {
	for {
		at, kind := m.nextEvent()
		if kind == evtNone || at > end {
			m.Timer.advance(end)
			return
		}
		m.Timer.advance(at)

		switch kind {
		case evtCompare:
			m.Timer.match()
		case evtHook:
			h := m.hooks[0]
			m.hooks = m.hooks[1:]
			h.fn()
		case evtTimer:
			m.Sched.Dispatch(uint32(at))
		}
	}
}

// RunFor advances the machine by ticks
func (m *Machine) RunFor(ticks uint64) {
	m.RunUntil(m.Timer.Ticks() + ticks)
}

// RunPeriods advances the machine by n servo periods
func (m *Machine) RunPeriods(n int) {
	m.RunFor(uint64(n) * m.period)
}

// Edges returns the recorded output transitions
func (m *Machine) Edges() []Edge {
	return m.Timer.Edges()
}
