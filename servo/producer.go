package servo

import (
	"math/rand"

	"servopulse/core"
)

// WidthSetter accepts pulse width requests in microseconds
type WidthSetter interface {
	SetPulseWidth(us uint32)
}

// Policy chooses the next requested width
type Policy interface {
	NextWidth() uint32
}

// RandomPolicy requests widths uniformly from [Min, Min+Span)
type RandomPolicy struct {
	Min  uint32
	Span uint32
	rnd  *rand.Rand
}

// NewRandomPolicy returns a seeded random policy
func NewRandomPolicy(min, span uint32, seed int64) *RandomPolicy {
	return &RandomPolicy{Min: min, Span: span, rnd: rand.New(rand.NewSource(seed))}
}

func (p *RandomPolicy) NextWidth() uint32 {
	if p.Span == 0 {
		return p.Min
	}
	return p.Min + uint32(p.rnd.Int63n(int64(p.Span)))
}

// SweepPolicy walks between Min and Max in Step increments, reversing at
// each end
type SweepPolicy struct {
	Min  uint32
	Max  uint32
	Step uint32

	cur  uint32
	down bool
	init bool
}

func (p *SweepPolicy) NextWidth() uint32 {
	if !p.init || p.Step == 0 || p.Max <= p.Min {
		p.init = true
		p.cur = p.Min
		return p.cur
	}

	if p.down {
		if p.cur-p.Min <= p.Step {
			p.cur = p.Min
			p.down = false
		} else {
			p.cur -= p.Step
		}
	} else {
		if p.Max-p.cur <= p.Step {
			p.cur = p.Max
			p.down = true
		} else {
			p.cur += p.Step
		}
	}
	return p.cur
}

// ConstantPolicy always requests the same width
type ConstantPolicy uint32

func (p ConstantPolicy) NextWidth() uint32 {
	return uint32(p)
}

// Producer periodically feeds a Policy's widths to a WidthSetter from a
// scheduler timer
type Producer struct {
	Setter   WidthSetter
	Policy   Policy
	Interval uint32 // ticks

	timer    core.Timer
	sched    *core.Scheduler
	requests uint32
	stopped  bool
}

// NewProducer builds a producer firing every interval ticks
func NewProducer(setter WidthSetter, policy Policy, interval uint32) *Producer {
	return &Producer{Setter: setter, Policy: policy, Interval: interval}
}

// Start schedules the first request one interval after now
func (p *Producer) Start(s *core.Scheduler, now uint32) {
	p.sched = s
	p.stopped = false
	p.timer = core.Timer{
		WakeTime: now + p.Interval,
		Handler:  p.fire,
	}
	s.Schedule(&p.timer)
}

func (p *Producer) fire(t *core.Timer) uint8 {
	if p.stopped {
		return core.SF_DONE
	}
	p.Setter.SetPulseWidth(p.Policy.NextWidth())
	p.requests++

	t.WakeTime += p.Interval
	return core.SF_RESCHEDULE
}

// Stop cancels further requests
func (p *Producer) Stop() {
	p.stopped = true
	if p.sched != nil {
		p.sched.Cancel(&p.timer)
	}
}

// Requests returns the number of widths handed to the setter
func (p *Producer) Requests() uint32 {
	return p.requests
}
