package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler keeps timers sorted by wake time. WakeTime comparisons use
// TimerIsBefore so a schedule survives counter wrap.
type Scheduler struct {
	list *Timer
}

var defaultScheduler = &Scheduler{}

// DefaultScheduler returns the scheduler serviced by ProcessTimers
func DefaultScheduler() *Scheduler {
	return defaultScheduler
}

// ScheduleTimer adds a timer to the default schedule
func ScheduleTimer(t *Timer) {
	defaultScheduler.Schedule(t)
}

// Schedule adds a timer to the schedule
func (s *Scheduler) Schedule(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	s.insert(t)
}

// Cancel removes a timer if it is scheduled. Reports whether it was.
func (s *Scheduler) Cancel(t *Timer) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	prev := &s.list
	for cur := s.list; cur != nil; cur = cur.Next {
		if cur == t {
			*prev = cur.Next
			cur.Next = nil
			return true
		}
		prev = &cur.Next
	}
	return false
}

// NextWake returns the wake time of the earliest timer
func (s *Scheduler) NextWake() (uint32, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if s.list == nil {
		return 0, false
	}
	return s.list.WakeTime, true
}

// Len returns the number of scheduled timers
func (s *Scheduler) Len() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	n := 0
	for cur := s.list; cur != nil; cur = cur.Next {
		n++
	}
	return n
}

// insert inserts a timer in sorted order by WakeTime.
// Timers with equal wake times run in insertion order.
func (s *Scheduler) insert(t *Timer) {
	if s.list == nil || TimerIsBefore(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}

	current := s.list
	for current.Next != nil && !TimerIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Dispatch runs every timer whose WakeTime is at or before now.
// Handlers run with interrupts enabled; a handler may call Schedule or Cancel.
func (s *Scheduler) Dispatch(now uint32) {
	for {
		state := disableInterrupts()
		timer := s.list
		if timer == nil || TimerIsBefore(now, timer.WakeTime) {
			restoreInterrupts(state)
			return
		}
		s.list = timer.Next
		timer.Next = nil
		restoreInterrupts(state)

		if timer.Handler(timer) == SF_RESCHEDULE {
			s.Schedule(timer)
		}
	}
}
