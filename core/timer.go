package core

import "sync/atomic"

// TimerFreq is the rate of the free-running compare counter.
// The RP2040 TIMER peripheral counts microseconds.
const (
	TimerFreq = 1000000
)

var systemTicks uint32 // atomic

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	atomic.StoreUint32(&systemTicks, ticks)
}

// TimerIsBefore reports whether time a comes before time b.
// Valid across counter wrap as long as the two are less than half the
// counter range apart.
func TimerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ProcessTimers runs every default-scheduler timer that is due
func ProcessTimers() {
	defaultScheduler.Dispatch(GetTime())
}
