package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	OID       uint8  // Object ID (servo channel)
	Clock     uint32 // Compare value or system clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtCompare      = 1 // compare match handled, Clock=next compare, Value1=phase armed next, Value2=current width
	EvtCommit       = 2 // pending width latched, Value1=old width, Value2=new width
	EvtWidthRequest = 3 // producer wrote pending width, Value1=requested, Value2=stored
	EvtComparePast  = 4 // re-armed compare already behind the counter
	EvtSpurious     = 5 // dispatcher invoked without a pending compare
	EvtShutdown     = 6 // channel shut down, output held low
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Timing capture ring buffer (non-blocking, for post-mortem)
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8        // Next write position
	timingEnabled  bool  = true // Always capture timing events

	// Async debug output channel and its worker's exit signal
	debugChan chan string
	debugDone chan struct{}
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// InitAsyncDebug starts the async debug output goroutine. Once it runs,
// DumpTimingRing queues its lines instead of writing them.
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, TimingRingSize+8)
	debugDone = make(chan struct{})
	go debugOutputWorker(debugChan, debugDone)
}

func debugOutputWorker(msgs <-chan string, done chan<- struct{}) {
	defer close(done)
	for msg := range msgs {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output.
// Drops the message if the channel is full.
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// SetTimingEnabled turns timing capture on or off
func SetTimingEnabled(enabled bool) {
	timingEnabled = enabled
}

// RecordTiming captures a timing event in the ring buffer.
// Safe to call from the compare interrupt.
func RecordTiming(eventType, oid uint8, clock, value1, value2 uint32) {
	if !timingEnabled {
		return
	}
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		OID:       oid,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
}

// TimingEvents returns the captured events, oldest first
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue
		}
		events = append(events, evt)
	}
	return events
}

// TimingEventName returns the dump label of an event type
func TimingEventName(eventType uint8) string {
	switch eventType {
	case EvtCompare:
		return "COMPARE"
	case EvtCommit:
		return "COMMIT"
	case EvtWidthRequest:
		return "WIDTH_REQ"
	case EvtComparePast:
		return "COMPARE_PAST!"
	case EvtSpurious:
		return "SPURIOUS"
	case EvtShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing outputs the timing ring buffer (call on shutdown/error).
// With the async worker running the lines are queued, so a shutdown
// handler does not wait on the debug UART.
func DumpTimingRing() {
	emit := debugPrintln
	if debugChan != nil {
		emit = DebugAsync
	}
	if emit == nil {
		return
	}

	emit("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		emit("[TIMING] " + TimingEventName(evt.EventType) +
			" oid=" + utoa(uint32(evt.OID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	emit("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
