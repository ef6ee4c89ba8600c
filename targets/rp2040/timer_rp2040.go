//go:build rp2040

package main

import "device/rp"

// RP2040 TIMER memory map. The timer counts microseconds from reset,
// matching core.TimerFreq.
const (
	timerBase     = 0x40054000
	timerALARM2   = timerBase + 0x18
	timerARMED    = timerBase + 0x20
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
	timerINTR     = timerBase + 0x34
	timerINTE     = timerBase + 0x38

	alarmIRQ = rp.IRQ_TIMER_IRQ_2
)
