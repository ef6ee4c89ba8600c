//go:build rp2350

package main

import "device/rp"

// RP2350 TIMER0 memory map. The block moved and gained LOCKED and SOURCE
// ahead of the interrupt registers.
const (
	timerBase     = 0x400B0000
	timerALARM2   = timerBase + 0x18
	timerARMED    = timerBase + 0x20
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
	timerINTR     = timerBase + 0x3C
	timerINTE     = timerBase + 0x40

	alarmIRQ = rp.IRQ_TIMER0_IRQ_2
)
