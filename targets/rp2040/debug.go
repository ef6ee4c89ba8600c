//go:build rp2040 || rp2350

package main

import (
	"machine"

	"servopulse/core"
	"servopulse/protocol"
)

var debugUART *machine.UART

// InitDebugUART routes core debug output and the timing ring dump to UART1
// on GP4 (TX) and GP5 (RX) at 115200 baud
func InitDebugUART() {
	uart := machine.UART1
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP4,
		RX:       machine.GP5,
	})
	if err != nil {
		return
	}
	debugUART = uart

	core.SetDebugWriter(debugWrite)
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
	core.DebugPrintln("[BOOT] servo pulse firmware " + protocol.Version)

	// Runs after the servo handler registered by InitServoCommands
	core.RegisterShutdownHandler(core.DumpTimingRing)
}

func debugWrite(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
