//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"servopulse/core"
	"servopulse/protocol"
	"servopulse/servo"
)

// Servo output and local producer settings
const (
	servoPin         = machine.GP15
	producerMinUS    = 500
	producerSpanUS   = 2000
	producerInterval = 500000 // ticks
)

var (
	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	// Debug counters
	messagesReceived uint32
	messagesSent     uint32
	msgerrors        uint32

	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func servoConfig() servo.Config {
	cfg := servo.DefaultConfig()
	cfg.MinWidth = 500
	cfg.MaxWidth = 2500
	return cfg
}

func main() {
	// Disable a watchdog left running by a previous image
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	UpdateSystemTime()

	output, err := newOutput(servoConfig())
	if err != nil {
		// No safe output to drive; blink and stay put
		blinkForever()
	}

	// Random widths until the host sends its first one
	producer := servo.NewProducer(output,
		servo.NewRandomPolicy(producerMinUS, producerSpanUS, int64(GetHardwareTime())),
		producerInterval)
	producer.Start(core.DefaultScheduler(), core.GetTime())

	core.InitCoreCommands()
	servo.InitServoCommands(output, producer.Stop)
	InitDebugUART()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	// Each ACK flushes the replies queued ahead of it
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	go usbReaderLoop()

	for {
		// Recover from panics in the main loop to keep the servo running
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				transport.Receive(inputBuffer)
				messagesReceived++
			}

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
				messagesSent++
			}

			core.ProcessTimers()
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	// Recover from panics to prevent a firmware crash
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		// Leave bytes in the USB FIFO until the main loop makes room
		if inputBuffer.Free() == 0 {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// Fresh framing state after a disconnect
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				messagesReceived = 0
				messagesSent = 0
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// handleCommand dispatches received commands to the command registry
func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// writeUSB writes available data from output buffer to USB
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Likely a disconnect; drop stale data after repeated failures
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

func blinkForever() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
