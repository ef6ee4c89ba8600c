//go:build (rp2040 || rp2350) && !pwmservo

package main

import (
	"machine"
	"runtime/interrupt"

	"servopulse/servo"
)

const (
	alarmNum      = 2
	alarmBit      = 1 << alarmNum
	servoPriority = 0x00 // highest
)

// alarmTimer is the servo compare unit: TIMER alarm 2 and its interrupt.
// The alarm has no pin output of its own, so the interrupt drives the pin
// to the armed level before anything else runs.
type alarmTimer struct {
	pin     machine.Pin
	level   bool // level the armed alarm produces
	handler func()
}

// servoAlarm is the single alarm instance; the interrupt handler must be
// a plain function
var servoAlarm alarmTimer

func initAlarm(pin machine.Pin) *alarmTimer {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()

	servoAlarm.pin = pin
	intr := interrupt.New(alarmIRQ, handleAlarm)
	intr.SetPriority(servoPriority)
	intr.Enable()
	return &servoAlarm
}

func handleAlarm(interrupt.Interrupt) {
	a := &servoAlarm
	if intrReg.HasBits(alarmBit) {
		a.pin.Set(a.level)
	}
	if a.handler != nil {
		a.handler()
	}
}

func (a *alarmTimer) Now() uint32 {
	return rawlReg.Get()
}

// Arm writes the alarm target, which also arms it
func (a *alarmTimer) Arm(compare uint32, mode servo.OutputMode) {
	a.level = mode == servo.GenerateHigh
	alarmReg.Set(compare)
}

func (a *alarmTimer) CompareEnabled() bool {
	return inteReg.HasBits(alarmBit)
}

func (a *alarmTimer) ComparePending() bool {
	return intrReg.HasBits(alarmBit)
}

// ClearCompare acknowledges the alarm; INTR is write-one-to-clear
func (a *alarmTimer) ClearCompare() {
	intrReg.Set(alarmBit)
}

func (a *alarmTimer) EnableCompare() {
	inteReg.SetBits(alarmBit)
}

func (a *alarmTimer) DisableCompare() bool {
	enabled := inteReg.HasBits(alarmBit)
	inteReg.ClearBits(alarmBit)
	return enabled
}

// RestoreCompare re-enables the alarm interrupt if it was enabled. A match
// latched in INTR meanwhile raises the interrupt as soon as INTE is set.
func (a *alarmTimer) RestoreCompare(enabled bool) {
	if enabled {
		inteReg.SetBits(alarmBit)
	}
}

// HoldLow disarms the alarm and drives the pin low
func (a *alarmTimer) HoldLow() {
	armedReg.Set(alarmBit)
	a.level = false
	a.pin.Low()
}

// newOutput builds the servo channel on the alarm and starts it
func newOutput(cfg servo.Config) (servo.Controller, error) {
	cfg.CounterBits = 32
	a := initAlarm(servoPin)
	ch, err := servo.New(cfg, a)
	if err != nil {
		return nil, err
	}
	a.handler = ch.HandleCompare
	ch.Start()
	return ch, nil
}
