//go:build (rp2040 || rp2350) && pwmservo

package main

import (
	"errors"
	"machine"

	drvservo "tinygo.org/x/drivers/servo"

	"servopulse/servo"
)

// pwmFrame is the fixed frame of the driver's 50Hz PWM setup
const pwmFrame = 20000

var errPWMPeriod = errors.New("pwm servo output requires a 20000us period")

// pwmOutput drives the servo from a hardware PWM slice instead of the
// alarm. The slice latches a new duty at its wrap, so width changes are
// also applied at a period boundary.
type pwmOutput struct {
	cfg     servo.Config
	s       drvservo.Servo
	width   uint32
	running bool
}

// newOutput configures the PWM slice of servoPin. GPIO15 is on slice 7.
func newOutput(cfg servo.Config) (servo.Controller, error) {
	if cfg.Period != pwmFrame {
		return nil, errPWMPeriod
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s, err := drvservo.New(machine.PWM7, servoPin)
	if err != nil {
		return nil, err
	}
	o := &pwmOutput{cfg: cfg, s: s, running: true}
	o.set(cfg.InitialWidth)
	return o, nil
}

func (o *pwmOutput) set(us uint32) {
	o.width = us
	o.s.SetMicroseconds(int16(us))
}

// SetPulseWidth clamps us to the configured limits and updates the duty
func (o *pwmOutput) SetPulseWidth(us uint32) {
	if !o.running {
		return
	}
	lo, hi := o.cfg.MinWidth, o.cfg.MaxWidth
	if lo == 0 {
		lo = 1
	}
	if hi == 0 {
		hi = o.cfg.Period - 1
	}
	switch {
	case us < lo:
		us = lo
	case us > hi:
		us = hi
	}
	o.set(us)
}

func (o *pwmOutput) Status() servo.Status {
	return servo.Status{
		Running:      o.running,
		Phase:        servo.HighPhase,
		CurrentWidth: o.width,
		PendingWidth: o.width,
	}
}

// Shutdown sets the duty to zero, holding the pin low
func (o *pwmOutput) Shutdown() {
	o.running = false
	o.s.SetMicroseconds(0)
}
