package servo

import (
	"errors"

	"servopulse/core"
	"servopulse/protocol"
)

// ErrShutdown is returned for width requests received after shutdown
var ErrShutdown = errors.New("servo is shut down")

// Controller is the channel surface exposed to the host
type Controller interface {
	WidthSetter
	Status() Status
	Shutdown()
}

// InitServoCommands registers the servo commands for ctl and hooks its
// Shutdown into the firmware shutdown path. onHostWidth, if set, runs
// after every host width request; firmware uses it to stop a local
// producer once the host takes over.
func InitServoCommands(ctl Controller, onHostWidth func()) {
	core.RegisterCommand("set_pulse_width", "width=%u", func(data *[]byte) error {
		width, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		if core.IsShutdown() {
			return ErrShutdown
		}
		if onHostWidth != nil {
			onHostWidth()
		}
		ctl.SetPulseWidth(width)
		return nil
	})

	core.RegisterCommand("get_servo_status", "", func(data *[]byte) error {
		st := ctl.Status()
		clock := core.GetTime()
		core.SendResponse("servo_status", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, clock)
			protocol.EncodeVLQUint(output, uint32(st.Phase))
			protocol.EncodeVLQUint(output, st.CurrentWidth)
			protocol.EncodeVLQUint(output, st.PendingWidth)
			protocol.EncodeVLQUint(output, st.Periods)
		})
		return nil
	})
	core.RegisterResponse("servo_status", "clock=%u phase=%c width=%u pending=%u periods=%u")

	core.RegisterCommand("shutdown_servo", "", func(data *[]byte) error {
		core.TryShutdown("host request")
		return nil
	})

	core.RegisterShutdownHandler(ctl.Shutdown)
}
