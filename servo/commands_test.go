package servo

import (
	"errors"
	"testing"

	"servopulse/core"
	"servopulse/protocol"
)

func setupCommands(t *testing.T) (*Channel, *fakeTimer, *protocol.ScratchOutput, *int) {
	t.Helper()
	core.ResetCommands()
	t.Cleanup(func() {
		core.ResetCommands()
		core.SetGlobalTransport(nil)
	})

	ch, ft := startChannel(t, DefaultConfig(), 16)

	out := protocol.NewScratchOutput()
	core.SetGlobalTransport(protocol.NewTransport(out, nil))
	core.InitCoreCommands()

	hostWidths := 0
	InitServoCommands(ch, func() { hostWidths++ })
	return ch, ft, out, &hostWidths
}

func dispatchByName(t *testing.T, name string, args ...uint32) error {
	t.Helper()
	cmd, ok := core.GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	buf := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQUint(buf, a)
	}
	data := buf.Result()
	return core.DispatchCommand(cmd.ID, &data)
}

func TestCommandRegistrationOrder(t *testing.T) {
	setupCommands(t)

	want := []string{
		"identify_response", "identify", "get_clock", "clock",
		"set_pulse_width", "get_servo_status", "servo_status", "shutdown_servo",
	}
	reg := core.GetGlobalRegistry()
	for id, name := range want {
		cmd, ok := reg.GetCommand(uint16(id))
		if !ok || cmd.Name != name {
			t.Errorf("ID %d: expected %s, got %+v", id, name, cmd)
		}
	}
}

func TestSetPulseWidthCommand(t *testing.T) {
	ch, _, _, hostWidths := setupCommands(t)

	if err := dispatchByName(t, "set_pulse_width", 2100); err != nil {
		t.Fatalf("set_pulse_width failed: %v", err)
	}
	if st := ch.Status(); st.PendingWidth != 2100 {
		t.Errorf("Expected pending 2100, got %d", st.PendingWidth)
	}
	if *hostWidths != 1 {
		t.Errorf("Expected host width callback once, got %d", *hostWidths)
	}

	// Missing argument
	if err := dispatchByName(t, "set_pulse_width"); err == nil {
		t.Error("Expected error for missing width")
	}
}

func TestServoStatusResponse(t *testing.T) {
	_, ft, out, _ := setupCommands(t)
	ft.fire()

	if err := dispatchByName(t, "get_servo_status"); err != nil {
		t.Fatalf("get_servo_status failed: %v", err)
	}

	frame := out.Result()
	if len(frame) < protocol.MessageLengthMin || int(frame[0]) != len(frame) {
		t.Fatalf("Expected one complete frame, got % x", frame)
	}
	payload := frame[protocol.MessageHeaderSize : len(frame)-protocol.MessageTrailerSize]

	var fields []uint32
	for len(payload) > 0 {
		v, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		fields = append(fields, v)
	}

	resp, _ := core.GetGlobalRegistry().GetCommandByName("servo_status")
	// id, clock, phase, width, pending, periods
	if len(fields) != 6 || fields[0] != uint32(resp.ID) {
		t.Fatalf("Unexpected servo_status payload %v", fields)
	}
	if fields[2] != uint32(LowPhase) || fields[3] != 1500 || fields[4] != 1500 || fields[5] != 0 {
		t.Errorf("Unexpected status fields %v", fields[1:])
	}
}

func TestShutdownCommand(t *testing.T) {
	ch, ft, _, _ := setupCommands(t)
	ft.fire()

	if err := dispatchByName(t, "shutdown_servo"); err != nil {
		t.Fatalf("shutdown_servo failed: %v", err)
	}
	if !core.IsShutdown() {
		t.Error("Expected firmware shutdown")
	}
	if ft.level || ft.enabled {
		t.Errorf("Expected output held low and interrupt off, level=%v enabled=%v", ft.level, ft.enabled)
	}

	err := dispatchByName(t, "set_pulse_width", 1800)
	if !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	if st := ch.Status(); st.PendingWidth != 1500 {
		t.Errorf("Expected width unchanged after shutdown, got %d", st.PendingWidth)
	}
}
