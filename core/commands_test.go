package core

import (
	"testing"

	"servopulse/protocol"
)

func TestCoreCommandIDs(t *testing.T) {
	ResetCommands()
	defer ResetCommands()
	InitCoreCommands()

	for name, want := range map[string]uint16{"identify_response": 0, "identify": 1} {
		cmd, ok := GetGlobalRegistry().GetCommandByName(name)
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		if cmd.ID != want {
			t.Errorf("%s has ID %d, want %d", name, cmd.ID, want)
		}
	}
}

func TestIdentifyAndClockResponses(t *testing.T) {
	ResetCommands()
	defer ResetCommands()
	InitCoreCommands()

	out := protocol.NewScratchOutput()
	transport := protocol.NewTransport(out, nil)
	SetGlobalTransport(transport)
	defer SetGlobalTransport(nil)

	SetTime(4242)
	getClock, _ := GetGlobalRegistry().GetCommandByName("get_clock")
	var data []byte
	if err := DispatchCommand(getClock.ID, &data); err != nil {
		t.Fatalf("get_clock failed: %v", err)
	}
	if len(out.Result()) == 0 {
		t.Fatal("get_clock produced no response frame")
	}
	out.Reset()

	args := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(args, 0)
	protocol.EncodeVLQUint(args, 8)
	data = args.Result()
	if err := DispatchCommand(1, &data); err != nil {
		t.Fatalf("identify failed: %v", err)
	}
	if len(out.Result()) == 0 {
		t.Fatal("identify produced no response frame")
	}
}

func TestTryShutdownRunsHandlersOnce(t *testing.T) {
	ResetCommands()
	defer ResetCommands()

	calls := 0
	RegisterShutdownHandler(func() { calls++ })

	if IsShutdown() {
		t.Fatal("Firmware starts shut down")
	}
	TryShutdown("test")
	TryShutdown("again")

	if !IsShutdown() {
		t.Error("Expected shutdown state")
	}
	if calls != 1 {
		t.Errorf("Shutdown handler ran %d times, want 1", calls)
	}

	ResetFirmwareState()
	if IsShutdown() {
		t.Error("ResetFirmwareState did not clear shutdown")
	}
}

func TestSendResponsePanicsOnUnregistered(t *testing.T) {
	ResetCommands()
	defer ResetCommands()
	SetGlobalTransport(protocol.NewTransport(protocol.NewScratchOutput(), nil))
	defer SetGlobalTransport(nil)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic for an unregistered response")
		}
	}()
	SendResponse("no_such_response", nil)
}
