package core

import (
	"errors"
	"testing"

	"servopulse/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("set_pulse_width", "width=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "set_pulse_width" {
		t.Errorf("Expected command name 'set_pulse_width', got '%s'", cmd.Name)
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	err := registry.Dispatch(999, &data)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand for unknown ID, got %v", err)
	}
}

func TestCommandRegistrySequentialIDs(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}
	if registry.Count() != 3 {
		t.Errorf("Expected 3 commands, got %d", registry.Count())
	}

	// Re-registering keeps the original ID
	if id := registry.Register("command2", "arg2=%u", nil); id != 1 {
		t.Errorf("Re-registration returned ID %d, want 1", id)
	}
}

func TestResponseRejectsDispatch(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.Register("servo_status", "width=%u", nil)

	var data []byte
	if err := registry.Dispatch(id, &data); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Dispatching a response should fail with ErrUnknownCommand, got %v", err)
	}
}

func TestDictionaryLines(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("identify_response", "offset=%u data=%*s", nil)
	registry.Register("get_clock", "", func(data *[]byte) error { return nil })

	want := "identify_response offset=%u data=%*s\nget_clock\n"
	if got := registry.GetDictionary(); got != want {
		t.Errorf("Dictionary = %q, want %q", got, want)
	}
}

func TestDictionaryChunk(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("get_clock", "", func(data *[]byte) error { return nil })
	dict := registry.GetDictionary() // "get_clock\n"

	tests := []struct {
		offset uint32
		count  uint8
		want   string
	}{
		{0, 4, "get_"},
		{4, 40, "clock\n"},
		{uint32(len(dict)), 40, ""},
		{100, 40, ""},
	}
	for _, tt := range tests {
		if got := string(registry.DictionaryChunk(tt.offset, tt.count)); got != tt.want {
			t.Errorf("DictionaryChunk(%d, %d) = %q, want %q", tt.offset, tt.count, got, tt.want)
		}
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32
	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("set_pulse_width", "width=%u", handler)

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 1500)
	data := output.Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if receivedValue != 1500 {
		t.Errorf("Expected value 1500, got %d", receivedValue)
	}
}
