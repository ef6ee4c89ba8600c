package core

import (
	"sync/atomic"

	"servopulse/protocol"
)

var (
	// Global transport for sending responses (set by main)
	globalTransport *protocol.Transport

	isShutdown       uint32 // atomic bool
	shutdownHandlers []func()
)

// InitCoreCommands registers the bootstrap commands.
// identify_response and identify must hold IDs 0 and 1: the host uses
// them to fetch the dictionary that names every other ID.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s") // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterResponse("clock", "clock=%u")
}

// handleIdentify returns chunks of the command dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := globalRegistry.DictionaryChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// handleGetClock returns the current clock value
func handleGetClock(data *[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

// SendResponse sends a response message using the global transport.
// Unregistered response names panic: every response is declared at init.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("Response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// SetGlobalTransport sets the global transport for sending responses
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// RegisterShutdownHandler adds a function run once by TryShutdown
func RegisterShutdownHandler(handler func()) {
	shutdownHandlers = append(shutdownHandlers, handler)
}

// TryShutdown puts the firmware into shutdown. Outputs are returned to
// their safe state by the registered handlers; later calls do nothing.
func TryShutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&isShutdown, 0, 1) {
		return
	}
	DebugPrintln("[SHUTDOWN] " + reason)
	for _, h := range shutdownHandlers {
		h()
	}
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&isShutdown) != 0
}

// ResetFirmwareState clears the shutdown flag
func ResetFirmwareState() {
	atomic.StoreUint32(&isShutdown, 0)
}
