package core

import (
	"errors"
	"sync"
)

// ErrUnknownCommand is returned when dispatching an unregistered command ID
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler is a function that handles a command with raw frame data
// The handler is responsible for decoding its own arguments from the data pointer
type CommandHandler func(data *[]byte) error

// Command represents a registered command or response
type Command struct {
	ID      uint16
	Name    string
	Format  string // Format string for dictionary (e.g., "width=%u")
	Handler CommandHandler
}

// CommandRegistry holds all registered commands
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[uint16]*Command
	nameToID   map[string]uint16
	nextID     uint16
	dictionary string // one "name format" line per ID, in ID order
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// RegisterCommand registers a command handler on the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse registers a response message (MCU -> Host)
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a command to the registry. Registering a name twice
// returns the existing ID.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++

	r.commands[id] = &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.nameToID[name] = id

	line := name
	if format != "" {
		line += " " + format
	}
	r.dictionary += line + "\n"

	return id
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// GetCommandByName retrieves a command by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the appropriate command handler.
// Responses have no handler and are rejected like unknown IDs.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return errors.Join(ErrUnknownCommand, errors.New("id "+itoa(int(cmdID))))
	}
	return cmd.Handler(data)
}

// GetDictionary returns the command dictionary text
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// DictionaryChunk returns up to count bytes of the dictionary starting at offset
func (r *CommandRegistry) DictionaryChunk(offset uint32, count uint8) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset >= uint32(len(r.dictionary)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(r.dictionary)) {
		end = uint32(len(r.dictionary))
	}
	return []byte(r.dictionary[offset:end])
}

// DispatchCommand is a convenience function using the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}

// ResetCommands returns the command layer to its boot state: an empty
// registry, no shutdown handlers and the shutdown flag cleared
func ResetCommands() {
	globalRegistry = NewCommandRegistry()
	shutdownHandlers = nil
	ResetFirmwareState()
}
