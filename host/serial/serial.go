// Package serial opens the link to the servo firmware
package serial

import (
	"errors"
	"io"
	"net"
	"time"
)

// ErrNoDevice is returned when no device path is configured
var ErrNoDevice = errors.New("no serial device configured")

// Port represents a serial port interface
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it
	Baud int

	// ReadTimeout bounds each read so the reader can notice Close
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration used by the firmware's USB CDC port
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Validate checks the configuration before opening
func (c *Config) Validate() error {
	if c.Device == "" {
		return ErrNoDevice
	}
	if c.Baud <= 0 {
		return errors.New("baud rate must be positive")
	}
	return nil
}

// pipePort is one end of an in-memory link
type pipePort struct {
	net.Conn
}

func (p pipePort) Flush() error { return nil }

// Pipe returns two connected in-memory ports, used to run the host
// against the firmware command layer without hardware
func Pipe() (Port, Port) {
	a, b := net.Pipe()
	return pipePort{a}, pipePort{b}
}
