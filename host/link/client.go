// Package link talks to the servo firmware over the framed serial protocol
package link

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"servopulse/host/serial"
	"servopulse/protocol"
	"servopulse/servo"
)

// Bootstrap IDs, fixed so the dictionary can be fetched before it is known
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
	maxDictionary = 16 * 1024
)

// Client is a connection to one firmware instance
type Client struct {
	port      serial.Port
	transport *protocol.HostTransport
	log       *zap.SugaredLogger
	dict      *Dictionary

	// Timeout bounds each ACK and response wait
	Timeout time.Duration
}

// ServoStatus is a decoded servo_status response
type ServoStatus struct {
	Clock   uint32
	Phase   servo.Phase
	Width   uint32
	Pending uint32
	Periods uint32
}

// Dial opens the serial device described by cfg
func Dial(cfg *serial.Config, log *zap.SugaredLogger) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(port, log), nil
}

// New wraps an open port. A nil logger discards output.
func New(port serial.Port, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		port:      port,
		transport: protocol.NewHostTransport(port),
		log:       log,
		Timeout:   protocol.DefaultTimeout,
	}
}

// Identify fetches and parses the firmware's command dictionary
func (c *Client) Identify() (*Dictionary, error) {
	var text bytes.Buffer
	for offset := uint32(0); offset < maxDictionary; {
		if err := c.transport.SendCommandWithTimeout(identifyID, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, offset)
			protocol.EncodeVLQUint(output, identifyChunk)
		}, c.Timeout); err != nil {
			return nil, fmt.Errorf("identify at offset %d: %w", offset, err)
		}

		data, err := c.transport.WaitResponse(identifyResponseID, c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("identify response at offset %d: %w", offset, err)
		}
		respOffset, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, fmt.Errorf("identify response offset: %w", err)
		}
		if respOffset != offset {
			return nil, fmt.Errorf("identify offset mismatch: expected %d, got %d", offset, respOffset)
		}
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			return nil, fmt.Errorf("identify response data: %w", err)
		}

		text.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}

	dict, err := ParseDictionary(text.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse dictionary: %w", err)
	}
	c.dict = dict
	c.log.Debugw("dictionary retrieved", "bytes", text.Len(), "entries", len(dict.Commands))
	return dict, nil
}

// Dictionary returns the dictionary loaded by Identify
func (c *Client) Dictionary() *Dictionary {
	return c.dict
}

// Send encodes and sends a command by name, waiting for its ACK
func (c *Client) Send(name string, args ...uint32) error {
	cmd, err := c.dict.Lookup(name)
	if err != nil {
		return err
	}
	if len(args) != len(cmd.Params) {
		return fmt.Errorf("%s takes %d arguments, got %d", name, len(cmd.Params), len(args))
	}
	return c.transport.SendCommandWithTimeout(cmd.ID, func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	}, c.Timeout)
}

// Query sends a command and decodes the named response into its
// parameters
func (c *Client) Query(name, response string, args ...uint32) (map[string]uint32, error) {
	resp, err := c.dict.Lookup(response)
	if err != nil {
		return nil, err
	}
	if err := c.Send(name, args...); err != nil {
		return nil, err
	}
	data, err := c.transport.WaitResponse(resp.ID, c.Timeout)
	if err != nil {
		return nil, err
	}
	return decodeParams(resp, data)
}

func decodeParams(cmd Command, data []byte) (map[string]uint32, error) {
	values := make(map[string]uint32, len(cmd.Params))
	for _, p := range cmd.Params {
		if p.Type == ParamBytes {
			b, err := protocol.DecodeVLQBytes(&data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", cmd.Name, p.Name, err)
			}
			values[p.Name] = uint32(len(b))
			continue
		}
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", cmd.Name, p.Name, err)
		}
		values[p.Name] = v
	}
	return values, nil
}

// SetPulseWidth requests a new pulse width in microseconds
func (c *Client) SetPulseWidth(us uint32) error {
	if err := c.Send("set_pulse_width", us); err != nil {
		return err
	}
	c.log.Debugw("width requested", "width_us", us)
	return nil
}

// Status reads the servo state
func (c *Client) Status() (*ServoStatus, error) {
	v, err := c.Query("get_servo_status", "servo_status")
	if err != nil {
		return nil, err
	}
	return &ServoStatus{
		Clock:   v["clock"],
		Phase:   servo.Phase(v["phase"]),
		Width:   v["width"],
		Pending: v["pending"],
		Periods: v["periods"],
	}, nil
}

// Clock reads the firmware clock
func (c *Client) Clock() (uint32, error) {
	v, err := c.Query("get_clock", "clock")
	if err != nil {
		return 0, err
	}
	return v["clock"], nil
}

// Shutdown stops the output; the firmware holds it low until reset
func (c *Client) Shutdown() error {
	return c.Send("shutdown_servo")
}

// Close flushes and closes the link
func (c *Client) Close() error {
	return multierr.Combine(
		c.port.Flush(),
		c.transport.Close(),
	)
}
