//go:build !tinygo

package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultTimeout bounds how long SendCommand waits for an ACK
const DefaultTimeout = 2 * time.Second

var (
	ErrTimeout = errors.New("timeout")
	ErrClosed  = errors.New("transport closed")
)

// Message represents a received frame
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // frame data without header/trailer
}

// CommandID decodes the command ID at the start of the payload and returns
// it with the remaining argument bytes
func (m *Message) CommandID() (uint16, []byte, error) {
	data := m.Payload
	id, err := DecodeVLQUint(&data)
	if err != nil {
		return 0, nil, err
	}
	return uint16(id), data, nil
}

// HostTransport is the host side of the link: it sends commands, waits for
// the matching ACK and queues responses for the caller.
type HostTransport struct {
	port io.ReadWriteCloser

	mu  sync.Mutex // serializes SendCommand
	seq uint8

	ackChan      chan *Message
	responseChan chan *Message

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a host transport and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		seq:          MessageDest,
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultTimeout)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, err := t.buildMessage(cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}

	// Drop any stale ACK left by an earlier timeout
	select {
	case <-t.ackChan:
	default:
	}

	n, err := t.port.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	expected := nextSeq(t.seq)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-t.ackChan:
			if ack.Sequence != expected {
				// NAK: the MCU expects a different sequence; adopt it
				t.seq = ack.Sequence
				return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", expected, ack.Sequence)
			}
			t.seq = expected
			return nil
		case <-timer.C:
			return fmt.Errorf("ACK after %v: %w", timeout, ErrTimeout)
		case <-t.stopChan:
			return ErrClosed
		}
	}
}

// buildMessage frames cmdID and its arguments with the current sequence
func (t *HostTransport) buildMessage(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()

	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("%d bytes (max %d): %w", msgLen, MessageLengthMax, ErrFrameTooLong)
	}

	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), t.seq)
	msg = append(msg, payload...)
	return appendTrailer(msg), nil
}

// ReceiveResponse returns the next response frame
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("response after %v: %w", timeout, ErrTimeout)
	case <-t.stopChan:
		return nil, ErrClosed
	}
}

// WaitResponse returns the next response with the given command ID,
// discarding others
func (t *HostTransport) WaitResponse(cmdID uint16, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("response %d after %v: %w", cmdID, timeout, ErrTimeout)
		}
		msg, err := t.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		id, args, err := msg.CommandID()
		if err != nil {
			continue
		}
		if id == cmdID {
			return args, nil
		}
	}
}

// readLoop reads the port until it is closed and routes frames
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	input := NewFifoBuffer(512)
	buffer := make([]byte, 256)
	synced := true

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			input.Write(buffer[:n])
			synced = t.processFrames(input, synced)
		}
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processFrames consumes complete frames from input and reports the
// resulting synchronization state
func (t *HostTransport) processFrames(input *FifoBuffer, synced bool) bool {
	data := input.Data()

	for len(data) > 0 {
		if !synced {
			idx := indexSync(data)
			if idx < 0 {
				data = nil
				break
			}
			data = data[idx+1:]
			synced = true
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen := scanFrame(data)
		if msgLen == 0 {
			break
		}
		if msgLen < 0 {
			synced = false
			continue
		}

		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		t.dispatch(&Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  payload,
		})
		data = data[msgLen:]
	}

	input.Pop(input.Available() - len(data))
	return synced
}

// dispatch routes ACKs and responses to their channels
func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	select {
	case t.responseChan <- msg:
	default:
		// Full: drop the oldest response
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		err = t.port.Close()
		<-t.doneChan
	})
	return err
}
