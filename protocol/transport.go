package protocol

import "sync/atomic"

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the link: it validates incoming frames,
// dispatches their commands and answers every frame with an ACK carrying
// the next expected sequence number.
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // atomic; expected sequence from host, also used on responses

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()

	// handlerErrors counts commands whose handler returned an error
	handlerErrors uint32
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive consumes every complete frame available in input
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synchronized() {
			idx := indexSync(data)
			if idx < 0 {
				data = nil
				break
			}
			data = data[idx+1:]
			t.setSynchronized(true)
			t.encodeAckNak()
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
			t.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			expected = MessageDest
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(seq)))
			if err := t.parseFrame(frame); err != nil {
				atomic.AddUint32(&t.handlerErrors, 1)
			}
		}
		// A mismatched sequence is answered too; the ACK then acts as a NAK
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// HandlerErrors returns how many command handlers have failed
func (t *Transport) HandlerErrors() uint32 {
	return atomic.LoadUint32(&t.handlerErrors)
}

// parseFrame dispatches every command in frame
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
			err = ErrInvalidVLQ
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Remaining arguments are unparseable once a handler fails
			return err
		}
	}
	return nil
}

// encodeAckNak queues an empty frame carrying the next expected sequence
// and flushes it right away
func (t *Transport) encodeAckNak() {
	ack := appendTrailer([]byte{MessageLengthMin, uint8(atomic.LoadUint32(&t.nextSequence))})
	t.output.Output(ack)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame encodes a response frame with the given contents
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	t.output.Output([]byte{0, uint8(atomic.LoadUint32(&t.nextSequence))})
	frameData(t.output)

	payloadLen := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(payloadLen+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand encodes a response message with its arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset resets the transport state (useful after USB disconnect/reconnect)
func (t *Transport) Reset() {
	t.setSynchronized(true)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback that pushes queued output to the wire
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

func (t *Transport) synchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i
		}
	}
	return -1
}
