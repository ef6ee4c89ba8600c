// Package protocol implements the framed serial protocol between the servo
// firmware and its host.
//
// A frame is: length, sequence, payload, CRC16 (high, low), sync byte.
// The payload is a VLQ command ID followed by VLQ-encoded arguments.
package protocol

import "errors"

// Version is the protocol revision reported by the firmware
const Version = "servopulse-1"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F

	// ScratchSize bounds a single output burst (ACK plus responses)
	ScratchSize = 512
)

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
	ErrFrameTooLong   = errors.New("frame exceeds maximum length")
)

// CRC16 calculates the CRC16-CCITT checksum used in frame trailers
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc & 0xFF)
		b ^= b << 4
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// nextSeq advances a sequence number within the destination range
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// appendTrailer writes the CRC over frame[:] and the sync byte
func appendTrailer(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, uint8(crc>>8), uint8(crc), MessageValueSync)
}

// scanFrame inspects the start of data for a complete frame.
// It returns the frame length, zero if more bytes are needed, or -1 if
// the data does not start with a valid frame.
func scanFrame(data []byte) int {
	if len(data) < MessageLengthMin {
		return 0
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return -1
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return -1
	}
	if len(data) < msgLen {
		return 0
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return -1
	}
	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return -1
	}
	return msgLen
}
