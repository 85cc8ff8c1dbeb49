package common

import (
	"encoding/binary"
	"fmt"
)

// Header represents the common header structure for all message types
type Header struct {
	HeaderLength uint16
	TotalLength  int32
	MsgTypeID    int
}

// MessageType constants
const (
	WorkerRegisterType = 1
	WorkerConfigType   = 2
	PSIRoundType       = 3
)

// Common header sizes
const (
	HeaderLengthSize = 2
	TotalLengthSize  = 4
	MsgTypeIDSize    = 1

	HeaderSize = HeaderLengthSize + TotalLengthSize + MsgTypeIDSize
)

// PutHeader writes the common header at the start of buf.
// buf must be at least HeaderSize long.
func PutHeader(buf []byte, headerLength, totalLength int, msgType int) {
	binary.BigEndian.PutUint16(buf[0:], uint16(headerLength))
	binary.BigEndian.PutUint32(buf[HeaderLengthSize:], uint32(totalLength))
	buf[HeaderLengthSize+TotalLengthSize] = byte(msgType)
}

// ReadHeader parses the common header and checks it against the expected message type
// and the actual length of data.
func ReadHeader(data []byte, expectedType int) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("data too short to contain a valid message header: %d bytes", len(data))
	}

	header := Header{
		HeaderLength: binary.BigEndian.Uint16(data[0:]),
		TotalLength:  int32(binary.BigEndian.Uint32(data[HeaderLengthSize:])),
		MsgTypeID:    int(data[HeaderLengthSize+TotalLengthSize]),
	}

	if header.MsgTypeID != expectedType {
		return Header{}, fmt.Errorf("invalid message type: got %d, want %d", header.MsgTypeID, expectedType)
	}
	if int(header.TotalLength) != len(data) {
		return Header{}, fmt.Errorf("total length mismatch: header says %d, got %d bytes", header.TotalLength, len(data))
	}
	if int(header.HeaderLength) < HeaderSize || int(header.HeaderLength) > len(data) {
		return Header{}, fmt.Errorf("invalid header length %d", header.HeaderLength)
	}

	return header, nil
}

// GetMessageType returns the message type without full deserialization
func GetMessageType(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("data too short to contain message type")
	}

	return int(data[HeaderLengthSize+TotalLengthSize]), nil
}
