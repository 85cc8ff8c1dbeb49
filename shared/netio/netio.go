package netio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameLengthSize is the size of the big-endian length prefix of every frame
	FrameLengthSize = 4
	// MaxFrameSize bounds a single frame; a bucket of one million 33-byte points fits comfortably
	MaxFrameSize = 256 * 1024 * 1024
)

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteAll writes all bytes from data to w, handling short writes.
// It loops until all bytes are written or an error occurs.
func WriteAll(w io.Writer, data []byte) error {
	totalWritten := 0
	for totalWritten < len(data) {
		n, err := w.Write(data[totalWritten:])
		if err != nil {
			return fmt.Errorf("write failed after %d/%d bytes: %w", totalWritten, len(data), err)
		}
		totalWritten += n
	}
	return nil
}

// ReadFull reads exactly len(buf) bytes from r, handling short reads.
// A clean io.EOF before the first byte is returned unwrapped.
func ReadFull(r io.Reader, buf []byte) error {
	totalRead := 0
	for totalRead < len(buf) {
		n, err := r.Read(buf[totalRead:])
		totalRead += n
		if err != nil {
			if totalRead == len(buf) {
				return nil
			}
			if err == io.EOF {
				if totalRead == 0 {
					return io.EOF
				}
				return fmt.Errorf("unexpected EOF after %d/%d bytes: %w", totalRead, len(buf), io.ErrUnexpectedEOF)
			}
			return fmt.Errorf("read failed after %d/%d bytes: %w", totalRead, len(buf), err)
		}
	}
	return nil
}

// WriteFrame writes payload prefixed with its 4-byte big-endian length
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, FrameLengthSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[FrameLengthSize:], payload)
	return WriteAll(w, frame)
}

// ReadFrame reads one length-prefixed frame and returns its payload
func ReadFrame(r io.Reader) ([]byte, error) {
	lengthBuf := make([]byte, FrameLengthSize)
	if err := ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if err := ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("connection closed inside frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return payload, nil
}
