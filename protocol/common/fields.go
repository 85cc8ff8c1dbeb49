package common

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Field size constants for variable-length payloads
const (
	StringLengthSize = 2
	BlobLengthSize   = 4
	Uint32Size       = 4
)

// FieldWriter appends big-endian encoded fields after a reserved common header.
type FieldWriter struct {
	buf []byte
}

// NewFieldWriter creates a writer with room for the common header
func NewFieldWriter(sizeHint int) *FieldWriter {
	buf := make([]byte, HeaderSize, HeaderSize+sizeHint)
	return &FieldWriter{buf: buf}
}

// PutUint32 appends a 4-byte unsigned integer
func (w *FieldWriter) PutUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// PutByte appends a single byte
func (w *FieldWriter) PutByte(b byte) {
	w.buf = append(w.buf, b)
}

// PutString appends a string prefixed with its 2-byte length
func (w *FieldWriter) PutString(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string field too long: %d bytes, max %d", len(s), math.MaxUint16)
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// PutBlob appends a byte slice prefixed with its 4-byte length
func (w *FieldWriter) PutBlob(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Len returns the number of bytes written so far, header included
func (w *FieldWriter) Len() int {
	return len(w.buf)
}

// Finish fills the common header and returns the encoded message.
// headerLength is the size of the fixed part of the message.
func (w *FieldWriter) Finish(headerLength int, msgType int) []byte {
	PutHeader(w.buf, headerLength, len(w.buf), msgType)
	return w.buf
}

// FieldReader consumes big-endian encoded fields with bounds checking.
type FieldReader struct {
	data   []byte
	offset int
}

// NewFieldReader creates a reader positioned right after the common header
func NewFieldReader(data []byte) *FieldReader {
	return &FieldReader{data: data, offset: HeaderSize}
}

func (r *FieldReader) need(n int, field string) error {
	if n < 0 || r.offset+n > len(r.data) {
		return fmt.Errorf("message truncated reading %s at offset %d", field, r.offset)
	}
	return nil
}

// Uint32 reads a 4-byte unsigned integer
func (r *FieldReader) Uint32(field string) (uint32, error) {
	if err := r.need(Uint32Size, field); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += Uint32Size
	return v, nil
}

// Byte reads a single byte
func (r *FieldReader) Byte(field string) (byte, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

// String reads a 2-byte length prefixed string
func (r *FieldReader) String(field string) (string, error) {
	if err := r.need(StringLengthSize, field); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(r.data[r.offset:]))
	r.offset += StringLengthSize
	if err := r.need(n, field); err != nil {
		return "", err
	}
	s := string(r.data[r.offset : r.offset+n])
	r.offset += n
	return s, nil
}

// Blob reads a 4-byte length prefixed byte slice. The result aliases the input.
func (r *FieldReader) Blob(field string) ([]byte, error) {
	if err := r.need(BlobLengthSize, field); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(r.data[r.offset:]))
	r.offset += BlobLengthSize
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// Remaining returns the number of unread bytes
func (r *FieldReader) Remaining() int {
	return len(r.data) - r.offset
}
