package protocol

import (
	"encoding/binary"
	"fmt"
)

// Varuint threshold markers. Values below 0xfc are encoded as a single byte;
// larger values carry a marker byte followed by a fixed-width big-endian value.
const (
	varuintU16 = 0xfc
	varuintU32 = 0xfd
	varuintU64 = 0xfe
)

// SerializationBuffer is the wire codec shared by every protocol structure.
// All integers are big-endian. Writes never fail; reads return an error when
// the buffer is exhausted.
type SerializationBuffer struct {
	buf []byte
	off int
}

// NewSerializationBuffer creates an empty write buffer.
func NewSerializationBuffer() *SerializationBuffer {
	return &SerializationBuffer{}
}

// NewSerializationBufferFrom creates a read buffer over existing bytes.
func NewSerializationBufferFrom(data []byte) *SerializationBuffer {
	return &SerializationBuffer{buf: data}
}

// Bytes returns the written buffer contents.
func (b *SerializationBuffer) Bytes() []byte {
	return b.buf
}

// Remaining returns the number of unread bytes.
func (b *SerializationBuffer) Remaining() int {
	return len(b.buf) - b.off
}

// Write appends raw bytes.
func (b *SerializationBuffer) Write(data []byte) {
	b.buf = append(b.buf, data...)
}

// WriteU8 appends a single byte.
func (b *SerializationBuffer) WriteU8(v uint8) {
	b.buf = append(b.buf, v)
}

// WriteU16 appends a big-endian uint16.
func (b *SerializationBuffer) WriteU16(v uint16) {
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
}

// WriteU32 appends a big-endian uint32.
func (b *SerializationBuffer) WriteU32(v uint32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
}

// WriteU64 appends a big-endian uint64.
func (b *SerializationBuffer) WriteU64(v uint64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
}

// WriteVaruint appends a variable-width unsigned integer.
func (b *SerializationBuffer) WriteVaruint(v uint64) {
	switch {
	case v < varuintU16:
		b.WriteU8(uint8(v))
	case v <= 0xffff:
		b.WriteU8(varuintU16)
		b.WriteU16(uint16(v))
	case v <= 0xffffffff:
		b.WriteU8(varuintU32)
		b.WriteU32(uint32(v))
	default:
		b.WriteU8(varuintU64)
		b.WriteU64(v)
	}
}

// Read consumes and returns the next n bytes.
func (b *SerializationBuffer) Read(n int) ([]byte, error) {
	if b.Remaining() < n {
		return nil, fmt.Errorf("serialization buffer underrun: need %d bytes, have %d", n, b.Remaining())
	}
	v := b.buf[b.off : b.off+n]
	b.off += n
	return v, nil
}

// ReadU8 consumes a single byte.
func (b *SerializationBuffer) ReadU8() (uint8, error) {
	v, err := b.Read(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// ReadU16 consumes a big-endian uint16.
func (b *SerializationBuffer) ReadU16() (uint16, error) {
	v, err := b.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

// ReadU32 consumes a big-endian uint32.
func (b *SerializationBuffer) ReadU32() (uint32, error) {
	v, err := b.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

// ReadU64 consumes a big-endian uint64.
func (b *SerializationBuffer) ReadU64() (uint64, error) {
	v, err := b.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// ReadVaruint consumes a variable-width unsigned integer.
func (b *SerializationBuffer) ReadVaruint() (uint64, error) {
	marker, err := b.ReadU8()
	if err != nil {
		return 0, err
	}
	switch marker {
	case varuintU16:
		v, err := b.ReadU16()
		return uint64(v), err
	case varuintU32:
		v, err := b.ReadU32()
		return uint64(v), err
	case varuintU64:
		return b.ReadU64()
	default:
		return uint64(marker), nil
	}
}
