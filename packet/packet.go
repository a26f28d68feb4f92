// Package packet implements the framed byte buffer exchanged between peers.
//
// A Packet is written by appending typed values and read back through a
// cursor that only moves forward. Reads follow stream semantics: a failed
// read marks the packet invalid and every later read is a no-op until the
// packet is Reset or Cleared.
//
//	p := packet.New()
//	p.WriteUint32(7).WriteString("ping")
//
//	var code uint32
//	var msg string
//	if p.ReadUint32(&code).ReadString(&msg).Ok() {
//	    // both values were extracted
//	}
//
// All multi-byte values use big-endian byte order. Strings and byte slices
// are prefixed with their length as a uint32.
//
// A Packet is owned by a single goroutine at a time; hand it over, don't share it.
package packet

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf16"
)

// ErrShortRead is reported by Err when a read ran past the end of the data.
var ErrShortRead = errors.New("packet: not enough data")

var order = binary.BigEndian

// Packet is an ordered byte sequence with a read cursor and a validity flag.
type Packet struct {
	data    []byte
	readPos int
	invalid bool
}

// New returns an empty packet.
func New() *Packet {
	return &Packet{}
}

// FromBytes returns a packet holding a copy of b, positioned at its start.
func FromBytes(b []byte) *Packet {
	p := &Packet{}
	p.Append(b)
	return p
}

// Append appends raw bytes to the end of the packet.
func (p *Packet) Append(b []byte) {
	p.data = append(p.data, b...)
}

// Clear empties the packet and makes it valid again.
func (p *Packet) Clear() {
	p.data = p.data[:0]
	p.readPos = 0
	p.invalid = false
}

// Reset rewinds the read cursor to the start and makes the packet valid again.
func (p *Packet) Reset() {
	p.readPos = 0
	p.invalid = false
}

// Bytes returns the packet contents. The slice aliases the packet and is
// only valid until the next write.
func (p *Packet) Bytes() []byte {
	return p.data
}

// Len returns the number of bytes held by the packet.
func (p *Packet) Len() int {
	return len(p.data)
}

// ReadPos returns the current read cursor.
func (p *Packet) ReadPos() int {
	return p.readPos
}

// Remaining returns the unread bytes without consuming them.
func (p *Packet) Remaining() []byte {
	return p.data[p.readPos:]
}

// EndOfPacket reports whether every byte has been read.
func (p *Packet) EndOfPacket() bool {
	return p.readPos >= len(p.data)
}

// Ok reports whether every read so far succeeded.
func (p *Packet) Ok() bool {
	return !p.invalid
}

// Err returns ErrShortRead once a read has failed, nil otherwise.
func (p *Packet) Err() error {
	if p.invalid {
		return ErrShortRead
	}
	return nil
}

// checkSize reports whether n more bytes can be read, invalidating the
// packet when they can't.
func (p *Packet) checkSize(n int) bool {
	if p.invalid {
		return false
	}
	if n < 0 || len(p.data)-p.readPos < n {
		p.invalid = true
		return false
	}
	return true
}

func (p *Packet) next(n int) []byte {
	b := p.data[p.readPos : p.readPos+n]
	p.readPos += n
	return b
}

func (p *Packet) WriteBool(v bool) *Packet {
	if v {
		return p.WriteUint8(1)
	}
	return p.WriteUint8(0)
}

func (p *Packet) WriteInt8(v int8) *Packet {
	return p.WriteUint8(uint8(v))
}

func (p *Packet) WriteUint8(v uint8) *Packet {
	p.data = append(p.data, v)
	return p
}

func (p *Packet) WriteInt16(v int16) *Packet {
	return p.WriteUint16(uint16(v))
}

func (p *Packet) WriteUint16(v uint16) *Packet {
	p.data = order.AppendUint16(p.data, v)
	return p
}

func (p *Packet) WriteInt32(v int32) *Packet {
	return p.WriteUint32(uint32(v))
}

func (p *Packet) WriteUint32(v uint32) *Packet {
	p.data = order.AppendUint32(p.data, v)
	return p
}

func (p *Packet) WriteInt64(v int64) *Packet {
	return p.WriteUint64(uint64(v))
}

func (p *Packet) WriteUint64(v uint64) *Packet {
	p.data = order.AppendUint64(p.data, v)
	return p
}

func (p *Packet) WriteFloat32(v float32) *Packet {
	return p.WriteUint32(math.Float32bits(v))
}

func (p *Packet) WriteFloat64(v float64) *Packet {
	return p.WriteUint64(math.Float64bits(v))
}

// WriteString writes the byte length of s followed by its bytes.
func (p *Packet) WriteString(s string) *Packet {
	p.WriteUint32(uint32(len(s)))
	p.data = append(p.data, s...)
	return p
}

// WriteBytes writes len(b) followed by b.
func (p *Packet) WriteBytes(b []byte) *Packet {
	p.WriteUint32(uint32(len(b)))
	p.data = append(p.data, b...)
	return p
}

// WriteWideString writes s as UTF-16 code units, prefixed with the unit count.
func (p *Packet) WriteWideString(s string) *Packet {
	units := utf16.Encode([]rune(s))
	p.WriteUint32(uint32(len(units)))
	for _, u := range units {
		p.WriteUint16(u)
	}
	return p
}

func (p *Packet) ReadBool(v *bool) *Packet {
	var b uint8
	if p.ReadUint8(&b).Ok() {
		*v = b != 0
	}
	return p
}

func (p *Packet) ReadInt8(v *int8) *Packet {
	if p.checkSize(1) {
		*v = int8(p.next(1)[0])
	}
	return p
}

func (p *Packet) ReadUint8(v *uint8) *Packet {
	if p.checkSize(1) {
		*v = p.next(1)[0]
	}
	return p
}

func (p *Packet) ReadInt16(v *int16) *Packet {
	if p.checkSize(2) {
		*v = int16(order.Uint16(p.next(2)))
	}
	return p
}

func (p *Packet) ReadUint16(v *uint16) *Packet {
	if p.checkSize(2) {
		*v = order.Uint16(p.next(2))
	}
	return p
}

func (p *Packet) ReadInt32(v *int32) *Packet {
	if p.checkSize(4) {
		*v = int32(order.Uint32(p.next(4)))
	}
	return p
}

func (p *Packet) ReadUint32(v *uint32) *Packet {
	if p.checkSize(4) {
		*v = order.Uint32(p.next(4))
	}
	return p
}

func (p *Packet) ReadInt64(v *int64) *Packet {
	if p.checkSize(8) {
		*v = int64(order.Uint64(p.next(8)))
	}
	return p
}

func (p *Packet) ReadUint64(v *uint64) *Packet {
	if p.checkSize(8) {
		*v = order.Uint64(p.next(8))
	}
	return p
}

func (p *Packet) ReadFloat32(v *float32) *Packet {
	if p.checkSize(4) {
		*v = math.Float32frombits(order.Uint32(p.next(4)))
	}
	return p
}

func (p *Packet) ReadFloat64(v *float64) *Packet {
	if p.checkSize(8) {
		*v = math.Float64frombits(order.Uint64(p.next(8)))
	}
	return p
}

// readPrefixed reads a uint32 length followed by that many elements of
// unit bytes each. On failure the cursor is restored.
func (p *Packet) readPrefixed(unit int) ([]byte, bool) {
	start := p.readPos
	var n uint32
	if !p.ReadUint32(&n).Ok() {
		return nil, false
	}
	size := uint64(n) * uint64(unit)
	if size > uint64(len(p.data)-p.readPos) || !p.checkSize(int(size)) {
		p.invalid = true
		p.readPos = start
		return nil, false
	}
	return p.next(int(size)), true
}

// ReadString reads a length-prefixed string.
func (p *Packet) ReadString(v *string) *Packet {
	if b, ok := p.readPrefixed(1); ok {
		*v = string(b)
	}
	return p
}

// ReadBytes reads a length-prefixed byte slice. The result is a copy.
func (p *Packet) ReadBytes(v *[]byte) *Packet {
	if b, ok := p.readPrefixed(1); ok {
		*v = append([]byte(nil), b...)
	}
	return p
}

// ReadWideString reads a string written by WriteWideString.
func (p *Packet) ReadWideString(v *string) *Packet {
	b, ok := p.readPrefixed(2)
	if !ok {
		return p
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = order.Uint16(b[2*i:])
	}
	*v = string(utf16.Decode(units))
	return p
}

// ReadRemaining consumes every unread byte. The result is a copy.
func (p *Packet) ReadRemaining(v *[]byte) *Packet {
	if p.invalid {
		return p
	}
	*v = append([]byte(nil), p.next(len(p.data)-p.readPos)...)
	return p
}
