// Package qpack implements the self-describing binary codec used for every
// metadata file in a database directory (series.dat, users.dat). It does not
// attempt to be a general purpose serialization library: the tag set below
// matches the wire format exactly, so that an unpacker written against an
// older schema can still walk past values it does not understand.
package qpack

import (
	"encoding/binary"
	"errors"
	"math"
)

// Tag identifies the type of the next value on the wire.
type Tag byte

const (
	TagNull  Tag = 0x00
	TagTrue  Tag = 0x01
	TagFalse Tag = 0x02

	// TagIntMin..TagIntMax is the tag range for small signed integers in
	// [-60, 63] inlined into the tag byte itself:
	// tag = TagIntMin + (value - (-60)). Packer has no method that emits
	// these tags, and Unpacker.Next rejects them as unknown tags.
	TagIntMin Tag = 0x08
	TagIntMax Tag = TagIntMin + 123 // value 63; below the fixed-width/raw tags

	TagInt8    Tag = 0x03
	TagInt16   Tag = 0x04
	TagInt32   Tag = 0x05
	TagInt64   Tag = 0x06
	TagDouble  Tag = 0x07
	TagRaw8    Tag = 0xf7 // raw value, u8 length prefix
	TagRaw16   Tag = 0xf8 // raw value, u16 length prefix
	TagRaw32   Tag = 0xf9 // raw value, u32 length prefix
	TagArray0  Tag = 0xe0
	TagArray1  Tag = 0xe1
	TagArray2  Tag = 0xe2
	TagArray3  Tag = 0xe3
	TagArray4  Tag = 0xe4
	TagArray5  Tag = 0xe5
	TagArrayOp Tag = 0xfa // open-ended array, terminated by TagEnd
	TagMap0    Tag = 0xe6
	TagMap1    Tag = 0xe7
	TagMap2    Tag = 0xe8
	TagMap3    Tag = 0xe9
	TagMap4    Tag = 0xea
	TagMap5    Tag = 0xeb
	TagMapOp   Tag = 0xfb // open-ended map, terminated by TagEnd
	TagEnd     Tag = 0xfc
)

// ErrUnknownSchema is returned by readers that gate on a schema version they
// do not recognize. Callers must abort the load entirely; no partial
// catalog is exposed per spec.md §7.
var ErrUnknownSchema = errors.New("qpack: unknown schema version")

// Packer accumulates values into an owned, growable buffer.
type Packer struct {
	buf []byte
}

// NewPacker returns a Packer with capacity hinted by size.
func NewPacker(size int) *Packer {
	return &Packer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated buffer.
func (p *Packer) Bytes() []byte { return p.buf }

func (p *Packer) AddType(tag Tag) { p.buf = append(p.buf, byte(tag)) }

func (p *Packer) AddNull()  { p.AddType(TagNull) }
func (p *Packer) AddTrue()  { p.AddType(TagTrue) }
func (p *Packer) AddFalse() { p.AddType(TagFalse) }

// AddArrayOpen begins an open-ended array; must be balanced with AddEnd.
func (p *Packer) AddArrayOpen() { p.AddType(TagArrayOp) }
func (p *Packer) AddMapOpen()   { p.AddType(TagMapOp) }
func (p *Packer) AddEnd()       { p.AddType(TagEnd) }

// AddArray writes a fixed-size array marker for n in [0,5].
func (p *Packer) AddArray(n int) {
	if n < 0 || n > 5 {
		panic("qpack: fixed array size out of range")
	}
	p.AddType(TagArray0 + Tag(n))
}

func (p *Packer) AddInt8(v int8) {
	p.buf = append(p.buf, byte(TagInt8), byte(v))
}

func (p *Packer) AddInt16(v int16) {
	p.buf = append(p.buf, byte(TagInt16))
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(v))
}

func (p *Packer) AddInt32(v int32) {
	p.buf = append(p.buf, byte(TagInt32))
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

func (p *Packer) AddInt64(v int64) {
	p.buf = append(p.buf, byte(TagInt64))
	p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(v))
}

func (p *Packer) AddDouble(v float64) {
	p.buf = append(p.buf, byte(TagDouble))
	p.buf = binary.LittleEndian.AppendUint64(p.buf, math.Float64bits(v))
}

// AddRaw writes a length-prefixed byte string, picking the narrowest
// length-prefix width that fits.
func (p *Packer) AddRaw(raw []byte) {
	n := len(raw)
	switch {
	case n < 1<<8:
		p.buf = append(p.buf, byte(TagRaw8), byte(n))
	case n < 1<<16:
		p.buf = append(p.buf, byte(TagRaw16))
		p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(n))
	default:
		p.buf = append(p.buf, byte(TagRaw32))
		p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(n))
	}
	p.buf = append(p.buf, raw...)
}

// AddStringTerm writes s including its trailing NUL, matching the series/users
// store convention of NUL-terminated names (spec.md §4.6, §6).
func (p *Packer) AddStringTerm(s string) {
	p.AddRaw(append([]byte(s), 0))
}

// AddString writes s without a trailing NUL.
func (p *Packer) AddString(s string) {
	p.AddRaw([]byte(s))
}
