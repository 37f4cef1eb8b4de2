package qpack

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Unpacker is a cursor over an in-memory qpack buffer (metadata files are
// small enough to slurp whole; spec.md §4.1 allows either mmap or slurp).
type Unpacker struct {
	buf []byte
	pos int
	cur Tag
}

// NewUnpacker wraps buf for sequential reads starting at offset 0.
func NewUnpacker(buf []byte) *Unpacker {
	return &Unpacker{buf: buf}
}

// Current returns the tag last produced by Next, without consuming.
func (u *Unpacker) Current() Tag { return u.cur }

// Len reports the number of unread bytes.
func (u *Unpacker) Len() int { return len(u.buf) - u.pos }

func (u *Unpacker) byte() (byte, error) {
	if u.pos >= len(u.buf) {
		return 0, fmt.Errorf("qpack: unexpected end of buffer")
	}
	b := u.buf[u.pos]
	u.pos++
	return b, nil
}

func (u *Unpacker) take(n int) ([]byte, error) {
	if u.pos+n > len(u.buf) {
		return nil, fmt.Errorf("qpack: unexpected end of buffer reading %d bytes", n)
	}
	b := u.buf[u.pos : u.pos+n]
	u.pos += n
	return b, nil
}

// Value holds the decoded payload of whichever variant Next produced.
type Value struct {
	Int    int64
	Double float64
	Raw    []byte
}

// Next decodes the next value, writes its payload into out (nil is fine for
// tags that carry no payload, e.g. container markers), and returns the tag.
func (u *Unpacker) Next(out *Value) (Tag, error) {
	b, err := u.byte()
	if err != nil {
		return 0, err
	}
	tag := Tag(b)
	u.cur = tag
	switch tag {
	case TagNull, TagTrue, TagFalse, TagEnd,
		TagArray0, TagArray1, TagArray2, TagArray3, TagArray4, TagArray5,
		TagArrayOp, TagMap0, TagMap1, TagMap2, TagMap3, TagMap4, TagMap5, TagMapOp:
		return tag, nil
	case TagInt8:
		v, err := u.byte()
		if err != nil {
			return 0, err
		}
		if out != nil {
			out.Int = int64(int8(v))
		}
		return tag, nil
	case TagInt16:
		raw, err := u.take(2)
		if err != nil {
			return 0, err
		}
		if out != nil {
			out.Int = int64(int16(binary.LittleEndian.Uint16(raw)))
		}
		return tag, nil
	case TagInt32:
		raw, err := u.take(4)
		if err != nil {
			return 0, err
		}
		if out != nil {
			out.Int = int64(int32(binary.LittleEndian.Uint32(raw)))
		}
		return tag, nil
	case TagInt64:
		raw, err := u.take(8)
		if err != nil {
			return 0, err
		}
		if out != nil {
			out.Int = int64(binary.LittleEndian.Uint64(raw))
		}
		return tag, nil
	case TagDouble:
		raw, err := u.take(8)
		if err != nil {
			return 0, err
		}
		if out != nil {
			out.Double = math.Float64frombits(binary.LittleEndian.Uint64(raw))
		}
		return tag, nil
	case TagRaw8, TagRaw16, TagRaw32:
		var n int
		switch tag {
		case TagRaw8:
			v, err := u.byte()
			if err != nil {
				return 0, err
			}
			n = int(v)
		case TagRaw16:
			raw, err := u.take(2)
			if err != nil {
				return 0, err
			}
			n = int(binary.LittleEndian.Uint16(raw))
		case TagRaw32:
			raw, err := u.take(4)
			if err != nil {
				return 0, err
			}
			n = int(binary.LittleEndian.Uint32(raw))
		}
		raw, err := u.take(n)
		if err != nil {
			return 0, err
		}
		if out != nil {
			out.Raw = raw
		}
		return tag, nil
	default:
		return 0, fmt.Errorf("qpack: unknown tag 0x%02x", byte(tag))
	}
}

// SkipNext decodes and discards the next value, returning its tag. Used by
// readers that only need to step past a value whose schema version they no
// longer understand (unused in this repo today, kept for unpacker parity
// with qpextra.h's qp_skip_next, which every schema-gated reader relies on
// at the call site that rejects unknown versions).
func (u *Unpacker) SkipNext() (Tag, error) {
	return u.Next(nil)
}

// ReadSchemaHeader consumes the ARRAY_OPEN + int16 schema header every
// metadata file begins with, and returns the schema version. Callers compare
// against the version they understand and abort the load on mismatch
// (spec.md §4.1, §7).
func ReadSchemaHeader(u *Unpacker) (int16, error) {
	var v Value
	tag, err := u.Next(&v)
	if err != nil {
		return 0, err
	}
	if tag != TagArrayOp {
		return 0, fmt.Errorf("qpack: expected ARRAY_OPEN, got tag 0x%02x", byte(tag))
	}
	tag, err = u.Next(&v)
	if err != nil {
		return 0, err
	}
	if tag != TagInt16 {
		return 0, fmt.Errorf("qpack: expected int16 schema tag, got 0x%02x", byte(tag))
	}
	return int16(v.Int), nil
}
