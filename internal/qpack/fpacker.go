package qpack

import (
	"bufio"
	"os"
)

// FilePacker streams qpack values directly to an append-mode file handle,
// used for series.dat/users.dat so a crash mid-write never corrupts values
// already flushed (spec.md §4.1).
type FilePacker struct {
	f *os.File
	w *bufio.Writer
}

// OpenFilePacker opens fn for writing (truncating any existing content) and
// returns a FilePacker ready to receive a schema header.
func OpenFilePacker(fn string) (*FilePacker, error) {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return nil, err
	}
	return &FilePacker{f: f, w: bufio.NewWriter(f)}, nil
}

// OpenFilePackerAppend opens fn for appending, used once the initial catalog
// load has rewritten the file and subsequent CREATE operations only append
// new records (spec.md §4.6 step 6).
func OpenFilePackerAppend(fn string) (*FilePacker, error) {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	return &FilePacker{f: f, w: bufio.NewWriter(f)}, nil
}

func (fp *FilePacker) AddType(tag Tag) error {
	return fp.w.WriteByte(byte(tag))
}

func (fp *FilePacker) AddArrayOpen() error { return fp.AddType(TagArrayOp) }
func (fp *FilePacker) AddEnd() error       { return fp.AddType(TagEnd) }

func (fp *FilePacker) AddArray(n int) error {
	if n < 0 || n > 5 {
		panic("qpack: fixed array size out of range")
	}
	return fp.AddType(TagArray0 + Tag(n))
}

func (fp *FilePacker) AddInt8(v int8) error {
	if err := fp.AddType(TagInt8); err != nil {
		return err
	}
	return fp.w.WriteByte(byte(v))
}

func (fp *FilePacker) AddInt16(v int16) error {
	var tmp [3]byte
	tmp[0] = byte(TagInt16)
	tmp[1] = byte(v)
	tmp[2] = byte(v >> 8)
	_, err := fp.w.Write(tmp[:])
	return err
}

func (fp *FilePacker) AddInt32(v int32) error {
	var tmp [5]byte
	tmp[0] = byte(TagInt32)
	tmp[1] = byte(v)
	tmp[2] = byte(v >> 8)
	tmp[3] = byte(v >> 16)
	tmp[4] = byte(v >> 24)
	_, err := fp.w.Write(tmp[:])
	return err
}

func (fp *FilePacker) AddRaw(raw []byte) error {
	n := len(raw)
	switch {
	case n < 1<<8:
		if err := fp.AddType(TagRaw8); err != nil {
			return err
		}
		if err := fp.w.WriteByte(byte(n)); err != nil {
			return err
		}
	case n < 1<<16:
		if err := fp.AddType(TagRaw16); err != nil {
			return err
		}
		if _, err := fp.w.Write([]byte{byte(n), byte(n >> 8)}); err != nil {
			return err
		}
	default:
		if err := fp.AddType(TagRaw32); err != nil {
			return err
		}
		if _, err := fp.w.Write([]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}); err != nil {
			return err
		}
	}
	_, err := fp.w.Write(raw)
	return err
}

// AddStringTerm writes s with a trailing NUL (series/user name convention).
func (fp *FilePacker) AddStringTerm(s string) error {
	return fp.AddRaw(append([]byte(s), 0))
}

// Flush flushes the buffered writer to the OS without closing the file,
// matching qp_flush's "fflush" semantics (qpextra.h).
func (fp *FilePacker) Flush() error {
	return fp.w.Flush()
}

// Close flushes and closes the underlying file.
func (fp *FilePacker) Close() error {
	if err := fp.w.Flush(); err != nil {
		fp.f.Close()
		return err
	}
	return fp.f.Close()
}
