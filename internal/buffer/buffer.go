// Package buffer implements the per-series bounded in-memory head region
// described in spec.md §3/§4.3: a bounded Points window backed by one fixed
// size slot in a file shared by every series of a database.
package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/points"
)

// pointRecordSize is the on-disk size of one buffered point: an 8-byte
// timestamp plus an 8-byte value (raw bits reinterpreted per series type).
// String series never get a buffer (spec.md §4.3, §9), so the slot format
// never needs a variable-width record.
const pointRecordSize = 16

// slotHeaderSize is the u16 length prefix every slot begins with
// (spec.md §4.3: "[u16 len][points...]").
const slotHeaderSize = 2

// SlotSize returns the fixed size of one series' slot for a buffer holding
// up to capacity points (buffer_len+1 slack slot included by the caller).
func SlotSize(capacity uint32) uint32 {
	return slotHeaderSize + pointRecordSize*capacity
}

// Offset deterministically derives a series' slot offset from its id, so a
// crash recovers without needing a separate slot-allocation file: the
// catalog already persists (name,id,tp) and that alone is enough to find
// where a series' buffer lives. The one-time cost is that a dropped id's
// slot is never reclaimed.
func Offset(id uint32, slotSize uint32) int64 {
	return int64(id-1) * int64(slotSize)
}

// Manager owns the shared buffer file for one database.
type Manager struct {
	cfg  config.Config
	f    *os.File
	mu   sync.Mutex
	errf *engineerr.Flag
}

// Open opens (creating if absent) the shared buffer.dat file.
func Open(cfg config.Config, errf *engineerr.Flag) (*Manager, error) {
	f, err := os.OpenFile(cfg.DataDir+"/buffer.dat", os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		errf.Set(engineerr.File)
		return nil, err
	}
	return &Manager{cfg: cfg, f: f, errf: errf}, nil
}

func (m *Manager) Close() error { return m.f.Close() }

// Buffer is the in-memory mirror of one series' slot.
type Buffer struct {
	mgr    *Manager
	id     uint32
	offset int64
	slot   uint32
	Points *points.Points
}

// capacity is buffer_len+1: one slack slot so the flush decision can be
// made strictly after insertion (spec.md §3).
func (m *Manager) capacity() uint32 { return m.cfg.BufferLen + 1 }

// NewSeries allocates (zero-length) the slot for a freshly created series
// and writes its zero length header (spec.md §4.3 "new_series").
func (m *Manager) NewSeries(id uint32, tp points.Type) (*Buffer, error) {
	slotSize := SlotSize(m.capacity())
	b := &Buffer{
		mgr:    m,
		id:     id,
		offset: Offset(id, slotSize),
		slot:   slotSize,
		Points: points.New(int(m.capacity()), tp),
	}
	if err := b.writeLen(); err != nil {
		return nil, err
	}
	return b, nil
}

// Load re-reads an existing slot from disk, used during series catalog load
// to recover the in-memory buffer after a restart (spec.md §4.3 "a crash
// recovers by re-reading each slot").
func (m *Manager) Load(id uint32, tp points.Type) (*Buffer, error) {
	slotSize := SlotSize(m.capacity())
	offset := Offset(id, slotSize)

	hdr := make([]byte, slotHeaderSize)
	m.mu.Lock()
	_, err := m.f.ReadAt(hdr, offset)
	m.mu.Unlock()
	b := &Buffer{mgr: m, id: id, offset: offset, slot: slotSize, Points: points.New(int(m.capacity()), tp)}
	if err != nil {
		// Never-written slot (fresh buffer.dat tail); treat as empty.
		if err := b.writeLen(); err != nil {
			return nil, err
		}
		return b, nil
	}

	n := binary.LittleEndian.Uint16(hdr)
	if n == 0 {
		return b, nil
	}
	body := make([]byte, int(n)*pointRecordSize)
	m.mu.Lock()
	_, err = m.f.ReadAt(body, offset+slotHeaderSize)
	m.mu.Unlock()
	if err != nil {
		m.errf.Set(engineerr.File)
		return nil, fmt.Errorf("buffer: read slot for series %d: %w", id, err)
	}
	for i := 0; i < int(n); i++ {
		rec := body[i*pointRecordSize : (i+1)*pointRecordSize]
		ts := binary.LittleEndian.Uint64(rec[0:8])
		raw := binary.LittleEndian.Uint64(rec[8:16])
		switch tp {
		case points.Float:
			b.Points.Append(points.Point{TS: ts, Float: math.Float64frombits(raw)})
		default:
			b.Points.Append(points.Point{TS: ts, Int: int64(raw)})
		}
	}
	return b, nil
}

// WritePoint appends a single point to the slot payload on disk, keeping
// the in-memory Points window and the on-disk slot synchronized
// (spec.md §4.3 "write_point").
func (b *Buffer) WritePoint(pt points.Point) error {
	b.Points.AddPoint(pt)
	return b.rewriteBody()
}

// rewriteBody rewrites the whole points payload. Slots are small (a few KB
// at most for realistic buffer_len values) so a full rewrite per point is
// simpler and safer than tracking a partial append offset, and keeps the
// invariant "in-memory points match the slot" trivially true after every
// write (spec.md §4.3 invariants).
func (b *Buffer) rewriteBody() error {
	data := b.Points.Data()
	body := make([]byte, len(data)*pointRecordSize)
	for i, pt := range data {
		rec := body[i*pointRecordSize : (i+1)*pointRecordSize]
		binary.LittleEndian.PutUint64(rec[0:8], pt.TS)
		var raw uint64
		if b.Points.Type == points.Float {
			raw = math.Float64bits(pt.Float)
		} else {
			raw = uint64(pt.Int)
		}
		binary.LittleEndian.PutUint64(rec[8:16], raw)
	}
	b.mgr.mu.Lock()
	_, err := b.mgr.f.WriteAt(body, b.offset+slotHeaderSize)
	b.mgr.mu.Unlock()
	if err != nil {
		b.mgr.errf.Set(engineerr.File)
		return fmt.Errorf("buffer: write slot body for series %d: %w", b.id, err)
	}
	return b.writeLen()
}

// writeLen rewrites the slot's length header, used both after a normal
// point write and after a flush resets the buffer to empty
// (spec.md §4.3 "write_len").
func (b *Buffer) writeLen() error {
	var hdr [slotHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(b.Points.Len()))
	b.mgr.mu.Lock()
	_, err := b.mgr.f.WriteAt(hdr[:], b.offset)
	b.mgr.mu.Unlock()
	if err != nil {
		b.mgr.errf.Set(engineerr.File)
		return fmt.Errorf("buffer: write slot header for series %d: %w", b.id, err)
	}
	return nil
}

// Reset clears the in-memory window and rewrites the on-disk length to
// zero, used after a successful flush to shards (spec.md §4.3 "to_shards").
func (b *Buffer) Reset() error {
	b.Points.Reset()
	return b.writeLen()
}

// Full reports whether the buffer has reached buffer_len (spec.md §4.6
// "siridb_series_add_point": "points->len == siridb->buffer_len").
func (b *Buffer) Full(bufferLen uint32) bool {
	return uint32(b.Points.Len()) == bufferLen
}
