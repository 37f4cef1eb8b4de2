// Package pool implements the 64 Ki-entry name→pool lookup table and the
// per-pool server routing described in spec.md §4.8: pool_sn, online/
// available bookkeeping, and pool_send_pkg. Grounded directly on
// original_source/src/siri/db/pool.c.
package pool

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LookupSize is the fixed table width (spec.md §3 "Pool lookup").
const LookupSize = 65536

// Lookup is the 64 Ki-entry name→pool-id table. Construction (which pool id
// ends up at which slot) is external per spec.md §3; this type only stores
// and indexes it.
type Lookup [LookupSize]uint16

// SN sums the bytes of a NUL-free name and indexes the table
// (siridb_pool_sn).
func (l *Lookup) SN(name string) uint16 {
	return l.SNRaw(name, len(name))
}

// SNRaw sums the first n bytes of name (siridb_pool_sn_raw), letting a
// caller route on a non-terminated slice.
func (l *Lookup) SNRaw(name string, n int) uint16 {
	var sum uint32
	for i := 0; i < n; i++ {
		sum += uint32(name[i])
	}
	return l[sum%LookupSize]
}

// Status is the outcome of a send_pkg attempt.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
	StatusTransportError
	StatusCancelled
	StatusNotAvailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusTransportError:
		return "transport_error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "not_available"
	}
}

// ErrNotAvailable is returned by SendPkg when no server in the pool is
// available; the callback is never invoked in that case
// (siridb_pool_send_pkg: "returns -1 if none available").
var ErrNotAvailable = errors.New("pool: no server available")

// Connector is the opaque transport a Server uses to exchange packages with
// a remote node; internal/transport's websocket connector implements this.
// It carries an already-encoded Pkg and knows nothing about pid allocation.
type Connector interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
	Connected() bool
}

// Pkg is the wire-level pool package spec.md §4.8/§6 describes:
// {pid u16, type u8, data}. Pid is rewritten by SendPkg with a freshly
// allocated per-connection id before the package goes out, mirroring
// pool_send_pkg overwriting pkg->pid.
type Pkg struct {
	Pid  uint16
	Type uint8
	Data []byte
}

// Encode lays out a Pkg as {pid u16 LE}{type u8}{data...}.
func (p Pkg) Encode() []byte {
	buf := make([]byte, 3+len(p.Data))
	binary.LittleEndian.PutUint16(buf[0:2], p.Pid)
	buf[2] = p.Type
	copy(buf[3:], p.Data)
	return buf
}

// DecodePkg parses the layout Encode produces.
func DecodePkg(raw []byte) (Pkg, error) {
	if len(raw) < 3 {
		return Pkg{}, fmt.Errorf("pool: truncated package header (%d bytes)", len(raw))
	}
	return Pkg{
		Pid:  binary.LittleEndian.Uint16(raw[0:2]),
		Type: raw[2],
		Data: raw[3:],
	}, nil
}

// Server is one replica in a pool.
type Server struct {
	ID   uuid.UUID
	Addr string

	mu            sync.Mutex
	conn          Connector
	authenticated bool
	busy          bool

	nextPid atomic.Uint32
}

// NewServer allocates a Server with a fresh stable identity
// (SPEC_FULL.md §11: "stable per-server identity inside a pool").
func NewServer(addr string, conn Connector) *Server {
	return &Server{ID: uuid.New(), Addr: addr, conn: conn}
}

func (s *Server) SetAuthenticated(v bool) {
	s.mu.Lock()
	s.authenticated = v
	s.mu.Unlock()
}

func (s *Server) SetBusy(v bool) {
	s.mu.Lock()
	s.busy = v
	s.mu.Unlock()
}

// allocPid hands out a freshly allocated per-connection pid
// (siridb_pool_send_pkg: "pkg->pid = pkg_new_pid(server)"), wrapping at
// uint16 the way the original 16-bit counter does.
func (s *Server) allocPid() uint16 {
	return uint16(s.nextPid.Add(1))
}

// Online reports whether the server is at least connected and
// authenticated (siridb_server_is_online).
func (s *Server) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.Connected() && s.authenticated
}

// Available is the stricter bar: connected, authenticated, and not busy
// (siridb_server_is_available).
func (s *Server) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.Connected() && s.authenticated && !s.busy
}

// Pool holds the replicated servers for one pool id.
type Pool struct {
	ID      uint16
	mu      sync.RWMutex
	servers []*Server
}

func New(id uint16, servers ...*Server) *Pool {
	return &Pool{ID: id, servers: append([]*Server(nil), servers...)}
}

func (p *Pool) AddServer(s *Server) {
	p.mu.Lock()
	p.servers = append(p.servers, s)
	p.mu.Unlock()
}

func (p *Pool) Servers() []*Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Server(nil), p.servers...)
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.servers)
}

// Online reports whether any server in the pool is online
// (siridb_pool_online).
func (p *Pool) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.servers {
		if s.Online() {
			return true
		}
	}
	return false
}

// Available reports whether any server in the pool is available
// (siridb_pool_available).
func (p *Pool) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.servers {
		if s.Available() {
			return true
		}
	}
	return false
}

// availableServers collects every currently-available server, preserving
// pool order.
func (p *Pool) availableServers() []*Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var avail []*Server
	for _, s := range p.servers {
		if s.Available() {
			avail = append(avail, s)
		}
	}
	return avail
}

// pick chooses one available server uniformly at random. The original C
// implementation biases toward the last two servers seen during its scan
// (`pool->server[rand() % 2]`, a latent bug noted in spec.md §9 DESIGN
// NOTES); this replaces it with a uniform pick over every available
// server, which is the intended load-balancing behavior.
func pick(avail []*Server) *Server {
	if len(avail) == 0 {
		return nil
	}
	return avail[rand.Intn(len(avail))]
}

// SendPkg builds a Pkg of the given type and data, selects one available
// server in the pool uniformly at random, overwrites the package's pid with
// a freshly allocated per-connection id (siridb_pool_send_pkg), and waits up
// to timeout for a reply. Returns ErrNotAvailable if no server in the pool
// is available; the package is never sent in that case.
func SendPkg(ctx context.Context, p *Pool, pkgType uint8, data []byte, timeout time.Duration) ([]byte, Status, error) {
	avail := p.availableServers()
	server := pick(avail)
	if server == nil {
		return nil, StatusNotAvailable, ErrNotAvailable
	}

	cctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	server.SetBusy(true)
	defer server.SetBusy(false)

	pkg := Pkg{Pid: server.allocPid(), Type: pkgType, Data: data}
	reply, err := server.conn.Send(cctx, pkg.Encode())
	switch {
	case err == nil:
		return reply, StatusOK, nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil, StatusTimeout, err
	case errors.Is(err, context.Canceled):
		return nil, StatusCancelled, err
	default:
		return nil, StatusTransportError, err
	}
}
