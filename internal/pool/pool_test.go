package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	connected bool
	reply     []byte
	err       error
	lastSend  []byte
}

func (f *fakeConn) Send(ctx context.Context, payload []byte) ([]byte, error) {
	f.lastSend = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}
func (f *fakeConn) Connected() bool { return f.connected }

// Sc3 — with the lookup table built such that sum("cpu.load") mod 65536
// indexes to pool 3, SN("cpu.load") must return 3.
func TestLookupSNMatchesSc3(t *testing.T) {
	var l Lookup
	var sum uint32
	for i := 0; i < len("cpu.load"); i++ {
		sum += uint32("cpu.load"[i])
	}
	l[sum%LookupSize] = 3
	if got := l.SN("cpu.load"); got != 3 {
		t.Fatalf("SN(cpu.load) = %d, want 3", got)
	}
}

func TestSNRawMatchesSNForFullLength(t *testing.T) {
	var l Lookup
	l[42] = 7
	name := "some.series.name"
	var sum uint32
	for i := 0; i < len(name); i++ {
		sum += uint32(name[i])
	}
	l[sum%LookupSize] = 9
	if got := l.SN(name); got != l.SNRaw(name, len(name)) {
		t.Fatalf("SN = %d, SNRaw = %d, want equal", got, l.SNRaw(name, len(name)))
	}
}

func TestServerOnlineRequiresConnectedAndAuthenticated(t *testing.T) {
	s := NewServer("127.0.0.1:9000", &fakeConn{connected: true})
	if s.Online() {
		t.Fatalf("expected not online before authentication")
	}
	s.SetAuthenticated(true)
	if !s.Online() {
		t.Fatalf("expected online once authenticated")
	}
}

func TestServerAvailableFalseWhenBusy(t *testing.T) {
	s := NewServer("127.0.0.1:9000", &fakeConn{connected: true})
	s.SetAuthenticated(true)
	if !s.Available() {
		t.Fatalf("expected available")
	}
	s.SetBusy(true)
	if s.Available() {
		t.Fatalf("expected unavailable while busy")
	}
}

func TestSendPkgReturnsNotAvailableWithNoServers(t *testing.T) {
	p := New(1)
	_, status, err := SendPkg(context.Background(), p, 1, []byte("x"), time.Second)
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v, want ErrNotAvailable", err)
	}
	if status != StatusNotAvailable {
		t.Fatalf("status = %v, want StatusNotAvailable", status)
	}
}

func TestSendPkgSucceedsWithAvailableServer(t *testing.T) {
	s := NewServer("127.0.0.1:9000", &fakeConn{connected: true, reply: []byte("ok")})
	s.SetAuthenticated(true)
	p := New(1, s)
	reply, status, err := SendPkg(context.Background(), p, 1, []byte("x"), time.Second)
	if err != nil {
		t.Fatalf("SendPkg: %v", err)
	}
	if status != StatusOK || string(reply) != "ok" {
		t.Fatalf("status=%v reply=%q, want ok/\"ok\"", status, reply)
	}
}

func TestSendPkgPropagatesTransportError(t *testing.T) {
	s := NewServer("127.0.0.1:9000", &fakeConn{connected: true, err: errors.New("boom")})
	s.SetAuthenticated(true)
	p := New(1, s)
	_, status, err := SendPkg(context.Background(), p, 1, []byte("x"), time.Second)
	if err == nil {
		t.Fatalf("expected error")
	}
	if status != StatusTransportError {
		t.Fatalf("status = %v, want StatusTransportError", status)
	}
}

func TestSendPkgAllocatesFreshPidPerSend(t *testing.T) {
	var sent [][]byte
	conn := &fakeConn{connected: true, reply: []byte("ok")}
	s := NewServer("127.0.0.1:9000", conn)
	s.SetAuthenticated(true)
	p := New(1, s)

	for i := 0; i < 2; i++ {
		if _, _, err := SendPkg(context.Background(), p, 7, []byte("x"), time.Second); err != nil {
			t.Fatalf("SendPkg: %v", err)
		}
		sent = append(sent, conn.lastSend)
	}

	first, err := DecodePkg(sent[0])
	if err != nil {
		t.Fatalf("DecodePkg(first): %v", err)
	}
	second, err := DecodePkg(sent[1])
	if err != nil {
		t.Fatalf("DecodePkg(second): %v", err)
	}
	if first.Pid == second.Pid {
		t.Fatalf("expected distinct pids across sends, got %d both times", first.Pid)
	}
	if first.Type != 7 || second.Type != 7 {
		t.Fatalf("expected type 7 preserved, got %d and %d", first.Type, second.Type)
	}
}
