// Package transport provides the concrete connector behind a pool server's
// opaque "send package to one available server" primitive (spec.md §4.8,
// §6). Package layout and pid allocation belong to internal/pool (the
// Pkg type and Server.allocPid); the RPC/query grammar riding on top of a
// package's payload is the out-of-scope layer per spec.md §1. This package
// only owns the bidirectional, message-framed connection a Server holds and
// ships whatever opaque []byte pool.Pkg.Encode hands it.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps a gorilla/websocket connection as a pool.Connector: one
// in-flight request at a time, matched to its reply by blocking read
// immediately after write (spec.md §5: "Cross-node RPC is asynchronous and
// completes via callback/promise", modeled here as a synchronous round
// trip under a per-connection lock since each Server serializes its own
// sends).
type Conn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// Dial opens a websocket connection to a pool server's RPC endpoint.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Connected reports whether Close has not yet been called on this Conn; a
// close by the remote peer is not detected here.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send writes payload as a single binary frame and waits for one binary
// frame in reply, honoring ctx's deadline.
func (c *Conn) Send(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("transport: connection closed")
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return nil, fmt.Errorf("transport: write: %w", err)
	}

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, reply, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return reply, nil
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
