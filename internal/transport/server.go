package transport

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Upgrader accepts incoming pool-peer connections on the RPC listener side
// of the same websocket transport Conn uses to dial out.
type Upgrader struct {
	ws websocket.Upgrader
}

// NewUpgrader returns an Upgrader with no origin restriction: pool peers
// are trusted cluster members, not browser clients.
func NewUpgrader() *Upgrader {
	return &Upgrader{ws: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}
}

// Accept upgrades an incoming HTTP request to a *Conn.
func (u *Upgrader) Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}
