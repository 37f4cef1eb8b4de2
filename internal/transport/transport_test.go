package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConnRoundTripsOverWebsocket(t *testing.T) {
	upgrader := NewUpgrader()
	srvDone := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			close(srvDone)
			return
		}
		defer conn.Close()
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			t.Errorf("server read: %v", err)
			close(srvDone)
			return
		}
		echoed := append([]byte("echo:"), payload...)
		if err := conn.ws.WriteMessage(2, echoed); err != nil {
			t.Errorf("server write: %v", err)
		}
		close(srvDone)
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if !conn.Connected() {
		t.Fatalf("expected Connected() true after dial")
	}

	reply, err := conn.Send(ctx, []byte("hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(reply) != "echo:hi" {
		t.Fatalf("reply = %q, want %q", reply, "echo:hi")
	}
	<-srvDone
}

func TestConnSendAfterCloseErrors(t *testing.T) {
	upgrader := NewUpgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Accept(w, r)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	if _, err := conn.Send(ctx, []byte("x")); err == nil {
		t.Fatalf("expected error sending on closed connection")
	}
}
