package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"
)

func TestOpenAudioChannel_ClosedBeforeHelloReleasesSession(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		// Consume the client hello, then hang up without answering.
		_, _, _ = conn.Read(r.Context())
		_ = conn.Close(websocket.StatusGoingAway, "bye")
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var cancelled atomic.Int32
	c.readContext = func() (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(context.Background())
		return ctx, func() {
			cancelled.Add(1)
			cancel()
		}
	}

	if err := c.OpenAudioChannel(context.Background()); err == nil {
		t.Fatal("OpenAudioChannel succeeded without a server hello")
	}
	if cancelled.Load() == 0 {
		t.Error("read context of the failed session was not cancelled")
	}
	if c.IsAudioChannelOpened() {
		t.Error("channel open after the server hung up")
	}
}
