package websocket_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphoxa-edge/internal/resilience"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
	ws "github.com/MrWong99/glyphoxa-edge/pkg/protocol/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a WebSocket server. handler owns the accepted conn;
// the conn is closed normally when handler returns.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func write(conn *websocket.Conn, typ websocket.MessageType, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, typ, data)
}

const serverHello = `{"type":"hello","transport":"websocket","session_id":"sess-1","audio_params":{"format":"opus","sample_rate":24000,"channels":1,"frame_duration":20}}`

// handshake consumes the client hello and answers with serverHello.
func handshake(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var hello map[string]any
	readJSON(t, conn, &hello)
	write(conn, websocket.MessageText, []byte(serverHello))
	return hello
}

// recorder collects client callbacks.
type recorder struct {
	mu     sync.Mutex
	audio  []*protocol.AudioStreamPacket
	events []protocol.Event
	opened int
	order  []string
}

func (r *recorder) attach(c *ws.Client) {
	c.OnIncomingAudio(func(p *protocol.AudioStreamPacket) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.audio = append(r.audio, p)
	})
	c.OnIncomingEvent(func(ev protocol.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	c.OnAudioChannelOpened(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opened++
	})
	c.OnAudioChannelClosed(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, "closed")
	})
	c.OnNetworkError(func(string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, "error")
	})
}

func (r *recorder) snapshot() (audio int, events []protocol.Event, order []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio), append([]protocol.Event(nil), r.events...), append([]string(nil), r.order...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_Validates(t *testing.T) {
	t.Parallel()
	empty, err := ws.New(ws.Config{})
	if err != nil {
		t.Fatalf("New without url: %v", err)
	}
	if err := empty.Start(context.Background()); err != nil {
		t.Errorf("Start without url: %v", err)
	}
	if err := empty.OpenAudioChannel(context.Background()); !errors.Is(err, ws.ErrNoEndpoint) {
		t.Errorf("OpenAudioChannel without url = %v, want ErrNoEndpoint", err)
	}
	if _, err := ws.New(ws.Config{URL: "ws://x", Version: 7}); err == nil {
		t.Error("New with version 7 succeeded")
	}
	c, err := ws.New(ws.Config{URL: "http://x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start accepted an http:// url")
	}
}

func TestSetEndpoint(t *testing.T) {
	t.Parallel()

	auth := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := ws.New(ws.Config{URL: "ws://127.0.0.1:1/unreachable", Token: "old"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SetEndpoint("https://example.com", "x"); err == nil {
		t.Error("SetEndpoint accepted an https:// url")
	}
	if err := c.SetEndpoint(wsURL(srv), "Token new"); err != nil {
		t.Fatalf("SetEndpoint: %v", err)
	}
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}
	defer c.CloseAudioChannel()
	if got := <-auth; got != "Token new" {
		t.Errorf("Authorization = %q, want %q", got, "Token new")
	}
}

func TestOpenAudioChannel_Handshake(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	hellos := make(chan map[string]any, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		hellos <- handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := ws.New(ws.Config{
		URL:      wsURL(srv),
		Token:    "secret",
		Version:  protocol.BinaryVersion2,
		DeviceID: "aa:bb:cc",
		ClientID: "client-1",
		MCP:      true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{}
	rec.attach(c)
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}
	defer c.CloseAudioChannel()

	h := <-headers
	for key, want := range map[string]string{
		"Authorization":    "Bearer secret",
		"Protocol-Version": "2",
		"Device-Id":        "aa:bb:cc",
		"Client-Id":        "client-1",
	} {
		if got := h.Get(key); got != want {
			t.Errorf("header %s = %q, want %q", key, got, want)
		}
	}

	hello := <-hellos
	if hello["type"] != "hello" || hello["transport"] != "websocket" || hello["version"] != float64(2) {
		t.Errorf("client hello = %v", hello)
	}
	if ap, _ := hello["audio_params"].(map[string]any); ap["sample_rate"] != float64(16000) || ap["format"] != "opus" {
		t.Errorf("audio_params = %v", hello["audio_params"])
	}
	if f, _ := hello["features"].(map[string]any); f["mcp"] != true {
		t.Errorf("features = %v, want mcp", hello["features"])
	}

	if !c.IsAudioChannelOpened() {
		t.Error("channel not reported open")
	}
	if got := c.SessionID(); got != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got)
	}
	if c.ServerSampleRate() != 24000 || c.ServerFrameDuration() != 20 {
		t.Errorf("server format = %d Hz / %d ms, want 24000 / 20", c.ServerSampleRate(), c.ServerFrameDuration())
	}
	if rec.opened != 1 {
		t.Errorf("opened callback fired %d times, want 1", rec.opened)
	}
}

func TestOpenAudioChannel_HelloTimeout(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c, _ := ws.New(ws.Config{URL: wsURL(srv), HelloTimeout: 100 * time.Millisecond})
	rec := &recorder{}
	rec.attach(c)

	err := c.OpenAudioChannel(context.Background())
	if !errors.Is(err, ws.ErrHelloTimeout) {
		t.Fatalf("OpenAudioChannel = %v, want ErrHelloTimeout", err)
	}
	if c.IsAudioChannelOpened() {
		t.Error("channel open after a failed handshake")
	}
	if _, _, order := rec.snapshot(); len(order) != 0 {
		t.Errorf("callbacks %v fired for a channel that never opened", order)
	}
}

func TestOpenAudioChannel_CircuitBreaker(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	c, _ := ws.New(ws.Config{URL: wsURL(srv)}, ws.WithCircuitBreaker(cb))

	for range 2 {
		if err := c.OpenAudioChannel(context.Background()); err == nil {
			t.Fatal("OpenAudioChannel succeeded against a failing server")
		}
	}
	err := c.OpenAudioChannel(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("third open = %v, want ErrCircuitOpen", err)
	}
}

func TestInbound_EventsAndAudio(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		write(conn, websocket.MessageText, []byte(`{"type":"tts","state":"start"}`))
		write(conn, websocket.MessageText, []byte(`{"type":"stt"}`)) // malformed, dropped
		write(conn, websocket.MessageText, []byte(serverHello))     // not an event
		frame, _ := protocol.EncodeAudioFrame(protocol.BinaryVersion2, &protocol.AudioStreamPacket{Payload: []byte{1, 2}, Timestamp: 77})
		write(conn, websocket.MessageBinary, frame)
		write(conn, websocket.MessageBinary, []byte{0, 2, 0, 1}) // truncated, dropped
		<-conn.CloseRead(context.Background()).Done()
	})

	c, _ := ws.New(ws.Config{URL: wsURL(srv), Version: protocol.BinaryVersion2})
	rec := &recorder{}
	rec.attach(c)
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}
	defer c.CloseAudioChannel()

	waitFor(t, "audio", func() bool { n, _, _ := rec.snapshot(); return n == 1 })
	_, events, _ := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("events = %v, want one tts event", events)
	}
	if ev, ok := events[0].(protocol.TTSEvent); !ok || ev.State != protocol.TTSStart {
		t.Errorf("event = %#v, want tts start", events[0])
	}
	rec.mu.Lock()
	pkt := rec.audio[0]
	rec.mu.Unlock()
	if pkt.Timestamp != 77 || len(pkt.Payload) != 2 {
		t.Errorf("packet = %+v, want timestamp 77 and 2 payload bytes", pkt)
	}
}

func TestOutbound_AudioAndControl(t *testing.T) {
	t.Parallel()
	type frame struct {
		typ  websocket.MessageType
		data []byte
	}
	got := make(chan frame, 4)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		for range 2 {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			typ, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			got <- frame{typ, data}
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c, _ := ws.New(ws.Config{URL: wsURL(srv), Version: protocol.BinaryVersion3})
	if err := c.SendAudio(context.Background(), &protocol.AudioStreamPacket{Payload: []byte{9}}); !errors.Is(err, protocol.ErrChannelClosed) {
		t.Errorf("SendAudio before open = %v, want ErrChannelClosed", err)
	}
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}
	defer c.CloseAudioChannel()

	if err := c.SendAudio(context.Background(), &protocol.AudioStreamPacket{Payload: []byte{9, 8}}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := c.SendControl(context.Background(), protocol.StartListening(protocol.ListeningModeAutoStop)); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	audio := <-got
	if audio.typ != websocket.MessageBinary || string(audio.data) != string([]byte{0, 0, 0, 2, 9, 8}) {
		t.Errorf("audio frame = %v %v, want v3 framing", audio.typ, audio.data)
	}
	ctrl := <-got
	var msg map[string]any
	if err := json.Unmarshal(ctrl.data, &msg); err != nil {
		t.Fatalf("control frame: %v", err)
	}
	if msg["session_id"] != "sess-1" || msg["type"] != "listen" || msg["state"] != "start" || msg["mode"] != "auto" {
		t.Errorf("control = %v", msg)
	}
}

func TestClose_ByClient(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c, _ := ws.New(ws.Config{URL: wsURL(srv)})
	rec := &recorder{}
	rec.attach(c)
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}

	c.CloseAudioChannel()
	c.CloseAudioChannel()

	if c.IsAudioChannelOpened() {
		t.Error("channel open after close")
	}
	if _, _, order := rec.snapshot(); len(order) != 1 || order[0] != "closed" {
		t.Errorf("callbacks = %v, want a single closed", order)
	}
	if err := c.SendControl(context.Background(), protocol.StopListening()); !errors.Is(err, protocol.ErrChannelClosed) {
		t.Errorf("SendControl after close = %v, want ErrChannelClosed", err)
	}
}

func TestClose_ServerDropsConnection(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close(websocket.StatusInternalError, "crashed")
	})

	c, _ := ws.New(ws.Config{URL: wsURL(srv)})
	rec := &recorder{}
	rec.attach(c)
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}

	waitFor(t, "closed callback", func() bool {
		_, _, order := rec.snapshot()
		return len(order) == 2
	})
	if _, _, order := rec.snapshot(); order[0] != "error" || order[1] != "closed" {
		t.Errorf("callbacks = %v, want error then closed", order)
	}
	if c.IsAudioChannelOpened() {
		t.Error("channel open after the server dropped it")
	}
	c.CloseAudioChannel()
	if _, _, order := rec.snapshot(); len(order) != 2 {
		t.Errorf("close after drop fired more callbacks: %v", order)
	}
}

func TestClose_ServerNormalClosure(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		time.Sleep(50 * time.Millisecond)
	})

	c, _ := ws.New(ws.Config{URL: wsURL(srv)})
	rec := &recorder{}
	rec.attach(c)
	if err := c.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel: %v", err)
	}
	waitFor(t, "closed callback", func() bool {
		_, _, order := rec.snapshot()
		return len(order) > 0
	})
	if _, _, order := rec.snapshot(); len(order) != 1 || order[0] != "closed" {
		t.Errorf("callbacks = %v, want only closed", order)
	}
}
