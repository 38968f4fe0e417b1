// Package websocket implements [protocol.Client] over a single WebSocket
// connection.
//
// One connection carries both directions of the conversation: JSON control
// messages travel as text frames and encoded audio as binary frames, framed
// per the negotiated binary protocol version (see [protocol.EncodeAudioFrame]).
// Opening the audio channel dials the backend, sends the client hello and
// waits for the server hello that announces the session id and the format of
// inbound audio.
//
// Dial attempts pass through a [resilience.CircuitBreaker] so a device with no
// reachable backend stops hammering it after a few failures.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphoxa-edge/internal/resilience"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

var _ protocol.Client = (*Client)(nil)

// ErrHelloTimeout is returned by [Client.OpenAudioChannel] when the server
// does not answer the client hello in time.
var ErrHelloTimeout = errors.New("websocket: timed out waiting for server hello")

// ErrNoEndpoint is returned by [Client.OpenAudioChannel] before a URL has
// been configured or provisioned with [Client.SetEndpoint].
var ErrNoEndpoint = errors.New("websocket: no endpoint configured")

const (
	defaultHelloTimeout   = 10 * time.Second
	defaultChannelTimeout = 120 * time.Second
	defaultSampleRate     = 16000
	defaultFrameDuration  = 60
	readLimit             = 1 << 20
)

// Config holds the connection parameters.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Token is sent as the Authorization header. A bare token gets a
	// "Bearer " prefix; a value containing a space is sent as-is.
	Token string

	// Version is the binary protocol version, 1 to 3. Default 1.
	Version int

	// DeviceID and ClientID identify the device to the backend.
	DeviceID string
	ClientID string

	// SampleRate and FrameDuration describe outbound audio in the client
	// hello. They also serve as the inbound format until the server hello
	// says otherwise. Defaults 16000 Hz and 60 ms.
	SampleRate    int
	FrameDuration int

	// MCP advertises the device tool server in the client hello.
	MCP bool

	// HelloTimeout bounds the wait for the server hello. Default 10s.
	HelloTimeout time.Duration

	// ChannelTimeout treats the channel as closed when nothing has been
	// received for this long. Default 120s.
	ChannelTimeout time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithCircuitBreaker replaces the default dial breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithHTTPClient sets the HTTP client used for the upgrade request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is a WebSocket [protocol.Client]. It is safe for concurrent use.
type Client struct {
	cfg        Config
	breaker    *resilience.CircuitBreaker
	httpClient *http.Client

	mu          sync.Mutex
	sess        *session
	sessionID   string
	serverRate  int
	serverFrame int

	busy atomic.Bool

	// readContext scopes a session's read loop.
	readContext func() (context.Context, context.CancelFunc)

	cbMu     sync.Mutex
	onAudio  func(*protocol.AudioStreamPacket)
	onEvent  func(protocol.Event)
	onOpened func()
	onClosed func()
	onError  func(string)
}

// session is one dialled connection.
type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	hello  chan protocol.HelloEvent

	opened       atomic.Bool
	failed       atomic.Bool
	lastIncoming atomic.Int64
}

// New creates a Client. The connection is not dialled until
// [Client.OpenAudioChannel].
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Version == 0 {
		cfg.Version = protocol.BinaryVersion1
	}
	if cfg.Version < protocol.BinaryVersion1 || cfg.Version > protocol.BinaryVersion3 {
		return nil, fmt.Errorf("websocket: unsupported protocol version %d", cfg.Version)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = defaultFrameDuration
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = defaultChannelTimeout
	}

	c := &Client{
		cfg:         cfg,
		serverRate:  cfg.SampleRate,
		serverFrame: cfg.FrameDuration,
		readContext: func() (context.Context, context.CancelFunc) {
			return context.WithCancel(context.Background())
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "websocket",
			MaxFailures: 3,
		})
	}
	return c, nil
}

// Start implements [protocol.Client]. The WebSocket transport needs no
// preparation, so Start only validates the endpoint scheme. An empty URL is
// accepted; it is expected from provisioning before the first open.
func (c *Client) Start(_ context.Context) error {
	url, _ := c.endpoint()
	if url == "" {
		return nil
	}
	return checkScheme(url)
}

func checkScheme(url string) error {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("websocket: url %q must use ws:// or wss://", url)
	}
	return nil
}

// SetEndpoint replaces the URL and token used by the next
// [Client.OpenAudioChannel]. An empty token keeps the current one. The open
// channel, if any, is not affected.
func (c *Client) SetEndpoint(url, token string) error {
	if err := checkScheme(url); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.URL = url
	if token != "" {
		c.cfg.Token = token
	}
	return nil
}

func (c *Client) endpoint() (url, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.URL, c.cfg.Token
}

// OpenAudioChannel implements [protocol.Client]. Any previous connection is
// closed first.
func (c *Client) OpenAudioChannel(ctx context.Context) error {
	c.CloseAudioChannel()

	url, token := c.endpoint()
	if url == "" {
		return ErrNoEndpoint
	}
	var conn *websocket.Conn
	err := c.breaker.Execute(func() error {
		var dialErr error
		conn, _, dialErr = websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPClient: c.httpClient,
			HTTPHeader: c.headers(token),
		})
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("websocket: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := c.readContext()
	s := &session{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		hello:  make(chan protocol.HelloEvent, 1),
	}
	s.lastIncoming.Store(time.Now().UnixNano())
	go c.readLoop(readCtx, s)

	if err := c.sendHello(ctx, s); err != nil {
		c.abandon(s)
		return err
	}

	timer := time.NewTimer(c.cfg.HelloTimeout)
	defer timer.Stop()
	var hello protocol.HelloEvent
	select {
	case hello = <-s.hello:
	case <-timer.C:
		c.abandon(s)
		return ErrHelloTimeout
	case <-ctx.Done():
		c.abandon(s)
		return fmt.Errorf("websocket: waiting for server hello: %w", ctx.Err())
	case <-s.done:
		c.abandon(s)
		return errors.New("websocket: connection closed before server hello")
	}

	c.mu.Lock()
	c.sess = s
	c.sessionID = hello.SessionID
	if p := hello.AudioParams; p != nil {
		if p.SampleRate > 0 {
			c.serverRate = p.SampleRate
		}
		if p.FrameDuration > 0 {
			c.serverFrame = p.FrameDuration
		}
	}
	c.mu.Unlock()
	s.opened.Store(true)

	slog.Info("websocket: audio channel opened",
		"session_id", hello.SessionID,
		"server_sample_rate", c.ServerSampleRate(),
		"server_frame_duration", c.ServerFrameDuration(),
	)
	c.cbMu.Lock()
	fn := c.onOpened
	c.cbMu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (c *Client) headers(token string) http.Header {
	h := http.Header{}
	if token != "" {
		if !strings.Contains(token, " ") {
			token = "Bearer " + token
		}
		h.Set("Authorization", token)
	}
	h.Set("Protocol-Version", strconv.Itoa(c.cfg.Version))
	if c.cfg.DeviceID != "" {
		h.Set("Device-Id", c.cfg.DeviceID)
	}
	if c.cfg.ClientID != "" {
		h.Set("Client-Id", c.cfg.ClientID)
	}
	return h
}

type clientHello struct {
	Type        string               `json:"type"`
	Version     int                  `json:"version"`
	Features    map[string]bool      `json:"features,omitempty"`
	Transport   string               `json:"transport"`
	AudioParams protocol.AudioParams `json:"audio_params"`
}

func (c *Client) sendHello(ctx context.Context, s *session) error {
	msg := clientHello{
		Type:      "hello",
		Version:   c.cfg.Version,
		Transport: "websocket",
		AudioParams: protocol.AudioParams{
			Format:        "opus",
			SampleRate:    c.cfg.SampleRate,
			Channels:      1,
			FrameDuration: c.cfg.FrameDuration,
		},
	}
	if c.cfg.MCP {
		msg.Features = map[string]bool{"mcp": true}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("websocket: marshal hello: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket: send hello: %w", err)
	}
	return nil
}

// abandon tears down a session that never finished its handshake.
func (c *Client) abandon(s *session) {
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	<-s.done
}

// readLoop owns the connection's inbound side. It exits when the connection
// fails or ctx is cancelled by [Client.CloseAudioChannel].
func (c *Client) readLoop(ctx context.Context, s *session) {
	defer close(s.done)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			c.finish(ctx, s, err)
			return
		}
		s.lastIncoming.Store(time.Now().UnixNano())

		switch typ {
		case websocket.MessageText:
			c.handleText(s, data)
		case websocket.MessageBinary:
			pkt, err := protocol.DecodeAudioFrame(c.cfg.Version, data)
			if err != nil {
				slog.Debug("websocket: dropping binary frame", "err", err)
				continue
			}
			c.cbMu.Lock()
			fn := c.onAudio
			c.cbMu.Unlock()
			if fn != nil {
				fn(pkt)
			}
		}
	}
}

func (c *Client) handleText(s *session, data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		slog.Debug("websocket: dropping message", "err", err)
		return
	}
	if hello, ok := ev.(protocol.HelloEvent); ok {
		if hello.Transport != "websocket" {
			slog.Warn("websocket: unsupported transport in server hello", "transport", hello.Transport)
			return
		}
		select {
		case s.hello <- hello:
		default:
		}
		return
	}
	c.cbMu.Lock()
	fn := c.onEvent
	c.cbMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// finish reports the end of a session. An unexpected close of an opened
// channel raises a network error first; the closed callback fires once per
// opened channel either way.
func (c *Client) finish(ctx context.Context, s *session, err error) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()

	if !s.opened.Load() {
		return
	}
	c.cbMu.Lock()
	onError, onClosed := c.onError, c.onClosed
	c.cbMu.Unlock()

	expected := ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure
	if !expected {
		slog.Warn("websocket: connection lost", "err", err)
		if onError != nil {
			onError("server connection lost")
		}
	} else {
		slog.Info("websocket: audio channel closed")
	}
	if onClosed != nil {
		onClosed()
	}
}

// CloseAudioChannel implements [protocol.Client].
func (c *Client) CloseAudioChannel() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	<-s.done
}

// IsAudioChannelOpened implements [protocol.Client]. A channel that has
// failed a send or received nothing within ChannelTimeout counts as closed.
func (c *Client) IsAudioChannelOpened() bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || !s.opened.Load() || s.failed.Load() {
		return false
	}
	idle := time.Since(time.Unix(0, s.lastIncoming.Load()))
	if idle > c.cfg.ChannelTimeout {
		slog.Warn("websocket: channel timed out", "idle", idle)
		return false
	}
	return true
}

// IsAudioChannelBusy implements [protocol.Client]. It reports whether an
// audio write is in progress.
func (c *Client) IsAudioChannelBusy() bool {
	return c.busy.Load()
}

func (c *Client) current() (*session, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.sess.opened.Load() {
		return nil, ""
	}
	return c.sess, c.sessionID
}

// SendAudio implements [protocol.Client].
func (c *Client) SendAudio(ctx context.Context, pkt *protocol.AudioStreamPacket) error {
	s, _ := c.current()
	if s == nil {
		return protocol.ErrChannelClosed
	}
	frame, err := protocol.EncodeAudioFrame(c.cfg.Version, pkt)
	if err != nil {
		return err
	}
	c.busy.Store(true)
	defer c.busy.Store(false)
	if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("websocket: send audio: %w", err)
	}
	return nil
}

// SendControl implements [protocol.Client]. A failed write marks the channel
// broken and raises a network error.
func (c *Client) SendControl(ctx context.Context, msg protocol.ControlMessage) error {
	s, sessionID := c.current()
	if s == nil {
		return protocol.ErrChannelClosed
	}
	data, err := msg.Encode(sessionID)
	if err != nil {
		return err
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.failed.Store(true)
		c.cbMu.Lock()
		fn := c.onError
		c.cbMu.Unlock()
		if fn != nil {
			fn("server error")
		}
		return fmt.Errorf("websocket: send %s: %w", msg.Kind(), err)
	}
	return nil
}

// SessionID returns the id announced by the last server hello.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerSampleRate implements [protocol.Client].
func (c *Client) ServerSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverRate
}

// ServerFrameDuration implements [protocol.Client].
func (c *Client) ServerFrameDuration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverFrame
}

// OnIncomingAudio implements [protocol.Client].
func (c *Client) OnIncomingAudio(fn func(*protocol.AudioStreamPacket)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAudio = fn
}

// OnIncomingEvent implements [protocol.Client].
func (c *Client) OnIncomingEvent(fn func(protocol.Event)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onEvent = fn
}

// OnAudioChannelOpened implements [protocol.Client].
func (c *Client) OnAudioChannelOpened(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onOpened = fn
}

// OnAudioChannelClosed implements [protocol.Client].
func (c *Client) OnAudioChannelClosed(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onClosed = fn
}

// OnNetworkError implements [protocol.Client].
func (c *Client) OnNetworkError(fn func(string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onError = fn
}
