// Package mcpdevice exposes the device's own tools to the backend over MCP.
//
// The backend acts as the MCP client. Its JSON-RPC messages arrive inside
// "mcp" control messages on the audio channel and the replies travel back the
// same way, so the server runs over an in-process [mcp.Connection] rather than
// stdio or HTTP. Each "initialize" request starts a fresh server session.
//
// Tools:
//
//   - self.get_device_status: current state, sleep readiness and speaker power.
//   - self.audio_speaker.set_output: power the speaker output up or down.
//   - self.audio_speaker.play_sound: play a prompt sound, when a [Player] is
//     configured.
package mcpdevice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/glyphoxa-edge/internal/device"
	"github.com/MrWong99/glyphoxa-edge/internal/observe"
)

var _ device.MCPHandler = (*Server)(nil)

// inboxSize bounds messages queued for the server session.
const inboxSize = 16

// Status reports the device state. [device.Orchestrator] satisfies it.
type Status interface {
	State() device.State
	CanEnterSleepMode() bool
}

// Speaker is the output path the tools control. [audio.Device] satisfies it.
type Speaker interface {
	EnableOutput(enable bool)
	OutputEnabled() bool
}

// Sender delivers one MCP payload to the backend. [device.Orchestrator]
// satisfies it.
type Sender interface {
	SendMCP(payload json.RawMessage)
}

// Player plays prompt sounds. [device.Orchestrator] satisfies it.
type Player interface {
	PlaySound(sound device.Sound)
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPlayer enables the play_sound tool.
func WithPlayer(p Player) Option {
	return func(s *Server) { s.player = p }
}

// WithVersion sets the version reported in the initialize response.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the device's MCP tool server. It is safe for concurrent use.
type Server struct {
	status  Status
	speaker Speaker
	player  Player
	metrics *observe.Metrics
	version string
	srv     *mcp.Server

	mu     sync.Mutex
	runCtx context.Context
	sender Sender
	conn   *conn
}

// New creates a Server. Messages are processed only while [Server.Run] is
// active.
func New(status Status, speaker Speaker, opts ...Option) *Server {
	s := &Server{status: status, speaker: speaker, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.srv = mcp.NewServer(&mcp.Implementation{Name: "glyphoxa-edge", Version: s.version}, nil)
	s.registerTools()
	return s
}

// Run routes replies to sender until ctx is cancelled.
func (s *Server) Run(ctx context.Context, sender Sender) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("mcpdevice: already running")
	}
	s.runCtx, s.sender = ctx, sender
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.runCtx, s.sender = nil, nil
	s.mu.Unlock()
	return nil
}

// Running reports whether [Server.Run] is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx != nil
}

// HandleMCP implements [device.MCPHandler]. It never blocks; messages that
// arrive while the session inbox is full are dropped.
func (s *Server) HandleMCP(_ context.Context, payload json.RawMessage) {
	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		slog.Warn("mcpdevice: malformed message", "err", err)
		return
	}

	c, err := s.session(isInitialize(payload))
	if err != nil {
		slog.Warn("mcpdevice: message dropped", "err", err)
		return
	}
	if !c.deliver(msg) {
		slog.Warn("mcpdevice: inbox full, message dropped")
	}
}

// session returns the live connection, starting a new server session when
// fresh is set or none exists yet.
func (s *Server) session(fresh bool) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return nil, errors.New("mcpdevice: server not running")
	}
	if s.conn != nil && !fresh {
		return s.conn, nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	c := newConn(s.sender)
	if _, err := s.srv.Connect(s.runCtx, &transport{conn: c}, nil); err != nil {
		return nil, err
	}
	s.conn = c
	slog.Debug("mcpdevice: session started")
	return c, nil
}

func isInitialize(payload json.RawMessage) bool {
	var head struct {
		Method string `json:"method"`
	}
	return json.Unmarshal(payload, &head) == nil && head.Method == "initialize"
}

// transport hands a pre-built connection to the SDK.
type transport struct {
	conn *conn
}

func (t *transport) Connect(context.Context) (mcp.Connection, error) {
	return t.conn, nil
}

// conn is an [mcp.Connection] whose inbound side is fed by HandleMCP and
// whose outbound side writes to the Sender.
type conn struct {
	sender Sender
	inbox  chan jsonrpc.Message
	closed chan struct{}
	once   sync.Once
}

func newConn(sender Sender) *conn {
	return &conn{
		sender: sender,
		inbox:  make(chan jsonrpc.Message, inboxSize),
		closed: make(chan struct{}),
	}
}

func (c *conn) deliver(msg jsonrpc.Message) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.inbox <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Write(_ context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.sender.SendMCP(data)
	return nil
}

func (c *conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *conn) SessionID() string { return "" }
