package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	amock "github.com/MrWong99/glyphoxa-edge/pkg/audio/mock"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
	pmock "github.com/MrWong99/glyphoxa-edge/pkg/protocol/mock"
)

// recordingIndicator records every call made by the orchestrator.
type recordingIndicator struct {
	mu       sync.Mutex
	states   []State
	statuses []string
	emotions []string
	chats    [][2]string

	// onChange, if set, runs inside OnStateChanged.
	onChange func(State)
}

func (r *recordingIndicator) OnStateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (r *recordingIndicator) SetStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingIndicator) SetEmotion(emotion string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emotions = append(r.emotions, emotion)
}

func (r *recordingIndicator) SetChatMessage(role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, [2]string{role, text})
}

func (r *recordingIndicator) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recordingIndicator) lastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recordingIndicator) chatLog() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.chats...)
}

// harness runs an orchestrator's event loop against mocks. The audio loop is
// not started; tests drive onAudioInput and onAudioOutput themselves.
type harness struct {
	t      *testing.T
	ctx    context.Context
	o      *Orchestrator
	proto  *pmock.Client
	dev    *amock.Device
	enc    *amock.Encoder
	dec    *amock.Decoder
	wake   *amock.WakeWordDetector
	ind    *recordingIndicator
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessOn(t, &amock.Device{InputRate: 16000, Channels: 1, OutputRate: 16000}, opts...)
}

// newHarnessOn is newHarness with a caller-configured device.
func newHarnessOn(t *testing.T, dev *amock.Device, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		proto: &pmock.Client{},
		dev:   dev,
		enc:   &amock.Encoder{},
		dec:   &amock.Decoder{Rate: 16000},
		wake:  &amock.WakeWordDetector{},
		ind:   &recordingIndicator{},
	}

	h.reader = sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	opts = append([]Option{WithWakeWordDetector(h.wake), WithMetrics(m)}, opts...)
	o, err := New(h.proto, h.dev, h.enc, h.dec, h.ind, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	done := make(chan struct{})
	go func() {
		_ = o.eventLoop(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		o.exec.Close()
	})
	return h
}

// do runs fn on the event loop and waits for it to return.
func (h *harness) do(fn Task) {
	h.t.Helper()
	done := make(chan struct{})
	h.o.Schedule(func(ctx context.Context) {
		fn(ctx)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for event loop")
	}
}

// blockLoop parks the event loop inside a task until the returned channel
// is closed.
func (h *harness) blockLoop() chan struct{} {
	h.t.Helper()
	started := make(chan struct{})
	block := make(chan struct{})
	h.o.Schedule(func(context.Context) {
		close(started)
		<-block
	})
	<-started
	return block
}

// settle waits until the event loop has no queued tasks left, including
// tasks scheduled by tasks.
func (h *harness) settle() {
	h.t.Helper()
	for range 20 {
		h.do(func(context.Context) {})
		h.o.taskMu.Lock()
		n := len(h.o.tasks)
		h.o.taskMu.Unlock()
		if n == 0 {
			return
		}
	}
	h.t.Fatal("event loop did not settle")
}

// to transitions to s on the event loop and waits for it.
func (h *harness) to(s State) {
	h.t.Helper()
	h.do(func(ctx context.Context) { h.o.setState(ctx, s) })
}

// controlKinds lists the Kind of every sent control message.
func (h *harness) controlKinds() []string {
	var out []string
	for _, m := range h.proto.Controls() {
		out = append(out, m.Kind())
	}
	return out
}

// counter returns the value of a counter data point carrying key=value.
func (h *harness) counter(name, key, value string) int64 {
	h.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		h.t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					return dp.Value
				}
			}
		}
	}
	return 0
}

// waitFor polls cond until it holds or the deadline passes.
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

// fixedCanceller records what it is fed and returns mono frames of Value.
type fixedCanceller struct {
	mu    sync.Mutex
	fed   [][]int16
	Value int16
}

func (c *fixedCanceller) Process(interleaved []int16) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fed = append(c.fed, append([]int16(nil), interleaved...))
	out := make([]int16, len(interleaved)/2)
	for i := range out {
		out[i] = c.Value
	}
	return out, nil
}

func (c *fixedCanceller) calls() [][]int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]int16(nil), c.fed...)
}

func packet(b byte) *protocol.AudioStreamPacket {
	return &protocol.AudioStreamPacket{Payload: []byte{b}}
}
