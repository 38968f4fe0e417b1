package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphoxa-edge/internal/executor"
	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// ErrAlreadyRunning is returned by [Orchestrator.Run] when called twice.
var ErrAlreadyRunning = errors.New("device: orchestrator already running")

// Orchestrator is the device runtime. Construct it once with [New] and pass
// it to the collaborators that need to schedule work back into it.
//
// All exported methods are safe for concurrent use. Methods that change
// state do so by scheduling a [Task]; they return before it runs.
type Orchestrator struct {
	proto     protocol.Client
	dev       audio.Device
	enc       audio.Encoder
	dec       audio.Decoder
	ind       Indicator
	wake      audio.WakeWordDetector
	echo      audio.EchoCanceller
	things    Things
	mcp       MCPHandler
	activator Activator
	metrics   *observe.Metrics
	exec      *executor.Executor

	silenceTimeout time.Duration
	timestampBound int
	outboundCap    int
	frameMs        int
	aec            AECMode
	realtime       bool
	resamplerKind  audio.ResamplerKind
	reboot         func()
	sounds         map[Sound][]byte
	version        string

	// Scheduler. Each flag channel has capacity one; a pending signal is
	// never lost and never duplicated.
	taskMu          sync.Mutex
	tasks           []Task
	callbackPending chan struct{}
	audioPending    chan struct{}
	outbound        *outboundQueue

	// State cell. Written only by the event loop; read anywhere via State.
	stateMu sync.Mutex
	state   State

	// Event loop only.
	listeningMode  protocol.ListeningMode
	cancelActivate context.CancelFunc

	decodeQ    *decodeQueue
	timestamps *timestampQueue

	aborted        atomic.Bool
	busyDecoding   atomic.Bool
	replyPending   atomic.Bool // tts start received, Speaking not yet entered
	captureRunning atomic.Bool
	lastOutput     atomic.Int64 // unix nanoseconds of the last rendered frame
	clockTicks     atomic.Int64
	serverOffset   atomic.Int64 // server time minus local time, nanoseconds
	serverTimeSet  atomic.Bool
	running        atomic.Bool

	// Audio goroutine only.
	inResampler  audio.Resampler
	refResampler audio.Resampler

	// Executor jobs only.
	outResampler audio.Resampler
}

// New creates an Orchestrator wired to the given collaborators. ind may be
// nil. Protocol and wake-word callbacks are registered here, so New must be
// called before the client is started.
func New(proto protocol.Client, dev audio.Device, enc audio.Encoder, dec audio.Decoder, ind Indicator, opts ...Option) (*Orchestrator, error) {
	if proto == nil || dev == nil || enc == nil || dec == nil {
		return nil, errors.New("device: protocol client, audio device, encoder and decoder are required")
	}
	if ind == nil {
		ind = nopIndicator{}
	}

	o := &Orchestrator{
		proto:           proto,
		dev:             dev,
		enc:             enc,
		dec:             dec,
		ind:             ind,
		silenceTimeout:  defaultSilenceTimeout,
		timestampBound:  defaultTimestampQueueBound,
		outboundCap:     defaultOutboundCapacity,
		frameMs:         defaultFrameDuration,
		aec:             AECOff,
		callbackPending: make(chan struct{}, 1),
		audioPending:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if !o.aec.IsValid() {
		return nil, fmt.Errorf("device: invalid aec mode %q", o.aec)
	}

	if o.aec == AECDevice {
		if ch := dev.InputChannels(); ch != 2 {
			return nil, fmt.Errorf("device: aec mode %q needs a reference channel, input has %d", o.aec, ch)
		}
		if o.echo == nil {
			ec, err := audio.NewNLMSCanceller(audio.DefaultEchoTaps)
			if err != nil {
				return nil, fmt.Errorf("device: echo canceller: %w", err)
			}
			o.echo = ec
		}
	} else {
		o.echo = nil
	}

	if rate := dev.InputSampleRate(); rate != codecSampleRate {
		rs, err := audio.NewResampler(o.resamplerKind, rate, codecSampleRate)
		if err != nil {
			return nil, fmt.Errorf("device: input resampler: %w", err)
		}
		o.inResampler = rs
		if o.echo != nil {
			if o.refResampler, err = audio.NewResampler(o.resamplerKind, rate, codecSampleRate); err != nil {
				return nil, fmt.Errorf("device: reference resampler: %w", err)
			}
		}
	}

	o.outbound = newOutboundQueue(o.outboundCap)
	o.decodeQ = newDecodeQueue(decodeBufferMs / o.frameMs)
	o.timestamps = newTimestampQueue(o.timestampBound)
	o.exec = executor.New()

	o.registerCallbacks()
	return o, nil
}

// Run starts the client, the audio goroutine, the clock and the main event
// loop, and brings the device to Idle (through Activating when an
// [Activator] is configured). It blocks until ctx is cancelled and returns
// nil on a clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.exec.Close()

	o.Schedule(func(ctx context.Context) { o.setState(ctx, StateStarting) })
	if err := o.proto.Start(ctx); err != nil {
		return fmt.Errorf("device: start protocol: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.eventLoop(gctx) })
	g.Go(func() error { o.audioLoop(gctx); return nil })
	g.Go(func() error { o.clockLoop(gctx); return nil })

	if o.activator != nil {
		actCtx, cancel := context.WithCancel(gctx)
		o.Schedule(func(ctx context.Context) {
			o.cancelActivate = cancel
			o.setState(ctx, StateActivating)
		})
		g.Go(func() error {
			defer cancel()
			if err := o.activator.Run(actCtx); err != nil && actCtx.Err() == nil {
				o.Schedule(func(context.Context) {
					o.ind.SetStatus("activation failed")
				})
			}
			o.Schedule(func(ctx context.Context) {
				o.cancelActivate = nil
				if o.State() == StateActivating || o.State() == StateStarting {
					o.setState(ctx, StateIdle)
					o.announceReady(ctx)
				}
			})
			return nil
		})
	} else {
		o.Schedule(func(ctx context.Context) {
			o.setState(ctx, StateIdle)
			o.announceReady(ctx)
		})
	}

	err := g.Wait()
	o.proto.CloseAudioChannel()
	return err
}

// announceReady shows the firmware version and plays the success sound after
// startup reaches Idle.
func (o *Orchestrator) announceReady(ctx context.Context) {
	if n, ok := o.ind.(Notifier); ok && o.version != "" {
		n.ShowNotification("version " + o.version)
	}
	o.ind.SetChatMessage("system", "")
	o.resetDecoder()
	o.playSound(ctx, SoundSuccess)
}

// State returns a snapshot of the current device state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// CanEnterSleepMode reports whether the device is idle with no open audio
// channel.
func (o *Orchestrator) CanEnterSleepMode() bool {
	return o.State() == StateIdle && !o.proto.IsAudioChannelOpened()
}

// SetServerTime records the backend's wall clock so the idle display can
// show the correct time.
func (o *Orchestrator) SetServerTime(t time.Time) {
	o.serverOffset.Store(int64(time.Until(t)))
	o.serverTimeSet.Store(true)
}

// SetDeviceState schedules a transition to s.
func (o *Orchestrator) SetDeviceState(s State) {
	o.Schedule(func(ctx context.Context) { o.setState(ctx, s) })
}

// ToggleChat starts a conversation when Idle, aborts the reply when
// Speaking, and ends the conversation when Listening.
func (o *Orchestrator) ToggleChat() {
	o.Schedule(o.toggleChat)
}

// StartListening starts a manual-stop listening turn, interrupting the reply
// when Speaking.
func (o *Orchestrator) StartListening() {
	o.Schedule(func(ctx context.Context) {
		switch o.State() {
		case StateActivating:
			o.skipActivation(ctx)
		case StateIdle:
			if err := o.openChannel(ctx); err != nil {
				return
			}
			o.setListeningMode(ctx, protocol.ListeningModeManualStop)
		case StateSpeaking:
			o.abortSpeaking(ctx, protocol.AbortReasonNone)
			o.setListeningMode(ctx, protocol.ListeningModeManualStop)
		}
	})
}

// StopListening ends a listening turn and returns to Idle.
func (o *Orchestrator) StopListening() {
	o.Schedule(func(ctx context.Context) {
		if o.State() != StateListening {
			return
		}
		o.sendControl(ctx, protocol.StopListening())
		o.setState(ctx, StateIdle)
	})
}

// AbortSpeaking stops playback of the current reply and tells the backend.
// It does not change state.
func (o *Orchestrator) AbortSpeaking(reason protocol.AbortReason) {
	o.Schedule(func(ctx context.Context) { o.abortSpeaking(ctx, reason) })
}

// WakeWordInvoke behaves as if word had been spoken: it starts a
// conversation from Idle, aborts when Speaking and closes the channel when
// Listening.
func (o *Orchestrator) WakeWordInvoke(word string) {
	o.Schedule(func(ctx context.Context) {
		switch o.State() {
		case StateIdle:
			o.toggleChat(ctx)
			o.Schedule(func(ctx context.Context) {
				o.sendControl(ctx, protocol.WakeWordDetected(word))
			})
		case StateSpeaking:
			o.abortSpeaking(ctx, protocol.AbortReasonNone)
		case StateListening:
			o.proto.CloseAudioChannel()
		}
	})
}

// Alert shows an alert and optionally plays a prompt sound.
func (o *Orchestrator) Alert(status, message, emotion string, sound Sound) {
	o.Schedule(func(ctx context.Context) { o.alert(ctx, status, message, emotion, sound) })
}

// DismissAlert clears an alert shown while Idle.
func (o *Orchestrator) DismissAlert() {
	o.Schedule(func(context.Context) {
		if o.State() == StateIdle {
			o.ind.SetStatus("standby")
			o.ind.SetEmotion("neutral")
			o.ind.SetChatMessage("system", "")
		}
	})
}

// PlaySound plays a prompt sound once the current playback has drained.
func (o *Orchestrator) PlaySound(sound Sound) {
	o.Schedule(func(ctx context.Context) { o.playSound(ctx, sound) })
}

// SendMCP sends one tool-server message to the backend.
func (o *Orchestrator) SendMCP(payload json.RawMessage) {
	o.Schedule(func(ctx context.Context) { o.sendControl(ctx, protocol.MCP(payload)) })
}

// toggleChat is the event-loop body of [Orchestrator.ToggleChat].
func (o *Orchestrator) toggleChat(ctx context.Context) {
	switch o.State() {
	case StateActivating:
		o.skipActivation(ctx)
	case StateIdle:
		if err := o.openChannel(ctx); err != nil {
			return
		}
		o.setListeningMode(ctx, o.conversationMode())
	case StateSpeaking:
		o.abortSpeaking(ctx, protocol.AbortReasonNone)
	case StateListening:
		o.proto.CloseAudioChannel()
	}
}

// conversationMode is the listening mode used for hands-free turns.
func (o *Orchestrator) conversationMode() protocol.ListeningMode {
	if o.realtime {
		return protocol.ListeningModeRealtime
	}
	return protocol.ListeningModeAutoStop
}

// skipActivation abandons the activation flow and goes Idle.
func (o *Orchestrator) skipActivation(ctx context.Context) {
	if o.cancelActivate != nil {
		o.cancelActivate()
		o.cancelActivate = nil
	}
	o.setState(ctx, StateIdle)
}

func (o *Orchestrator) abortSpeaking(ctx context.Context, reason protocol.AbortReason) {
	o.aborted.Store(true)
	o.sendControl(ctx, protocol.AbortSpeaking(reason))
}

// openChannel enters Connecting and opens the audio channel unless it is
// already open. On failure the device returns to Idle with an alert.
func (o *Orchestrator) openChannel(ctx context.Context) error {
	if o.proto.IsAudioChannelOpened() {
		return nil
	}
	o.setState(ctx, StateConnecting)

	spanCtx, span := observe.StartSpan(ctx, "device.open_audio_channel")
	err := o.proto.OpenAudioChannel(spanCtx)
	span.End()
	if err != nil {
		o.metrics.RecordChannelOpen(ctx, "error")
		observe.Logger(spanCtx).Warn("device: open audio channel failed", "err", err)
		o.setState(ctx, StateIdle)
		o.alert(ctx, "error", "unable to connect to the server", "sad", SoundExclamation)
		return err
	}
	o.metrics.RecordChannelOpen(ctx, "ok")
	return nil
}

// sendControl sends msg, logging and counting a failure.
func (o *Orchestrator) sendControl(ctx context.Context, msg protocol.ControlMessage) {
	if err := o.proto.SendControl(ctx, msg); err != nil {
		o.metrics.RecordSendFailure(ctx, "control")
		observe.Logger(ctx).Warn("device: send control failed", "kind", msg.Kind(), "err", err)
	}
}

// sendIoTStates pushes peripheral states when something changed.
func (o *Orchestrator) sendIoTStates(ctx context.Context, delta bool) {
	if o.things == nil {
		return
	}
	states, changed := o.things.States(delta)
	if !changed {
		return
	}
	o.sendControl(ctx, protocol.IoTStates(states))
}
