package device

import (
	"time"

	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

const (
	// codecSampleRate is the rate the encoder and wake-word detector consume.
	codecSampleRate = 16000

	// decodeBufferMs bounds the inbound decode queue in milliseconds of audio.
	decodeBufferMs = 2400

	// soundSampleRate and soundFrameMs describe the built-in prompt sounds.
	soundSampleRate = 16000
	soundFrameMs    = 60

	defaultSilenceTimeout      = 10 * time.Second
	defaultTimestampQueueBound = 3
	defaultOutboundCapacity    = 40
	defaultFrameDuration       = 60

	// keepaliveInterval is the idle poll period of the raw input source.
	keepaliveInterval = 30 * time.Millisecond

	// speakerDrainDelay lets the speaker finish before auto-stop capture
	// starts after a reply.
	speakerDrainDelay = 120 * time.Millisecond

	clockTickInterval = time.Second
)

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithWakeWordDetector attaches a wake-word detector. Without one the device
// only reacts to explicit toggle/start calls.
func WithWakeWordDetector(w audio.WakeWordDetector) Option {
	return func(o *Orchestrator) { o.wake = w }
}

// WithThings attaches IoT peripherals whose states are pushed on
// channel-open and on entering Listening.
func WithThings(t Things) Option {
	return func(o *Orchestrator) { o.things = t }
}

// WithMCPHandler routes inbound "mcp" messages to h.
func WithMCPHandler(h MCPHandler) Option {
	return func(o *Orchestrator) { o.mcp = h }
}

// WithActivator runs a during startup, with the device in
// [StateActivating], before it becomes Idle.
func WithActivator(a Activator) Option {
	return func(o *Orchestrator) { o.activator = a }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSilenceTimeout sets how long the output stays powered without audio
// while Idle. The default is 10 s.
func WithSilenceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.silenceTimeout = d
		}
	}
}

// WithTimestampQueueBound sets how many reference timestamps may be pending
// before outbound frames are dropped. The default is 3.
func WithTimestampQueueBound(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.timestampBound = n
		}
	}
}

// WithOutboundQueueCapacity sets the outbound frame queue size. The default
// is 40 (2.4 s of 60 ms frames).
func WithOutboundQueueCapacity(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.outboundCap = n
		}
	}
}

// WithFrameDuration sets the capture frame length in milliseconds. It also
// sizes the decode queue. The default is 60.
func WithFrameDuration(ms int) Option {
	return func(o *Orchestrator) {
		if ms > 0 {
			o.frameMs = ms
		}
	}
}

// WithAEC selects the echo cancellation mode. The default is [AECOff].
func WithAEC(m AECMode) Option {
	return func(o *Orchestrator) { o.aec = m }
}

// WithEchoCanceller sets the canceller used in [AECDevice] mode. The default
// is an [audio.NLMSCanceller] of [audio.DefaultEchoTaps] taps. It is ignored
// in the other modes.
func WithEchoCanceller(c audio.EchoCanceller) Option {
	return func(o *Orchestrator) { o.echo = c }
}

// WithRealtimeChat makes conversations full duplex: capture keeps running
// while the device speaks.
func WithRealtimeChat(enabled bool) Option {
	return func(o *Orchestrator) { o.realtime = enabled }
}

// WithResampler selects the resampler used on both pipelines. The default
// is [audio.ResamplerLinear].
func WithResampler(kind audio.ResamplerKind) Option {
	return func(o *Orchestrator) { o.resamplerKind = kind }
}

// WithRebootHook sets the function run for a "reboot" system command.
func WithRebootHook(fn func()) Option {
	return func(o *Orchestrator) { o.reboot = fn }
}

// WithVersion sets the firmware version announced once the device is ready.
func WithVersion(v string) Option {
	return func(o *Orchestrator) { o.version = v }
}

// WithSounds supplies the prompt sounds as v3-framed Opus streams.
func WithSounds(sounds map[Sound][]byte) Option {
	return func(o *Orchestrator) { o.sounds = sounds }
}
