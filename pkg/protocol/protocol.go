// Package protocol defines the contract between the device orchestrator and
// the remote conversational backend.
//
// The orchestrator never talks to a socket directly. It depends on [Client],
// which opens and closes the audio channel, carries encoded audio frames in
// both directions and exchanges JSON control messages. Inbound JSON is parsed
// into typed [Event] values by [ParseEvent]; outbound control frames are built
// with the [ControlMessage] constructors.
//
// Concrete transports live in sub-packages (protocol/websocket). This package
// lives under pkg/ because board-specific transports outside this module are
// expected to implement [Client].
package protocol

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned by send operations when the audio channel is
// not open.
var ErrChannelClosed = errors.New("protocol: audio channel is not open")

// ListeningMode governs how a listening turn ends.
type ListeningMode int

const (
	// ListeningModeAutoStop lets the backend end the turn when it detects the
	// end of the utterance.
	ListeningModeAutoStop ListeningMode = iota

	// ListeningModeManualStop keeps listening until the device sends an
	// explicit stop-listening frame.
	ListeningModeManualStop

	// ListeningModeRealtime keeps capture running while speaking
	// (full duplex, requires echo cancellation).
	ListeningModeRealtime
)

// String returns the wire name of the mode.
func (m ListeningMode) String() string {
	switch m {
	case ListeningModeAutoStop:
		return "auto"
	case ListeningModeManualStop:
		return "manual"
	case ListeningModeRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// AbortReason explains why speaking was aborted.
type AbortReason int

const (
	// AbortReasonNone is a plain user abort.
	AbortReasonNone AbortReason = iota

	// AbortReasonWakeWordDetected means the wake phrase interrupted playback.
	AbortReasonWakeWordDetected
)

// String returns the wire name of the reason. AbortReasonNone has no wire
// representation and returns the empty string.
func (r AbortReason) String() string {
	if r == AbortReasonWakeWordDetected {
		return "wake_word_detected"
	}
	return ""
}

// AudioStreamPacket is one encoded audio frame. Packets are handed from stage
// to stage by pointer; the holder owns it.
type AudioStreamPacket struct {
	// Payload is the encoded (Opus) frame.
	Payload []byte

	// Timestamp correlates an outbound frame with the playback timestamp of
	// the reference signal for echo cancellation. Zero when unknown.
	Timestamp uint32
}

// Client is the abstract protocol transport consumed by the orchestrator.
//
// Open/Send methods may block and are only called from the orchestrator's
// event loop. Callback registration must happen before [Client.Start]; the
// callbacks run on the client's own I/O goroutines and must not block.
type Client interface {
	// Start prepares the client (for example resolving endpoints). It does
	// not open the audio channel.
	Start(ctx context.Context) error

	// OpenAudioChannel connects to the backend and completes the handshake.
	// It blocks until the channel is usable or fails.
	OpenAudioChannel(ctx context.Context) error

	// CloseAudioChannel closes the channel. It is idempotent.
	CloseAudioChannel()

	// IsAudioChannelOpened reports whether the channel is open.
	IsAudioChannelOpened() bool

	// IsAudioChannelBusy reports whether the transport is back-pressured and
	// new audio should be skipped.
	IsAudioChannelBusy() bool

	// SendAudio transmits one encoded frame.
	SendAudio(ctx context.Context, pkt *AudioStreamPacket) error

	// SendControl transmits one JSON control frame.
	SendControl(ctx context.Context, msg ControlMessage) error

	// ServerSampleRate is the sample rate of inbound audio announced by the
	// server hello.
	ServerSampleRate() int

	// ServerFrameDuration is the inbound frame duration in milliseconds.
	ServerFrameDuration() int

	// OnIncomingAudio registers the inbound audio callback.
	OnIncomingAudio(fn func(pkt *AudioStreamPacket))

	// OnIncomingEvent registers the parsed control event callback.
	OnIncomingEvent(fn func(ev Event))

	// OnAudioChannelOpened registers a callback fired after a successful handshake.
	OnAudioChannelOpened(fn func())

	// OnAudioChannelClosed registers a callback fired once per opened channel
	// when it closes for any reason.
	OnAudioChannelClosed(fn func())

	// OnNetworkError registers a callback for asynchronous transport failures.
	OnNetworkError(fn func(message string))
}
