// Package device implements the on-device orchestrator: the device state
// machine, the main event loop that owns it, and the capture and playback
// pipelines that move audio between the board and the [protocol.Client].
//
// The primary abstractions are:
//
//   - [Orchestrator]: the single owned runtime instance. Every externally
//     triggered action reaches it through [Orchestrator.Schedule] and runs on
//     the event loop goroutine, which is the only goroutine that changes
//     [State].
//   - [Indicator]: the display/LED collaborator notified on state changes.
//   - [Things]: optional peripherals exposed to the backend as IoT states
//     and commands.
//
// Codec work is serialised through a single-worker [executor.Executor]; state
// transitions drain it before touching the codecs.
//
// This package lives under internal/ because it is the application core and
// is not intended to be imported by external code.
package device

import (
	"context"
	"encoding/json"
)

// State is the operating mode of the device. Exactly one State is active at
// a time.
type State int

const (
	StateUnknown State = iota
	StateStarting
	StateConfiguring
	StateIdle
	StateConnecting
	StateListening
	StateSpeaking
	StateUpgrading
	StateActivating
	StateFatalError
)

var stateNames = [...]string{
	StateUnknown:     "unknown",
	StateStarting:    "starting",
	StateConfiguring: "configuring",
	StateIdle:        "idle",
	StateConnecting:  "connecting",
	StateListening:   "listening",
	StateSpeaking:    "speaking",
	StateUpgrading:   "upgrading",
	StateActivating:  "activating",
	StateFatalError:  "fatal_error",
}

// String returns the lowercase name of the state.
func (s State) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return "invalid"
}

// IsValid reports whether s is one of the declared states.
func (s State) IsValid() bool {
	return s >= StateUnknown && int(s) < len(stateNames)
}

// AllStates lists every declared state in enumeration order.
func AllStates() []State {
	out := make([]State, len(stateNames))
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// AECMode selects where acoustic echo cancellation happens.
type AECMode string

const (
	// AECOff disables echo cancellation; no reference timestamps are kept.
	AECOff AECMode = "off"

	// AECDevice cancels echo on the device using the stereo reference channel.
	AECDevice AECMode = "device"

	// AECServer lets the backend cancel echo using the reference timestamps
	// attached to outbound frames.
	AECServer AECMode = "server"
)

// IsValid reports whether m is a recognised mode.
func (m AECMode) IsValid() bool {
	return m == AECOff || m == AECDevice || m == AECServer
}

// Sound names a built-in prompt sound. The audio for each is supplied with
// [WithSounds].
type Sound string

const (
	SoundActivation  Sound = "activation"
	SoundExclamation Sound = "exclamation"
	SoundPopup       Sound = "popup"
	SoundSuccess     Sound = "success"
	SoundVibration   Sound = "vibration"
)

// AllSounds lists the prompt sounds.
func AllSounds() []Sound {
	return []Sound{SoundActivation, SoundExclamation, SoundPopup, SoundSuccess, SoundVibration}
}

// Indicator is the display/LED collaborator. All methods are called from the
// event loop goroutine only.
type Indicator interface {
	// OnStateChanged is called during every transition, before the new
	// state's entry effects run.
	OnStateChanged(s State)

	SetStatus(status string)
	SetEmotion(emotion string)
	SetChatMessage(role, text string)
}

// Notifier is implemented by indicators that can flash a transient notice.
type Notifier interface {
	ShowNotification(message string)
}

// Things exposes board peripherals to the backend.
type Things interface {
	// States returns the peripheral state JSON. With delta set only changes
	// since the previous call are included; changed is false when there is
	// nothing to send.
	States(delta bool) (states json.RawMessage, changed bool)

	// Invoke executes one command sent by the backend.
	Invoke(ctx context.Context, command json.RawMessage) error
}

// MCPHandler consumes device tool-server messages received from the backend.
type MCPHandler interface {
	HandleMCP(ctx context.Context, payload json.RawMessage)
}

// Activator runs the startup version check and activation flow. Run returns
// once the device may proceed to Idle; its context is cancelled when the user
// skips activation.
type Activator interface {
	Run(ctx context.Context) error
}

// nopIndicator discards everything.
type nopIndicator struct{}

func (nopIndicator) OnStateChanged(State)          {}
func (nopIndicator) SetStatus(string)              {}
func (nopIndicator) SetEmotion(string)             {}
func (nopIndicator) SetChatMessage(string, string) {}
