package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSkip marks an inbound message that is malformed or of no interest. The
// caller drops the single message and carries on.
var ErrSkip = errors.New("protocol: skip message")

// TTSState is the phase of a text-to-speech reply.
type TTSState string

const (
	TTSStart         TTSState = "start"
	TTSStop          TTSState = "stop"
	TTSSentenceStart TTSState = "sentence_start"
	TTSSentenceEnd   TTSState = "sentence_end"
)

// AudioParams describes an audio stream in the hello handshake.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// Event is a parsed inbound control message. The concrete types are
// [HelloEvent], [TTSEvent], [STTEvent], [LLMEvent], [SystemEvent],
// [AlertEvent], [IoTEvent] and [MCPEvent].
type Event interface {
	EventType() string
}

// HelloEvent is the server side of the handshake.
type HelloEvent struct {
	Transport   string
	SessionID   string
	AudioParams *AudioParams
}

// TTSEvent reports reply playback progress. Text is set for sentence events.
type TTSEvent struct {
	State TTSState
	Text  string
}

// STTEvent carries the recognised user utterance.
type STTEvent struct {
	Text string
}

// LLMEvent carries the emotion the reply should be displayed with.
type LLMEvent struct {
	Emotion string
	Text    string
}

// SystemEvent is a device command such as "reboot".
type SystemEvent struct {
	Command string
}

// AlertEvent asks the device to show an alert.
type AlertEvent struct {
	Status  string
	Message string
	Emotion string
}

// IoTEvent carries peripheral commands, passed through unparsed.
type IoTEvent struct {
	Commands []json.RawMessage
}

// MCPEvent carries one JSON-RPC message for the device tool server.
type MCPEvent struct {
	Payload json.RawMessage
}

func (HelloEvent) EventType() string  { return "hello" }
func (TTSEvent) EventType() string    { return "tts" }
func (STTEvent) EventType() string    { return "stt" }
func (LLMEvent) EventType() string    { return "llm" }
func (SystemEvent) EventType() string { return "system" }
func (AlertEvent) EventType() string  { return "alert" }
func (IoTEvent) EventType() string    { return "iot" }
func (MCPEvent) EventType() string    { return "mcp" }

// rawEvent uses pointers so that absent fields can be told apart from empty ones.
type rawEvent struct {
	Type        *string           `json:"type"`
	Transport   *string           `json:"transport"`
	SessionID   *string           `json:"session_id"`
	AudioParams *AudioParams      `json:"audio_params"`
	State       *string           `json:"state"`
	Text        *string           `json:"text"`
	Emotion     *string           `json:"emotion"`
	Command     *string           `json:"command"`
	Status      *string           `json:"status"`
	Message     *string           `json:"message"`
	Commands    []json.RawMessage `json:"commands"`
	Payload     json.RawMessage   `json:"payload"`
}

// ParseEvent decodes one inbound JSON message. Every failure wraps [ErrSkip].
func ParseEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSkip, err)
	}
	if raw.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrSkip)
	}

	switch *raw.Type {
	case "hello":
		return HelloEvent{
			Transport:   deref(raw.Transport),
			SessionID:   deref(raw.SessionID),
			AudioParams: raw.AudioParams,
		}, nil

	case "tts":
		if raw.State == nil {
			return nil, fmt.Errorf("%w: tts without state", ErrSkip)
		}
		ev := TTSEvent{State: TTSState(*raw.State), Text: deref(raw.Text)}
		switch ev.State {
		case TTSStart, TTSStop, TTSSentenceEnd:
		case TTSSentenceStart:
			if raw.Text == nil {
				return nil, fmt.Errorf("%w: tts sentence_start without text", ErrSkip)
			}
		default:
			return nil, fmt.Errorf("%w: tts state %q", ErrSkip, ev.State)
		}
		return ev, nil

	case "stt":
		if raw.Text == nil {
			return nil, fmt.Errorf("%w: stt without text", ErrSkip)
		}
		return STTEvent{Text: *raw.Text}, nil

	case "llm":
		if raw.Emotion == nil {
			return nil, fmt.Errorf("%w: llm without emotion", ErrSkip)
		}
		return LLMEvent{Emotion: *raw.Emotion, Text: deref(raw.Text)}, nil

	case "system":
		if raw.Command == nil {
			return nil, fmt.Errorf("%w: system without command", ErrSkip)
		}
		return SystemEvent{Command: *raw.Command}, nil

	case "alert":
		if raw.Status == nil || raw.Message == nil || raw.Emotion == nil {
			return nil, fmt.Errorf("%w: alert requires status, message and emotion", ErrSkip)
		}
		return AlertEvent{Status: *raw.Status, Message: *raw.Message, Emotion: *raw.Emotion}, nil

	case "iot":
		if raw.Commands == nil {
			return nil, fmt.Errorf("%w: iot without commands", ErrSkip)
		}
		return IoTEvent{Commands: raw.Commands}, nil

	case "mcp":
		if len(raw.Payload) == 0 || raw.Payload[0] != '{' {
			return nil, fmt.Errorf("%w: mcp payload must be an object", ErrSkip)
		}
		return MCPEvent{Payload: raw.Payload}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrSkip, *raw.Type)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
