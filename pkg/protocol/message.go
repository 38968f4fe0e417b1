package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlMessage is one outbound JSON control frame. Build values with the
// constructors below; the transport fills SessionID before sending.
type ControlMessage struct {
	SessionID string          `json:"session_id,omitempty"`
	Type      string          `json:"type"`
	State     string          `json:"state,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	Text      string          `json:"text,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Update    bool            `json:"update,omitempty"`
	States    json.RawMessage `json:"states,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StartListening asks the backend to start a listening turn in mode.
func StartListening(mode ListeningMode) ControlMessage {
	return ControlMessage{Type: "listen", State: "start", Mode: mode.String()}
}

// StopListening ends a manual listening turn.
func StopListening() ControlMessage {
	return ControlMessage{Type: "listen", State: "stop"}
}

// WakeWordDetected reports the wake phrase that opened the turn.
func WakeWordDetected(word string) ControlMessage {
	return ControlMessage{Type: "listen", State: "detect", Text: word}
}

// AbortSpeaking asks the backend to stop the current reply.
func AbortSpeaking(reason AbortReason) ControlMessage {
	return ControlMessage{Type: "abort", Reason: reason.String()}
}

// IoTStates pushes the current peripheral state snapshot.
func IoTStates(states json.RawMessage) ControlMessage {
	return ControlMessage{Type: "iot", Update: true, States: states}
}

// MCP wraps one JSON-RPC message for the device tool server.
func MCP(payload json.RawMessage) ControlMessage {
	return ControlMessage{Type: "mcp", Payload: payload}
}

// Kind is a short label for logs and metrics, e.g. "listen.start".
func (m ControlMessage) Kind() string {
	if m.State != "" {
		return m.Type + "." + m.State
	}
	return m.Type
}

// Encode marshals the message with the given session id.
func (m ControlMessage) Encode(sessionID string) ([]byte, error) {
	m.SessionID = sessionID
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Kind(), err)
	}
	return data, nil
}
