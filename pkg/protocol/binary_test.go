package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestAudioFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	pkt := &AudioStreamPacket{Payload: []byte{0xde, 0xad, 0xbe, 0xef}, Timestamp: 123456}

	tests := []struct {
		version       int
		wantLen       int
		keepTimestamp bool
	}{
		{BinaryVersion1, 4, false},
		{BinaryVersion2, v2HeaderSize + 4, true},
		{BinaryVersion3, v3HeaderSize + 4, false},
	}
	for _, tc := range tests {
		frame, err := EncodeAudioFrame(tc.version, pkt)
		if err != nil {
			t.Fatalf("v%d encode: %v", tc.version, err)
		}
		if len(frame) != tc.wantLen {
			t.Errorf("v%d frame len = %d, want %d", tc.version, len(frame), tc.wantLen)
		}
		got, err := DecodeAudioFrame(tc.version, frame)
		if err != nil {
			t.Fatalf("v%d decode: %v", tc.version, err)
		}
		if !bytes.Equal(got.Payload, pkt.Payload) {
			t.Errorf("v%d payload = %x, want %x", tc.version, got.Payload, pkt.Payload)
		}
		if tc.keepTimestamp && got.Timestamp != pkt.Timestamp {
			t.Errorf("v%d timestamp = %d, want %d", tc.version, got.Timestamp, pkt.Timestamp)
		}
	}
}

func TestDecodeAudioFrame_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		version int
		data    []byte
	}{
		{"v2 short", BinaryVersion2, make([]byte, 8)},
		{"v2 json type", BinaryVersion2, []byte{0, 2, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"v2 size overflow", BinaryVersion2, []byte{0, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 9}},
		{"v3 short", BinaryVersion3, []byte{0, 0}},
		{"v3 size overflow", BinaryVersion3, []byte{0, 0, 0, 5, 1}},
		{"unknown version", 7, []byte{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeAudioFrame(tc.version, tc.data); !errors.Is(err, ErrSkip) {
				t.Errorf("err = %v, want ErrSkip", err)
			}
		})
	}
}

func TestParseP3(t *testing.T) {
	t.Parallel()

	var stream []byte
	for _, payload := range [][]byte{{1, 2, 3}, {4}, {5, 6}} {
		frame, err := EncodeAudioFrame(BinaryVersion3, &AudioStreamPacket{Payload: payload})
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, frame...)
	}

	pkts, err := ParseP3(stream)
	if err != nil {
		t.Fatalf("ParseP3: %v", err)
	}
	if len(pkts) != 3 {
		t.Fatalf("len = %d, want 3", len(pkts))
	}
	if !bytes.Equal(pkts[2].Payload, []byte{5, 6}) {
		t.Errorf("pkts[2] = %x, want 0506", pkts[2].Payload)
	}

	if _, err := ParseP3(stream[:len(stream)-1]); err == nil {
		t.Error("expected error for truncated stream")
	}
}

func TestControlMessage_Encode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  ControlMessage
		want map[string]any
	}{
		{StartListening(ListeningModeManualStop), map[string]any{"session_id": "s1", "type": "listen", "state": "start", "mode": "manual"}},
		{StopListening(), map[string]any{"session_id": "s1", "type": "listen", "state": "stop"}},
		{WakeWordDetected("hi esp"), map[string]any{"session_id": "s1", "type": "listen", "state": "detect", "text": "hi esp"}},
		{AbortSpeaking(AbortReasonNone), map[string]any{"session_id": "s1", "type": "abort"}},
		{AbortSpeaking(AbortReasonWakeWordDetected), map[string]any{"session_id": "s1", "type": "abort", "reason": "wake_word_detected"}},
	}
	for _, tc := range tests {
		t.Run(tc.msg.Kind(), func(t *testing.T) {
			data, err := tc.msg.Encode("s1")
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestControlMessage_IoTStates(t *testing.T) {
	t.Parallel()

	data, err := IoTStates(json.RawMessage(`[{"name":"Speaker","state":{"volume":60}}]`)).Encode("")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"type":"iot","update":true,"states":[{"name":"Speaker","state":{"volume":60}}]}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
