package opus

import (
	"math"
	"testing"
)

func tone(n, rate int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(6000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return pcm
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	enc, err := NewEncoder(16000, 60)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := NewDecoder(16000, 60)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	if got := enc.FrameSize(); got != 960 {
		t.Fatalf("FrameSize = %d, want 960", got)
	}

	packet, err := enc.Encode(tone(960, 16000))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packet) == 0 || len(packet) > maxPacketBytes {
		t.Fatalf("packet length = %d", len(packet))
	}

	pcm, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 960 {
		t.Errorf("decoded %d samples, want 960", len(pcm))
	}
}

func TestEncoder_PadsShortFrames(t *testing.T) {
	enc, err := NewEncoder(16000, 60)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if _, err := enc.Encode(tone(100, 16000)); err != nil {
		t.Errorf("Encode short frame: %v", err)
	}
}

func TestDecoder_Configure(t *testing.T) {
	dec, err := NewDecoder(16000, 60)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if err := dec.Configure(24000, 20); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if dec.SampleRate() != 24000 || dec.FrameDuration() != 20 {
		t.Errorf("format = %d/%d, want 24000/20", dec.SampleRate(), dec.FrameDuration())
	}

	// An unsupported rate leaves the previous format in place.
	if err := dec.Configure(22050, 20); err == nil {
		t.Fatal("expected error for 22050 Hz")
	}
	if dec.SampleRate() != 24000 {
		t.Errorf("SampleRate after failed Configure = %d, want 24000", dec.SampleRate())
	}

	enc, err := NewEncoder(24000, 20)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	packet, err := enc.Encode(tone(480, 24000))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pcm, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 480 {
		t.Errorf("decoded %d samples, want 480", len(pcm))
	}
}
