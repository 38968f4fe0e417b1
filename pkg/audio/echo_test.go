package audio_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

// noise returns n deterministic pseudo-random samples.
func noise(n int, seed uint32) []int16 {
	out := make([]int16, n)
	for i := range out {
		seed = seed*1664525 + 1013904223
		out[i] = int16(seed>>16) / 4
	}
	return out
}

func energy(pcm []int16) float64 {
	var e float64
	for _, s := range pcm {
		e += float64(s) * float64(s)
	}
	return e
}

func TestNLMSCanceller_ConvergesOnEcho(t *testing.T) {
	t.Parallel()
	const (
		frame = 960
		delay = 3
	)
	ref := noise(16000+delay, 1)
	mic := make([]int16, len(ref))
	for i := delay; i < len(mic); i++ {
		mic[i] = ref[i-delay] / 2
	}

	ec, err := audio.NewNLMSCanceller(64)
	if err != nil {
		t.Fatalf("NewNLMSCanceller: %v", err)
	}
	var first, last, lastMic []int16
	for start := 0; start+frame <= len(ref); start += frame {
		out, err := ec.Process(audio.Interleave(mic[start:start+frame], ref[start:start+frame]))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(out) != frame {
			t.Fatalf("output len = %d, want %d", len(out), frame)
		}
		if first == nil {
			first = out
		}
		last, lastMic = out, mic[start:start+frame]
	}

	if e := energy(last); e > energy(lastMic)/100 {
		t.Errorf("residual energy %.0f not 20 dB under the echo", e)
	}
	if energy(last) >= energy(first) {
		t.Error("residual did not shrink while adapting")
	}
}

func TestNLMSCanceller_SilentReferencePassesMicrophone(t *testing.T) {
	t.Parallel()
	ec, _ := audio.NewNLMSCanceller(audio.DefaultEchoTaps)
	mic := noise(320, 7)
	out, err := ec.Process(audio.Interleave(mic, make([]int16, len(mic))))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !slices.Equal(out, mic) {
		t.Error("microphone altered with a silent reference")
	}
}

func TestNLMSCanceller_Errors(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewNLMSCanceller(0); err == nil {
		t.Error("NewNLMSCanceller(0) succeeded")
	}
	ec, _ := audio.NewNLMSCanceller(8)
	if _, err := ec.Process([]int16{1, 2, 3}); err == nil {
		t.Error("Process accepted an odd sample count")
	}
}

func TestNLMSCanceller_Reset(t *testing.T) {
	t.Parallel()
	ec, _ := audio.NewNLMSCanceller(16)
	ref := noise(2000, 3)
	if _, err := ec.Process(audio.Interleave(ref, ref)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	ec.Reset()

	mic := noise(100, 9)
	out, _ := ec.Process(audio.Interleave(mic, make([]int16, len(mic))))
	if !slices.Equal(out, mic) {
		t.Error("learned echo path survived Reset")
	}
}
