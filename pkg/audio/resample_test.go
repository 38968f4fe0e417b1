package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

func TestResampleLinear(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		wantLen  int
	}{
		{"same rate", []int16{1, 2, 3}, 16000, 16000, 3},
		{"upsample 2x", []int16{0, 100, 200, 300}, 8000, 16000, 8},
		{"downsample 3x", make([]int16, 2880), 48000, 16000, 960},
		{"invalid rate", []int16{1, 2}, 0, 16000, 2},
		{"too short", []int16{5}, 48000, 16000, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.ResampleLinear(tc.in, tc.src, tc.dst)
			if len(got) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(got), tc.wantLen)
			}
		})
	}
}

func TestResampleLinear_Interpolates(t *testing.T) {
	got := audio.ResampleLinear([]int16{0, 100, 200, 300}, 8000, 16000)
	// Every odd output sample sits halfway between two inputs.
	if got[1] != 50 || got[3] != 150 {
		t.Errorf("got %v, want midpoints 50 and 150", got)
	}
	// The final sample has no right neighbour and repeats.
	if got[7] != 300 {
		t.Errorf("last sample = %d, want 300", got[7])
	}
}

func TestNewResampler(t *testing.T) {
	r, err := audio.NewResampler("", 48000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if _, ok := r.(*audio.LinearResampler); !ok {
		t.Errorf("default kind = %T, want *LinearResampler", r)
	}
	if r.InputRate() != 48000 || r.OutputRate() != 16000 {
		t.Errorf("rates = %d -> %d, want 48000 -> 16000", r.InputRate(), r.OutputRate())
	}

	if _, err := audio.NewResampler("cubic", 48000, 16000); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := audio.NewResampler(audio.ResamplerLinear, 0, 16000); err == nil {
		t.Error("expected error for zero rate")
	}
}

func TestSincResampler_Stream(t *testing.T) {
	r, err := audio.NewResampler(audio.ResamplerSinc, 48000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}

	// Feed one second of a 440 Hz tone in 60 ms frames. The filter delays
	// output, so only the total is checked, with slack for the delay.
	const frame = 2880
	total := 0
	for f := range 1000 / 60 {
		in := make([]int16, frame)
		for i := range in {
			n := f*frame + i
			in[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(n)/48000))
		}
		out, err := r.Process(in)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		total += len(out)
	}

	want := (1000 / 60) * frame / 3
	if total > want+frame/3 || total < want/2 {
		t.Errorf("total output = %d samples, want close to %d", total, want)
	}
}
