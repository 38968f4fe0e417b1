package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

func TestNullDevice_InputIsPacedSilence(t *testing.T) {
	d := audio.NewNullDevice(16000, 2, 24000)
	buf := make([]int16, 2*160) // 10 ms stereo
	for i := range buf {
		buf[i] = 7
	}

	start := time.Now()
	for range 3 {
		if err := d.InputData(buf); err != nil {
			t.Fatalf("InputData: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("3 x 10 ms reads took %v, want about 30 ms", elapsed)
	}
	for i, s := range buf {
		if s != 0 {
			t.Fatalf("buf[%d] = %d, want silence", i, s)
		}
	}
}

func TestNullDevice_Output(t *testing.T) {
	d := audio.NewNullDevice(16000, 1, 24000)
	if d.OutputEnabled() {
		t.Error("output enabled before EnableOutput")
	}
	d.EnableOutput(true)
	if !d.OutputEnabled() {
		t.Error("output not enabled")
	}

	start := time.Now()
	if err := d.OutputData(make([]int16, 480)); err != nil { // 20 ms
		t.Fatalf("OutputData: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("20 ms frame returned after %v", elapsed)
	}
	if d.InputChannels() != 1 || d.InputSampleRate() != 16000 || d.OutputSampleRate() != 24000 {
		t.Error("formats not reported as constructed")
	}
}
