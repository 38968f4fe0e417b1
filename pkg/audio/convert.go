package audio

import "fmt"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// SplitStereo separates interleaved two-channel input into the microphone
// (left) and echo reference (right) channels. A trailing odd sample is ignored.
func SplitStereo(pcm []int16) (mic, ref []int16) {
	frames := len(pcm) / 2
	mic = make([]int16, frames)
	ref = make([]int16, frames)
	for i, j := 0, 0; i < frames; i, j = i+1, j+2 {
		mic[i] = pcm[j]
		ref[i] = pcm[j+1]
	}
	return mic, ref
}

// Interleave is the inverse of [SplitStereo]. The output length follows the
// shorter input.
func Interleave(left, right []int16) []int16 {
	n := min(len(left), len(right))
	out := make([]int16, n*2)
	for i, j := 0, 0; i < n; i, j = i+1, j+2 {
		out[j] = left[i]
		out[j+1] = right[i]
	}
	return out
}

// StereoToMono averages L+R per frame. Uses int32 arithmetic so the sum
// cannot overflow.
func StereoToMono(pcm []int16) []int16 {
	frames := len(pcm) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(pcm[i*2]) + int32(pcm[i*2+1])) / 2)
	}
	return out
}

// Int16ToBytes converts PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16 converts little-endian bytes to PCM samples. A trailing odd
// byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// SamplesPerFrame is the per-channel sample count of one frame of
// durationMs at rate.
func SamplesPerFrame(rate, durationMs int) int {
	return rate * durationMs / 1000
}
