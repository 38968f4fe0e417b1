package audio

import (
	"errors"
	"fmt"
	"math"
)

// DefaultEchoTaps is the filter length of [NewNLMSCanceller] callers that have
// no better estimate of the echo path: 32 ms at 16 kHz.
const DefaultEchoTaps = 512

// EchoCanceller removes the speaker's signal from the microphone.
//
// Process takes interleaved 16 kHz samples with the microphone on the left
// channel and the playback reference on the right, and returns the cleaned
// microphone signal as mono. Implementations keep adaptation state between
// calls and are not safe for concurrent use.
type EchoCanceller interface {
	Process(interleaved []int16) ([]int16, error)
}

// NLMSCanceller is an adaptive FIR echo canceller trained with normalised
// least mean squares. It suits boards that loop the speaker signal back on a
// second input channel, where the reference is sample-aligned with the
// microphone and the echo path is short.
type NLMSCanceller struct {
	weights []float64
	history []float64 // ring of recent reference samples, newest at pos
	pos     int
	energy  float64 // sum of squares over history
	step    float64
}

var _ EchoCanceller = (*NLMSCanceller)(nil)

// NewNLMSCanceller returns a canceller modelling an echo path of taps
// samples.
func NewNLMSCanceller(taps int) (*NLMSCanceller, error) {
	if taps <= 0 {
		return nil, fmt.Errorf("audio: invalid echo filter length %d", taps)
	}
	return &NLMSCanceller{
		weights: make([]float64, taps),
		history: make([]float64, taps),
		step:    0.5,
	}, nil
}

// errOddFrame is returned for input that is not whole stereo frames.
var errOddFrame = errors.New("audio: echo canceller input is not interleaved stereo")

// Process implements [EchoCanceller].
func (c *NLMSCanceller) Process(interleaved []int16) ([]int16, error) {
	if len(interleaved)%2 != 0 {
		return nil, errOddFrame
	}
	const (
		scale = 1.0 / 32768
		eps   = 1e-6
	)
	taps := len(c.weights)
	out := make([]int16, len(interleaved)/2)
	for i := range out {
		mic := float64(interleaved[2*i]) * scale
		ref := float64(interleaved[2*i+1]) * scale

		c.pos = (c.pos + 1) % taps
		old := c.history[c.pos]
		c.history[c.pos] = ref
		c.energy += ref*ref - old*old
		if c.energy < 0 {
			c.energy = 0
		}

		var estimate float64
		for k, idx := 0, c.pos; k < taps; k++ {
			estimate += c.weights[k] * c.history[idx]
			if idx--; idx < 0 {
				idx = taps - 1
			}
		}
		residual := mic - estimate

		gain := c.step * residual / (c.energy + eps)
		for k, idx := 0, c.pos; k < taps; k++ {
			c.weights[k] += gain * c.history[idx]
			if idx--; idx < 0 {
				idx = taps - 1
			}
		}

		out[i] = clampSample(residual * 32768)
	}
	return out, nil
}

// Reset forgets the learned echo path.
func (c *NLMSCanceller) Reset() {
	clear(c.weights)
	clear(c.history)
	c.pos = 0
	c.energy = 0
}

func clampSample(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}
