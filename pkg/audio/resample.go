package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono PCM from one sample rate to another. Stateful
// implementations keep filter history between calls, so one Resampler serves
// one continuous stream and is not safe for concurrent use.
type Resampler interface {
	Process(in []int16) ([]int16, error)
	InputRate() int
	OutputRate() int
}

// ResamplerKind selects a [Resampler] implementation.
type ResamplerKind string

const (
	// ResamplerLinear is a stateless linear interpolator. Cheap, deterministic,
	// audibly soft on downsampling.
	ResamplerLinear ResamplerKind = "linear"

	// ResamplerSinc is a windowed-sinc polyphase resampler.
	ResamplerSinc ResamplerKind = "sinc"
)

// IsValid reports whether k is a recognised resampler kind.
func (k ResamplerKind) IsValid() bool {
	return k == ResamplerLinear || k == ResamplerSinc
}

// NewResampler returns a resampler of the requested kind converting src to
// dst Hz. An empty kind selects [ResamplerLinear].
func NewResampler(kind ResamplerKind, src, dst int) (Resampler, error) {
	if src <= 0 || dst <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", src, dst)
	}
	switch kind {
	case "", ResamplerLinear:
		return &LinearResampler{src: src, dst: dst}, nil
	case ResamplerSinc:
		return NewSincResampler(src, dst)
	}
	return nil, fmt.Errorf("audio: unknown resampler %q", kind)
}

// ── Linear ────────────────────────────────────────────────────────────────────

// LinearResampler resamples by linear interpolation between neighbouring
// samples. Each call is independent.
type LinearResampler struct {
	src, dst int
}

// InputRate implements [Resampler].
func (r *LinearResampler) InputRate() int { return r.src }

// OutputRate implements [Resampler].
func (r *LinearResampler) OutputRate() int { return r.dst }

// Process implements [Resampler]. When the rates match the input is returned
// unchanged.
func (r *LinearResampler) Process(in []int16) ([]int16, error) {
	return ResampleLinear(in, r.src, r.dst), nil
}

// ResampleLinear resamples mono pcm from srcRate to dstRate by linear
// interpolation. If the rates match, or either is invalid, pcm is returned
// unchanged.
func ResampleLinear(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 1 {
		return pcm
	}
	dstSamples := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := pcm[idx]
		s1 := s0
		if idx+1 < len(pcm) {
			s1 = pcm[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ── Sinc ──────────────────────────────────────────────────────────────────────

// SincResampler wraps the go-audio-resampling polyphase resampler. It keeps
// filter state between calls, so output for a frame may lag by the filter
// delay.
type SincResampler struct {
	src, dst int
	rs       resampling.Resampler
	in       []float64
}

// NewSincResampler creates a high-quality mono resampler.
func NewSincResampler(src, dst int) (*SincResampler, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(src),
		OutputRate: float64(dst),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create sinc resampler %d -> %d: %w", src, dst, err)
	}
	return &SincResampler{src: src, dst: dst, rs: rs}, nil
}

// InputRate implements [Resampler].
func (r *SincResampler) InputRate() int { return r.src }

// OutputRate implements [Resampler].
func (r *SincResampler) OutputRate() int { return r.dst }

// Process implements [Resampler].
func (r *SincResampler) Process(in []int16) ([]int16, error) {
	if cap(r.in) < len(in) {
		r.in = make([]float64, len(in))
	}
	r.in = r.in[:len(in)]
	for i, s := range in {
		r.in[i] = float64(s) / 32768.0
	}

	res, err := r.rs.Process(r.in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]int16, len(res))
	for i, s := range res {
		switch {
		case s > 1.0:
			out[i] = 32767
		case s < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out, nil
}
