// Package opus provides the Opus codec services used by the device
// pipelines: a 16 kHz mono [Encoder] for capture and a reconfigurable mono
// [Decoder] for playback. Both wrap libopus through gopus.
//
// Neither type is safe for concurrent use; the orchestrator only touches
// them from its background executor.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

var (
	_ audio.Encoder = (*Encoder)(nil)
	_ audio.Decoder = (*Decoder)(nil)
)

const (
	// maxPacketBytes bounds one encoded frame.
	maxPacketBytes = 1500

	// maxFrameMs is the longest frame Opus can carry; the decoder sizes its
	// output buffer for it so any inbound duration decodes.
	maxFrameMs = 120
)

// Encoder encodes fixed-size mono frames.
type Encoder struct {
	sampleRate int
	frameMs    int
	enc        *gopus.Encoder
}

// NewEncoder creates an encoder for mono frames of frameMs at sampleRate.
func NewEncoder(sampleRate, frameMs int) (*Encoder, error) {
	e := &Encoder{sampleRate: sampleRate, frameMs: frameMs}
	if err := e.Reset(); err != nil {
		return nil, err
	}
	return e, nil
}

// FrameSize is the number of samples Encode expects.
func (e *Encoder) FrameSize() int {
	return audio.SamplesPerFrame(e.sampleRate, e.frameMs)
}

// Encode implements [audio.Encoder]. Short frames are zero-padded.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	n := e.FrameSize()
	if len(pcm) < n {
		padded := make([]int16, n)
		copy(padded, pcm)
		pcm = padded
	}
	packet, err := e.enc.Encode(pcm[:n], n, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

// Reset implements [audio.Encoder] by replacing the libopus state.
func (e *Encoder) Reset() error {
	enc, err := gopus.NewEncoder(e.sampleRate, 1, gopus.Audio)
	if err != nil {
		return fmt.Errorf("opus: create encoder: %w", err)
	}
	e.enc = enc
	return nil
}

// Decoder decodes mono packets at a configurable sample rate.
type Decoder struct {
	sampleRate int
	frameMs    int
	dec        *gopus.Decoder
}

// NewDecoder creates a decoder for mono audio at sampleRate.
func NewDecoder(sampleRate, frameMs int) (*Decoder, error) {
	d := &Decoder{sampleRate: sampleRate, frameMs: frameMs}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, audio.SamplesPerFrame(d.sampleRate, maxFrameMs), false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}

// Configure implements [audio.Decoder].
func (d *Decoder) Configure(sampleRate, frameMs int) error {
	if sampleRate == d.sampleRate && frameMs == d.frameMs {
		return nil
	}
	prevRate, prevMs := d.sampleRate, d.frameMs
	d.sampleRate, d.frameMs = sampleRate, frameMs
	if err := d.Reset(); err != nil {
		d.sampleRate, d.frameMs = prevRate, prevMs
		return err
	}
	return nil
}

// Reset implements [audio.Decoder] by replacing the libopus state.
func (d *Decoder) Reset() error {
	dec, err := gopus.NewDecoder(d.sampleRate, 1)
	if err != nil {
		return fmt.Errorf("opus: create decoder at %d Hz: %w", d.sampleRate, err)
	}
	d.dec = dec
	return nil
}

// SampleRate implements [audio.Decoder].
func (d *Decoder) SampleRate() int { return d.sampleRate }

// FrameDuration returns the configured frame duration in milliseconds.
func (d *Decoder) FrameDuration() int { return d.frameMs }
