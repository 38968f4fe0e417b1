package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

var _ Device = (*NullDevice)(nil)

// NullDevice is a [Device] for hosts without a sound card. Capture yields
// silence and playback is discarded, both paced at the nominal sample rate
// so the pipelines above run at real-time speed.
type NullDevice struct {
	inRate, channels, outRate int

	inMu   sync.Mutex
	inNext time.Time

	outMu   sync.Mutex
	outNext time.Time

	enabled atomic.Bool
}

// NewNullDevice returns a NullDevice with the given native formats.
func NewNullDevice(inputRate, inputChannels, outputRate int) *NullDevice {
	return &NullDevice{inRate: inputRate, channels: max(inputChannels, 1), outRate: outputRate}
}

func (d *NullDevice) InputSampleRate() int  { return d.inRate }
func (d *NullDevice) InputChannels() int    { return d.channels }
func (d *NullDevice) OutputSampleRate() int { return d.outRate }

// InputData fills buf with silence once the buffer's duration has elapsed.
func (d *NullDevice) InputData(buf []int16) error {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	d.inNext = pace(d.inNext, len(buf)/d.channels, d.inRate)
	clear(buf)
	return nil
}

// OutputData discards pcm after its playback duration.
func (d *NullDevice) OutputData(pcm []int16) error {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	d.outNext = pace(d.outNext, len(pcm), d.outRate)
	return nil
}

func (d *NullDevice) EnableOutput(enable bool) { d.enabled.Store(enable) }
func (d *NullDevice) OutputEnabled() bool      { return d.enabled.Load() }

// pace sleeps until the end of a stream of samples at rate that started at
// next, and returns the new end. A stream that fell behind by more than one
// buffer restarts from now.
func pace(next time.Time, samples, rate int) time.Time {
	if rate <= 0 {
		return next
	}
	d := time.Duration(samples) * time.Second / time.Duration(rate)
	now := time.Now()
	if next.Before(now.Add(-d)) {
		next = now
	}
	next = next.Add(d)
	time.Sleep(time.Until(next))
	return next
}
