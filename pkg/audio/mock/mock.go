// Package mock provides in-memory implementations of the [audio.Device],
// [audio.WakeWordDetector], [audio.Encoder], and [audio.Decoder] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	dev := &mock.Device{InputRate: 16000, Channels: 1, OutputRate: 24000}
//	dec := &mock.Decoder{Rate: 24000}
//	// ... drive the orchestrator ...
//	if got := len(dev.Output()); got != 3 { ... }
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

var (
	_ audio.Device           = (*Device)(nil)
	_ audio.WakeWordDetector = (*WakeWordDetector)(nil)
	_ audio.Encoder          = (*Encoder)(nil)
	_ audio.Decoder          = (*Decoder)(nil)
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. InputData returns
// silence (optionally after InputDelay) and OutputData records every frame.
type Device struct {
	mu sync.Mutex

	// InputRate is returned by [Device.InputSampleRate]. Defaults to 16000.
	InputRate int

	// Channels is returned by [Device.InputChannels]. Defaults to 1.
	Channels int

	// OutputRate is returned by [Device.OutputSampleRate]. Defaults to 24000.
	OutputRate int

	// InputDelay is slept by every InputData call, emulating a blocking read.
	InputDelay time.Duration

	// InputSample, when non-zero, fills every input buffer.
	InputSample int16

	// InputError is returned by [Device.InputData].
	InputError error

	// OutputError is returned by [Device.OutputData].
	OutputError error

	// OutputHook, if set, is called at the start of every OutputData call.
	OutputHook func(pcm []int16)

	// CallCount records method invocations by name.
	CallCount struct {
		InputData    int
		OutputData   int
		EnableOutput int
	}

	outputs [][]int16
	enabled bool
}

// InputSampleRate implements [audio.Device].
func (d *Device) InputSampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.InputRate == 0 {
		return 16000
	}
	return d.InputRate
}

// InputChannels implements [audio.Device].
func (d *Device) InputChannels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Channels == 0 {
		return 1
	}
	return d.Channels
}

// OutputSampleRate implements [audio.Device].
func (d *Device) OutputSampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OutputRate == 0 {
		return 24000
	}
	return d.OutputRate
}

// InputData implements [audio.Device].
func (d *Device) InputData(buf []int16) error {
	d.mu.Lock()
	d.CallCount.InputData++
	delay, sample, err := d.InputDelay, d.InputSample, d.InputError
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = sample
	}
	return nil
}

// OutputData implements [audio.Device]. A copy of pcm is recorded.
func (d *Device) OutputData(pcm []int16) error {
	d.mu.Lock()
	hook := d.OutputHook
	d.mu.Unlock()
	if hook != nil {
		hook(pcm)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCount.OutputData++
	if d.OutputError != nil {
		return d.OutputError
	}
	d.outputs = append(d.outputs, append([]int16(nil), pcm...))
	return nil
}

// EnableOutput implements [audio.Device].
func (d *Device) EnableOutput(enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCount.EnableOutput++
	d.enabled = enable
}

// OutputEnabled implements [audio.Device].
func (d *Device) OutputEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Output returns a copy of every frame passed to OutputData.
func (d *Device) Output() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int16(nil), d.outputs...)
}

// ─── WakeWordDetector ─────────────────────────────────────────────────────────

// WakeWordDetector is a mock implementation of [audio.WakeWordDetector].
// Use [WakeWordDetector.Trigger] to simulate a detection.
type WakeWordDetector struct {
	mu sync.Mutex

	// FeedSizeResult is returned by [WakeWordDetector.FeedSize]. Defaults to 512.
	FeedSizeResult int

	// FeedSizeFunc, if set, overrides FeedSizeResult.
	FeedSizeFunc func() int

	// CallCount records method invocations by name.
	CallCount struct {
		Start int
		Stop  int
		Feed  int
	}

	running  bool
	callback func(string)
}

// IsRunning implements [audio.WakeWordDetector].
func (w *WakeWordDetector) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start implements [audio.WakeWordDetector].
func (w *WakeWordDetector) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CallCount.Start++
	w.running = true
}

// Stop implements [audio.WakeWordDetector].
func (w *WakeWordDetector) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CallCount.Stop++
	w.running = false
}

// Feed implements [audio.WakeWordDetector].
func (w *WakeWordDetector) Feed([]int16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CallCount.Feed++
}

// FeedSize implements [audio.WakeWordDetector].
func (w *WakeWordDetector) FeedSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FeedSizeFunc != nil {
		return w.FeedSizeFunc()
	}
	if w.FeedSizeResult == 0 {
		return 512
	}
	return w.FeedSizeResult
}

// Feeds returns how many times Feed was called.
func (w *WakeWordDetector) Feeds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.CallCount.Feed
}

// OnWakeWord implements [audio.WakeWordDetector].
func (w *WakeWordDetector) OnWakeWord(fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = fn
}

// Trigger invokes the registered detection callback with word.
func (w *WakeWordDetector) Trigger(word string) {
	w.mu.Lock()
	fn := w.callback
	w.mu.Unlock()
	if fn != nil {
		fn(word)
	}
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder is a mock implementation of [audio.Encoder]. Each packet is the
// little-endian byte form of the first sample, which keeps packets small and
// distinguishable.
type Encoder struct {
	mu sync.Mutex

	// EncodeError is returned by [Encoder.Encode].
	EncodeError error

	// CallCount records method invocations by name.
	CallCount struct {
		Encode int
		Reset  int
	}
}

// Encode implements [audio.Encoder].
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCount.Encode++
	if e.EncodeError != nil {
		return nil, e.EncodeError
	}
	var first int16
	if len(pcm) > 0 {
		first = pcm[0]
	}
	return audio.Int16ToBytes([]int16{first}), nil
}

// Reset implements [audio.Encoder].
func (e *Encoder) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCount.Reset++
	return nil
}

// Resets returns how many times Reset was called.
func (e *Encoder) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCount.Reset
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock implementation of [audio.Decoder]. Every packet decodes
// to one frame of FrameSamples samples whose value is the packet's first byte.
type Decoder struct {
	mu sync.Mutex

	// Rate is the initial sample rate. Defaults to 24000.
	Rate int

	// FrameSamples is the decoded frame length. Defaults to Rate*60/1000.
	FrameSamples int

	// DecodeDelay is slept by every Decode call.
	DecodeDelay time.Duration

	// DecodeError is returned by [Decoder.Decode].
	DecodeError error

	// DecodeHook, if set, runs at the start of every Decode call.
	DecodeHook func(packet []byte)

	// CallCount records method invocations by name.
	CallCount struct {
		Decode    int
		Configure int
		Reset     int
	}

	// Configured records every Configure call as [rate, frameMs].
	Configured [][2]int
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	d.mu.Lock()
	hook, delay := d.DecodeHook, d.DecodeDelay
	d.mu.Unlock()
	if hook != nil {
		hook(packet)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCount.Decode++
	if d.DecodeError != nil {
		return nil, d.DecodeError
	}
	n := d.FrameSamples
	if n == 0 {
		n = audio.SamplesPerFrame(d.rate(), 60)
	}
	var v int16
	if len(packet) > 0 {
		v = int16(packet[0])
	}
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = v
	}
	return pcm, nil
}

// Configure implements [audio.Decoder].
func (d *Decoder) Configure(sampleRate, frameMs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCount.Configure++
	d.Configured = append(d.Configured, [2]int{sampleRate, frameMs})
	d.Rate = sampleRate
	d.FrameSamples = audio.SamplesPerFrame(sampleRate, frameMs)
	return nil
}

// Reset implements [audio.Decoder].
func (d *Decoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCount.Reset++
	return nil
}

// SampleRate implements [audio.Decoder].
func (d *Decoder) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate()
}

// Decodes returns how many packets have been decoded.
func (d *Decoder) Decodes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCount.Decode
}

func (d *Decoder) rate() int {
	if d.Rate == 0 {
		return 24000
	}
	return d.Rate
}
