// Package portaudio implements [audio.Device] on top of the host's default
// PortAudio input and output devices. It lets the orchestrator run on a
// desktop machine with a regular microphone and speaker.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// bufferMs is the PortAudio blocking buffer length for both streams.
const bufferMs = 10

// Config selects the native formats of the host streams.
type Config struct {
	InputSampleRate  int
	InputChannels    int
	OutputSampleRate int
}

// Device is a PortAudio backed [audio.Device].
type Device struct {
	cfg Config

	inMu    sync.Mutex
	in      *portaudio.Stream
	inBuf   []int16
	pending []int16

	outMu   sync.Mutex
	out     *portaudio.Stream
	outBuf  []int16
	enabled bool
}

// Open initialises PortAudio and opens the default input and output
// streams. The input stream starts immediately; output stays off until
// [Device.EnableOutput].
func Open(cfg Config) (*Device, error) {
	if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: invalid rates %d/%d", cfg.InputSampleRate, cfg.OutputSampleRate)
	}
	if cfg.InputChannels != 1 && cfg.InputChannels != 2 {
		return nil, fmt.Errorf("portaudio: input channels must be 1 or 2, got %d", cfg.InputChannels)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	d := &Device{
		cfg:    cfg,
		inBuf:  make([]int16, audio.SamplesPerFrame(cfg.InputSampleRate, bufferMs)*cfg.InputChannels),
		outBuf: make([]int16, audio.SamplesPerFrame(cfg.OutputSampleRate, bufferMs)),
	}

	in, err := portaudio.OpenDefaultStream(cfg.InputChannels, 0, float64(cfg.InputSampleRate), len(d.inBuf)/cfg.InputChannels, d.inBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}
	out, err := portaudio.OpenDefaultStream(0, 1, float64(cfg.OutputSampleRate), len(d.outBuf), d.outBuf)
	if err != nil {
		_ = in.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := in.Start(); err != nil {
		_ = in.Close()
		_ = out.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}
	d.in, d.out = in, out
	return d, nil
}

// InputSampleRate implements [audio.Device].
func (d *Device) InputSampleRate() int { return d.cfg.InputSampleRate }

// InputChannels implements [audio.Device].
func (d *Device) InputChannels() int { return d.cfg.InputChannels }

// OutputSampleRate implements [audio.Device].
func (d *Device) OutputSampleRate() int { return d.cfg.OutputSampleRate }

// InputData implements [audio.Device]. Samples left over from a stream
// buffer carry over to the next call.
func (d *Device) InputData(buf []int16) error {
	d.inMu.Lock()
	defer d.inMu.Unlock()

	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	for n < len(buf) {
		if err := d.in.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("portaudio: read: %w", err)
		}
		c := copy(buf[n:], d.inBuf)
		n += c
		if c < len(d.inBuf) {
			d.pending = append(d.pending[:0], d.inBuf[c:]...)
		}
	}
	return nil
}

// OutputData implements [audio.Device]. It blocks until pcm is queued on
// the stream; the last partial buffer is padded with silence.
func (d *Device) OutputData(pcm []int16) error {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if !d.enabled {
		return nil
	}
	for len(pcm) > 0 {
		c := copy(d.outBuf, pcm)
		clear(d.outBuf[c:])
		pcm = pcm[c:]
		if err := d.out.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// EnableOutput implements [audio.Device] by starting or stopping the output
// stream.
func (d *Device) EnableOutput(enable bool) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if enable == d.enabled {
		return
	}
	var err error
	if enable {
		err = d.out.Start()
	} else {
		err = d.out.Stop()
	}
	if err != nil {
		slog.Warn("portaudio: toggle output", "enable", enable, "err", err)
		return
	}
	d.enabled = enable
}

// OutputEnabled implements [audio.Device].
func (d *Device) OutputEnabled() bool {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	return d.enabled
}

// Close stops both streams and terminates PortAudio.
func (d *Device) Close() error {
	d.EnableOutput(false)
	var errs []error
	d.inMu.Lock()
	if err := d.in.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := d.in.Close(); err != nil {
		errs = append(errs, err)
	}
	d.inMu.Unlock()
	d.outMu.Lock()
	if err := d.out.Close(); err != nil {
		errs = append(errs, err)
	}
	d.outMu.Unlock()
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
