// Package audio defines the audio collaborators of the device orchestrator
// and the PCM helpers shared by the capture and playback pipelines.
//
// The primary abstractions are:
//
//   - [Device]: the board's microphone and speaker.
//   - [WakeWordDetector]: a black-box producer of wake-phrase events.
//   - [Encoder] / [Decoder]: the codec services (package opus provides Opus).
//   - [Resampler]: sample-rate conversion between the device and the codec.
//
// All PCM in this package is signed 16-bit, interleaved when multi-channel.
//
// This package lives under pkg/ because board support code outside this
// module is expected to implement [Device] and [WakeWordDetector].
package audio

// Device is the board's audio hardware.
//
// InputData and OutputData are called only from the orchestrator's audio
// goroutine and from codec jobs respectively; EnableOutput and OutputEnabled
// may be called from any goroutine. Implementations must be safe for that.
type Device interface {
	// InputSampleRate is the native capture rate in Hz.
	InputSampleRate() int

	// InputChannels is 1 for a plain microphone or 2 when the second channel
	// carries the echo reference signal.
	InputChannels() int

	// OutputSampleRate is the native playback rate in Hz.
	OutputSampleRate() int

	// InputData fills buf with interleaved samples. It blocks until buf is
	// full or an error occurs.
	InputData(buf []int16) error

	// OutputData renders mono pcm at OutputSampleRate.
	OutputData(pcm []int16) error

	// EnableOutput powers the output path up or down.
	EnableOutput(enable bool)

	// OutputEnabled reports whether the output path is powered.
	OutputEnabled() bool
}

// WakeWordDetector recognises the wake phrase in 16 kHz mono audio.
//
// Feed is called from the orchestrator's audio goroutine; the callback
// registered with OnWakeWord may fire on any goroutine and must not block.
type WakeWordDetector interface {
	IsRunning() bool
	Start()
	Stop()

	// Feed passes FeedSize samples to the detector.
	Feed(samples []int16)

	// FeedSize is the number of 16 kHz samples the detector wants per Feed.
	FeedSize() int

	// OnWakeWord registers the detection callback.
	OnWakeWord(fn func(word string))
}

// Encoder turns one frame of 16 kHz mono PCM into an encoded packet.
// Implementations are not safe for concurrent use.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	Reset() error
}

// Decoder turns one encoded packet into mono PCM at SampleRate.
// Implementations are not safe for concurrent use.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)

	// Configure switches the decoder to a new stream format. It is a no-op
	// when the format is unchanged.
	Configure(sampleRate, frameDurationMs int) error

	Reset() error
	SampleRate() int
}
