package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// audioLoop runs the capture and playback pipelines until ctx is done.
func (o *Orchestrator) audioLoop(ctx context.Context) {
	for ctx.Err() == nil {
		o.onAudioInput(ctx)
		o.onAudioOutput(ctx)
	}
}

// onAudioInput handles one input step. A running wake-word detector that
// wants samples takes precedence over capture; when neither consumes input
// the raw source is still polled at a low rate so it does not buffer without
// bound.
func (o *Orchestrator) onAudioInput(ctx context.Context) {
	if o.wake != nil && o.wake.IsRunning() {
		if n := o.wake.FeedSize(); n > 0 {
			pcm, err := o.readAudio(n)
			if err != nil {
				o.inputFailed(ctx, err)
				return
			}
			o.wake.Feed(pcm)
			return
		}
	}

	switch {
	case o.captureRunning.Load():
		pcm, err := o.readAudio(audio.SamplesPerFrame(codecSampleRate, o.frameMs))
		if err != nil {
			o.inputFailed(ctx, err)
			return
		}
		o.exec.Submit(func() { o.encodeFrame(ctx, pcm) })

	default:
		if !sleep(ctx, keepaliveInterval) {
			return
		}
		if _, err := o.readAudio(audio.SamplesPerFrame(codecSampleRate, int(keepaliveInterval/time.Millisecond))); err != nil {
			slog.Debug("device: keepalive read failed", "err", err)
		}
	}
}

// readAudio reads enough native input for samples frames at 16 kHz and
// returns it as 16 kHz mono. With two input channels the second one is the
// echo reference: in [AECDevice] mode both channels are resampled and run
// through the echo canceller, otherwise the reference is dropped.
func (o *Orchestrator) readAudio(samples int) ([]int16, error) {
	rate := o.dev.InputSampleRate()
	channels := o.dev.InputChannels()

	n := samples
	if rate != codecSampleRate {
		n = samples * rate / codecSampleRate
	}
	buf := make([]int16, n*channels)
	if err := o.dev.InputData(buf); err != nil {
		return nil, fmt.Errorf("device: read input: %w", err)
	}

	pcm, ref := buf, []int16(nil)
	if channels == 2 {
		pcm, ref = audio.SplitStereo(buf)
	}
	if o.inResampler != nil {
		out, err := o.inResampler.Process(pcm)
		if err != nil {
			return nil, fmt.Errorf("device: resample input: %w", err)
		}
		pcm = out
	}
	if o.echo == nil || ref == nil {
		return pcm, nil
	}

	if o.refResampler != nil {
		out, err := o.refResampler.Process(ref)
		if err != nil {
			return nil, fmt.Errorf("device: resample reference: %w", err)
		}
		ref = out
	}
	clean, err := o.echo.Process(audio.Interleave(pcm, ref))
	if err != nil {
		slog.Debug("device: echo cancellation failed, using raw microphone", "err", err)
		return pcm, nil
	}
	return clean, nil
}

// inputFailed logs a read error and backs off for one poll interval so a
// broken source does not spin the loop.
func (o *Orchestrator) inputFailed(ctx context.Context, err error) {
	slog.Warn("device: audio input failed", "err", err)
	sleep(ctx, keepaliveInterval)
}

// encodeFrame runs on the executor. It encodes one captured frame, pairs it
// with the oldest pending reference timestamp and hands it to the event loop.
func (o *Orchestrator) encodeFrame(ctx context.Context, pcm []int16) {
	if o.proto.IsAudioChannelBusy() {
		return
	}

	start := time.Now()
	payload, err := o.enc.Encode(pcm)
	if err != nil {
		slog.Warn("device: encode failed", "err", err)
		return
	}
	o.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())

	ts, ok := o.timestamps.take()
	if !ok {
		o.metrics.RecordDroppedPacket(ctx, observe.QueueTimestamp)
		slog.Debug("device: reference timestamps backed up, dropping frame")
		return
	}
	o.enqueueOutbound(ctx, &protocol.AudioStreamPacket{Payload: payload, Timestamp: ts})
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
