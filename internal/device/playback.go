package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// onAudioOutput handles one playback step: it powers the output down after
// a long silence while Idle, drops stale playback while Listening, and
// otherwise hands the oldest inbound frame to the executor. At most one
// decode job is outstanding.
func (o *Orchestrator) onAudioOutput(ctx context.Context) {
	if o.busyDecoding.Load() || o.replyPending.Load() {
		return
	}

	if o.decodeQ.len() == 0 {
		if o.State() == StateIdle && o.dev.OutputEnabled() {
			silent := time.Since(time.Unix(0, o.lastOutput.Load()))
			if silent > o.silenceTimeout {
				slog.Debug("device: output silent, powering down", "silent_for", silent)
				o.dev.EnableOutput(false)
			}
		}
		return
	}

	if o.State() == StateListening {
		o.decodeQ.clear()
		return
	}

	pkt, epoch, ok := o.decodeQ.pop()
	if !ok {
		return
	}
	o.busyDecoding.Store(true)
	if !o.exec.Submit(func() { o.decodeFrame(ctx, pkt, epoch) }) {
		o.busyDecoding.Store(false)
	}
}

// decodeFrame runs on the executor. The frame is discarded if speaking was
// aborted or playback was cleared after it was dequeued.
func (o *Orchestrator) decodeFrame(ctx context.Context, pkt *protocol.AudioStreamPacket, epoch uint64) {
	o.busyDecoding.Store(false)
	if o.discarded(epoch) {
		return
	}

	start := time.Now()
	pcm, err := o.dec.Decode(pkt.Payload)
	if err != nil {
		slog.Debug("device: dropping undecodable frame", "err", err)
		return
	}

	outRate := o.dev.OutputSampleRate()
	if decRate := o.dec.SampleRate(); decRate != outRate {
		if o.outResampler == nil || o.outResampler.InputRate() != decRate || o.outResampler.OutputRate() != outRate {
			rs, err := audio.NewResampler(o.resamplerKind, decRate, outRate)
			if err != nil {
				slog.Warn("device: output resampler", "from", decRate, "to", outRate, "err", err)
				return
			}
			o.outResampler = rs
		}
		if pcm, err = o.outResampler.Process(pcm); err != nil {
			slog.Debug("device: dropping frame, resample failed", "err", err)
			return
		}
	}

	// Re-check: abort may have been requested while decoding.
	if o.discarded(epoch) {
		return
	}
	if err := o.dev.OutputData(pcm); err != nil {
		slog.Warn("device: audio output failed", "err", err)
		return
	}
	if o.aec != AECOff {
		o.timestamps.push(pkt.Timestamp)
	}
	o.lastOutput.Store(time.Now().UnixNano())
	o.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds())
}

func (o *Orchestrator) discarded(epoch uint64) bool {
	return o.aborted.Load() || o.decodeQ.currentEpoch() != epoch
}

// beginReply runs on the protocol goroutine when a reply starts. Frames
// still queued from an earlier reply are dropped and playback is held until
// the tts start task has run.
func (o *Orchestrator) beginReply() {
	o.replyPending.Store(true)
	o.decodeQ.clear()
}

// receiveAudio is the inbound audio callback. Frames are declined once the
// decode queue is full.
func (o *Orchestrator) receiveAudio(pkt *protocol.AudioStreamPacket) {
	if !o.decodeQ.push(pkt) {
		o.metrics.RecordDroppedPacket(context.Background(), observe.QueueDecode)
	}
}
