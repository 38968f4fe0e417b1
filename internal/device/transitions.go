package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// setState performs one transition. It must run on the event loop.
//
// The executor is drained before any entry effect so that no codec job queued
// before the transition can overlap the codec resets performed by it.
func (o *Orchestrator) setState(ctx context.Context, s State) {
	prev := o.State()
	if s == prev {
		return
	}
	o.clockTicks.Store(0)
	o.exec.WaitForCompletion()

	o.ind.OnStateChanged(s)
	o.enter(ctx, prev, s)

	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()

	// Frames that arrive from here on are cleared by onAudioOutput; the epoch
	// bump invalidates those the audio goroutine already popped.
	if s == StateListening {
		o.decodeQ.clear()
	}

	slog.Info("device: state changed", "from", prev, "to", s)
	o.metrics.RecordStateTransition(ctx, prev.String(), s.String())
}

// enter runs the entry effects of s.
func (o *Orchestrator) enter(ctx context.Context, prev, s State) {
	switch s {
	case StateStarting:
		o.ind.SetStatus("starting")
	case StateConfiguring:
		o.ind.SetStatus("configuring")
	case StateActivating:
		o.ind.SetStatus("activation")
	case StateUpgrading:
		o.ind.SetStatus("upgrading")
		o.stopCapture()
		o.stopWakeWord()
	case StateFatalError:
		o.ind.SetStatus("error")
		o.ind.SetEmotion("sad")
		o.stopCapture()
		o.stopWakeWord()

	case StateIdle:
		o.ind.SetStatus("standby")
		o.ind.SetEmotion("neutral")
		o.stopCapture()
		o.startWakeWord()

	case StateConnecting:
		o.ind.SetStatus("connecting")
		o.ind.SetEmotion("neutral")
		o.ind.SetChatMessage("system", "")
		o.timestamps.clear()

	case StateListening:
		o.ind.SetStatus("listening")
		o.ind.SetEmotion("neutral")
		o.sendIoTStates(ctx, true)

		if !o.captureRunning.Load() {
			o.sendControl(ctx, protocol.StartListening(o.listeningMode))
			if o.listeningMode == protocol.ListeningModeAutoStop && prev == StateSpeaking {
				time.Sleep(speakerDrainDelay)
			}
			o.resetEncoder()
			o.stopWakeWord()
			o.startCapture()
		}

	case StateSpeaking:
		o.ind.SetStatus("speaking")
		if o.listeningMode != protocol.ListeningModeRealtime {
			o.stopCapture()
			o.startWakeWord()
		}
		// A prompt sound may have left the decoder in its own format.
		o.configureDecoder(o.proto.ServerSampleRate(), o.proto.ServerFrameDuration())
		o.restartDecoder()
	}
}

// setListeningMode records mode and enters Listening.
func (o *Orchestrator) setListeningMode(ctx context.Context, mode protocol.ListeningMode) {
	o.listeningMode = mode
	o.setState(ctx, StateListening)
}

func (o *Orchestrator) startCapture() { o.captureRunning.Store(true) }
func (o *Orchestrator) stopCapture()  { o.captureRunning.Store(false) }

func (o *Orchestrator) startWakeWord() {
	if o.wake != nil && !o.wake.IsRunning() {
		o.wake.Start()
	}
}

func (o *Orchestrator) stopWakeWord() {
	if o.wake != nil && o.wake.IsRunning() {
		o.wake.Stop()
	}
}

// resetEncoder queues an encoder reset ahead of the first captured frame.
func (o *Orchestrator) resetEncoder() {
	o.exec.Submit(func() {
		if err := o.enc.Reset(); err != nil {
			slog.Warn("device: reset encoder", "err", err)
		}
	})
}

// resetDecoder discards pending playback and restarts the decoder.
func (o *Orchestrator) resetDecoder() {
	o.decodeQ.clear()
	o.restartDecoder()
}

// restartDecoder queues a decoder reset ahead of any frame still queued and
// powers the output up.
func (o *Orchestrator) restartDecoder() {
	o.exec.Submit(func() {
		if err := o.dec.Reset(); err != nil {
			slog.Warn("device: reset decoder", "err", err)
		}
	})
	o.lastOutput.Store(time.Now().UnixNano())
	o.dev.EnableOutput(true)
}

// configureDecoder switches the decoder to a new inbound format. It drains
// the executor so no queued frame is decoded with the wrong format.
func (o *Orchestrator) configureDecoder(sampleRate, frameMs int) {
	o.exec.WaitForCompletion()
	o.exec.Submit(func() {
		if err := o.dec.Configure(sampleRate, frameMs); err != nil {
			slog.Warn("device: configure decoder", "sample_rate", sampleRate, "frame_ms", frameMs, "err", err)
		}
	})
}
