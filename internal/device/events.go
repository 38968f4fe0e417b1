package device

import (
	"context"
	"log/slog"

	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// registerCallbacks wires the protocol client and wake-word detector into
// the orchestrator. Everything except inbound audio is funnelled through
// [Orchestrator.Schedule].
func (o *Orchestrator) registerCallbacks() {
	o.proto.OnIncomingAudio(o.receiveAudio)

	o.proto.OnIncomingEvent(func(ev protocol.Event) {
		if tts, ok := ev.(protocol.TTSEvent); ok && tts.State == protocol.TTSStart {
			o.beginReply()
		}
		o.Schedule(func(ctx context.Context) { o.handleEvent(ctx, ev) })
	})

	o.proto.OnAudioChannelOpened(func() {
		o.Schedule(func(ctx context.Context) {
			rate, frame := o.proto.ServerSampleRate(), o.proto.ServerFrameDuration()
			if rate != o.dev.OutputSampleRate() {
				slog.Info("device: server audio will be resampled", "from", rate, "to", o.dev.OutputSampleRate())
			}
			o.configureDecoder(rate, frame)
			o.sendIoTStates(ctx, false)
		})
	})

	o.proto.OnAudioChannelClosed(func() {
		o.Schedule(func(ctx context.Context) {
			o.ind.SetChatMessage("system", "")
			o.setState(ctx, StateIdle)
		})
	})

	o.proto.OnNetworkError(func(message string) {
		o.Schedule(func(ctx context.Context) {
			o.setState(ctx, StateIdle)
			o.alert(ctx, "error", message, "sad", SoundExclamation)
		})
	})

	if o.wake != nil {
		o.wake.OnWakeWord(func(word string) {
			o.Schedule(func(ctx context.Context) { o.onWakeWord(ctx, word) })
		})
	}
}

// onWakeWord reacts to a detected wake phrase.
func (o *Orchestrator) onWakeWord(ctx context.Context, word string) {
	slog.Info("device: wake word detected", "word", word, "state", o.State())
	switch o.State() {
	case StateIdle:
		if err := o.openChannel(ctx); err != nil {
			o.startWakeWord()
			return
		}
		o.sendControl(ctx, protocol.WakeWordDetected(word))
		o.setListeningMode(ctx, o.conversationMode())
	case StateSpeaking:
		o.abortSpeaking(ctx, protocol.AbortReasonWakeWordDetected)
	case StateActivating:
		o.skipActivation(ctx)
	}
}

// handleEvent dispatches one parsed control event on the event loop.
func (o *Orchestrator) handleEvent(ctx context.Context, ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.TTSEvent:
		o.handleTTS(ctx, ev)

	case protocol.STTEvent:
		slog.Info("device: user said", "text", ev.Text)
		o.ind.SetChatMessage("user", ev.Text)

	case protocol.LLMEvent:
		if ev.Emotion != "" {
			o.ind.SetEmotion(ev.Emotion)
		}

	case protocol.SystemEvent:
		switch ev.Command {
		case "reboot":
			slog.Info("device: reboot requested by server")
			if o.reboot != nil {
				o.reboot()
			}
		default:
			slog.Warn("device: unknown system command", "command", ev.Command)
		}

	case protocol.AlertEvent:
		o.alert(ctx, ev.Status, ev.Message, ev.Emotion, SoundVibration)

	case protocol.IoTEvent:
		if o.things == nil {
			return
		}
		for _, cmd := range ev.Commands {
			if err := o.things.Invoke(ctx, cmd); err != nil {
				slog.Warn("device: iot command failed", "command", string(cmd), "err", err)
			}
		}

	case protocol.MCPEvent:
		if o.mcp != nil {
			o.mcp.HandleMCP(ctx, ev.Payload)
		}

	case protocol.HelloEvent:
		// The handshake is the client's business.

	default:
		slog.Debug("device: ignoring event", "type", ev.EventType())
	}
}

func (o *Orchestrator) handleTTS(ctx context.Context, ev protocol.TTSEvent) {
	switch ev.State {
	case protocol.TTSStart:
		defer o.replyPending.Store(false)
		o.aborted.Store(false)
		if s := o.State(); s == StateIdle || s == StateListening {
			o.setState(ctx, StateSpeaking)
		}
	case protocol.TTSStop:
		if o.State() != StateSpeaking {
			return
		}
		o.exec.WaitForCompletion()
		if o.listeningMode == protocol.ListeningModeManualStop {
			o.setState(ctx, StateIdle)
		} else {
			o.setState(ctx, StateListening)
		}
	case protocol.TTSSentenceStart:
		if ev.Text != "" {
			slog.Info("device: assistant said", "text", ev.Text)
			o.ind.SetChatMessage("assistant", ev.Text)
		}
	}
}
