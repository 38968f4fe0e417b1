package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// alert shows status, emotion and message, then plays sound if one is given.
func (o *Orchestrator) alert(ctx context.Context, status, message, emotion string, sound Sound) {
	slog.Warn("device: alert", "status", status, "message", message, "emotion", emotion)
	o.ind.SetStatus(status)
	o.ind.SetEmotion(emotion)
	o.ind.SetChatMessage("system", message)
	if sound != "" {
		o.resetDecoder()
		o.playSound(ctx, sound)
	}
}

// playSound waits for current playback to finish, switches the decoder to
// the prompt format and queues the sound's frames.
func (o *Orchestrator) playSound(ctx context.Context, sound Sound) {
	data, ok := o.sounds[sound]
	if !ok {
		slog.Debug("device: no audio for sound", "sound", sound)
		return
	}
	pkts, err := protocol.ParseP3(data)
	if err != nil {
		slog.Warn("device: malformed sound asset", "sound", sound, "err", err)
		return
	}

	if err := o.decodeQ.waitEmpty(ctx); err != nil {
		return
	}
	o.configureDecoder(soundSampleRate, soundFrameMs)
	o.exec.WaitForCompletion()

	o.aborted.Store(false)
	o.lastOutput.Store(time.Now().UnixNano())
	o.dev.EnableOutput(true)
	o.decodeQ.pushAll(pkts)
}
