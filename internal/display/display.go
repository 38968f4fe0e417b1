// Package display provides a [device.Indicator] for hosts without a screen.
//
// [LogIndicator] writes every state change, status line, emotion and chat
// message to a structured logger and keeps the latest values so the status
// server can report what a screen would show.
package display

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa-edge/internal/device"
)

var (
	_ device.Indicator = (*LogIndicator)(nil)
	_ device.Notifier  = (*LogIndicator)(nil)
)

// Snapshot is what the display currently shows.
type Snapshot struct {
	State     string    `json:"state"`
	Status    string    `json:"status"`
	Emotion   string    `json:"emotion"`
	ChatRole  string    `json:"chat_role,omitempty"`
	ChatText  string    `json:"chat_text,omitempty"`

	// Notification is the last transient notice, e.g. the firmware version
	// shown at boot.
	Notification string    `json:"notification,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LogIndicator logs display updates. The device calls it from its event loop;
// [LogIndicator.Snapshot] may be called from any goroutine.
type LogIndicator struct {
	log *slog.Logger
	now func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// NewLogIndicator creates a LogIndicator writing to log. A nil log uses
// [slog.Default].
func NewLogIndicator(log *slog.Logger) *LogIndicator {
	if log == nil {
		log = slog.Default()
	}
	return &LogIndicator{
		log:  log,
		now:  time.Now,
		snap: Snapshot{State: device.StateUnknown.String(), Emotion: "neutral"},
	}
}

// OnStateChanged implements [device.Indicator].
func (l *LogIndicator) OnStateChanged(s device.State) {
	prev := l.update(func(sn *Snapshot) { sn.State = s.String() })
	l.log.Info("display: state", "from", prev.State, "to", s.String())
}

// SetStatus implements [device.Indicator].
func (l *LogIndicator) SetStatus(status string) {
	prev := l.update(func(sn *Snapshot) { sn.Status = status })
	if prev.Status != status {
		l.log.Debug("display: status", "status", status)
	}
}

// SetEmotion implements [device.Indicator].
func (l *LogIndicator) SetEmotion(emotion string) {
	prev := l.update(func(sn *Snapshot) { sn.Emotion = emotion })
	if prev.Emotion != emotion {
		l.log.Debug("display: emotion", "emotion", emotion)
	}
}

// SetChatMessage implements [device.Indicator]. An empty text clears the
// message.
func (l *LogIndicator) SetChatMessage(role, text string) {
	l.update(func(sn *Snapshot) {
		if text == "" {
			sn.ChatRole, sn.ChatText = "", ""
			return
		}
		sn.ChatRole, sn.ChatText = role, text
	})
	if text != "" {
		l.log.Info("display: chat", "role", role, "text", text)
	}
}

// ShowNotification implements [device.Notifier].
func (l *LogIndicator) ShowNotification(message string) {
	l.update(func(sn *Snapshot) { sn.Notification = message })
	l.log.Info("display: notification", "message", message)
}

// Snapshot returns the current display contents.
func (l *LogIndicator) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// update applies fn and returns the snapshot as it was before.
func (l *LogIndicator) update(fn func(*Snapshot)) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.snap
	fn(&l.snap)
	l.snap.UpdatedAt = l.now()
	return prev
}
