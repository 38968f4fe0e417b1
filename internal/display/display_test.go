package display

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa-edge/internal/device"
)

func newTestIndicator() (*LogIndicator, *bytes.Buffer) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLogIndicator(log)
	l.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return l, &buf
}

func TestLogIndicator_Snapshot(t *testing.T) {
	t.Parallel()
	l, _ := newTestIndicator()

	l.OnStateChanged(device.StateListening)
	l.SetStatus("listening")
	l.SetEmotion("happy")
	l.SetChatMessage("user", "what time is it")

	want := Snapshot{
		State:     "listening",
		Status:    "listening",
		Emotion:   "happy",
		ChatRole:  "user",
		ChatText:  "what time is it",
		UpdatedAt: time.Unix(1_700_000_000, 0),
	}
	if got := l.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}

	l.SetChatMessage("system", "")
	if got := l.Snapshot(); got.ChatRole != "" || got.ChatText != "" {
		t.Errorf("chat not cleared: %+v", got)
	}
}

func TestLogIndicator_Logs(t *testing.T) {
	t.Parallel()
	l, buf := newTestIndicator()

	l.OnStateChanged(device.StateIdle)
	l.SetStatus("standby")
	l.SetStatus("standby")
	l.SetChatMessage("assistant", "hello there")

	out := buf.String()
	for _, want := range []string{
		"display: state",
		"from=unknown",
		"to=idle",
		"status=standby",
		`text="hello there"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "display: status"); n != 1 {
		t.Errorf("repeated status logged %d times, want 1", n)
	}
}

func TestNewLogIndicator_Defaults(t *testing.T) {
	t.Parallel()
	l := NewLogIndicator(nil)
	snap := l.Snapshot()
	if snap.State != "unknown" || snap.Emotion != "neutral" {
		t.Errorf("initial snapshot = %+v", snap)
	}
}

func TestLogIndicator_ShowNotification(t *testing.T) {
	t.Parallel()
	l, buf := newTestIndicator()
	l.ShowNotification("version 1.4.2")

	if got := l.Snapshot().Notification; got != "version 1.4.2" {
		t.Errorf("Notification = %q, want %q", got, "version 1.4.2")
	}
	if !strings.Contains(buf.String(), `message="version 1.4.2"`) {
		t.Errorf("notification not logged:\n%s", buf.String())
	}
}
