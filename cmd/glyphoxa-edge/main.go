// Command glyphoxa-edge runs the on-device voice runtime: it opens the audio
// hardware, provisions the device against the backend and hands control to
// the orchestrator until it receives SIGINT or SIGTERM.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphoxa-edge/internal/config"
	"github.com/MrWong99/glyphoxa-edge/internal/device"
	"github.com/MrWong99/glyphoxa-edge/internal/display"
	"github.com/MrWong99/glyphoxa-edge/internal/health"
	"github.com/MrWong99/glyphoxa-edge/internal/mcpdevice"
	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/internal/ota"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio/opus"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio/portaudio"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
	ws "github.com/MrWong99/glyphoxa-edge/pkg/protocol/websocket"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "edge.yaml", "path to the YAML configuration file")
	interactive := flag.Bool("stdin", true, "read button commands from standard input")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glyphoxa-edge: config file %q not found, copy configs/edge.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glyphoxa-edge: %v\n", err)
		}
		return 1
	}
	generated := config.EnsureClientID(cfg)
	if cfg.OTA.FirmwareVersion == "" {
		cfg.OTA.FirmwareVersion = version
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("glyphoxa-edge starting",
		"config", *configPath,
		"version", cfg.OTA.FirmwareVersion,
		"device_id", cfg.Device.DeviceID,
		"client_id", cfg.Device.ClientID,
		"audio_backend", cfg.Audio.Backend,
	)
	if generated {
		slog.Warn("no client_id configured, generated one for this run; add it to the config to keep it stable",
			"client_id", cfg.Device.ClientID)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, reboot := context.WithCancelCause(ctx)
	defer reboot(nil)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: cfg.OTA.FirmwareVersion,
		DeviceID:       cfg.Device.DeviceID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Audio hardware and codecs ─────────────────────────────────────────────
	dev, closeDev, err := openDevice(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return 1
	}
	defer closeDev()

	enc, err := opus.NewEncoder(16000, cfg.Audio.FrameDurationMs)
	if err != nil {
		slog.Error("failed to create opus encoder", "err", err)
		return 1
	}
	dec, err := opus.NewDecoder(16000, 60)
	if err != nil {
		slog.Error("failed to create opus decoder", "err", err)
		return 1
	}

	sounds, err := loadSounds(cfg.Sounds)
	if err != nil {
		slog.Error("failed to load sounds", "err", err)
		return 1
	}

	// ── Protocol client ───────────────────────────────────────────────────────
	client, err := ws.New(ws.Config{
		URL:           cfg.Protocol.URL,
		Token:         cfg.Protocol.Token,
		Version:       cfg.Protocol.Version,
		DeviceID:      cfg.Device.DeviceID,
		ClientID:      cfg.Device.ClientID,
		SampleRate:    16000,
		FrameDuration: cfg.Audio.FrameDurationMs,
		MCP:           true,
		HelloTimeout:  cfg.Protocol.HelloTimeout,
	})
	if err != nil {
		slog.Error("failed to create protocol client", "err", err)
		return 1
	}

	// ── Orchestrator and its collaborators ────────────────────────────────────
	// The activator and tool server report back into the orchestrator, which
	// in turn needs both at construction; late binds the two.
	late := &lateDevice{}
	ind := display.NewLogIndicator(nil)
	tools := mcpdevice.New(late, dev,
		mcpdevice.WithMetrics(metrics),
		mcpdevice.WithVersion(cfg.OTA.FirmwareVersion),
		mcpdevice.WithPlayer(late),
	)

	opts := []device.Option{
		device.WithMetrics(metrics),
		device.WithMCPHandler(tools),
		device.WithSilenceTimeout(cfg.Orchestrator.SilenceTimeout),
		device.WithTimestampQueueBound(cfg.Orchestrator.TimestampQueueBound),
		device.WithOutboundQueueCapacity(cfg.Orchestrator.OutboundQueueCapacity),
		device.WithFrameDuration(cfg.Audio.FrameDurationMs),
		device.WithAEC(device.AECMode(cfg.Audio.AEC)),
		device.WithRealtimeChat(cfg.Orchestrator.RealtimeChat),
		device.WithResampler(audio.ResamplerKind(cfg.Audio.Resampler)),
		device.WithSounds(sounds),
		device.WithVersion(cfg.OTA.FirmwareVersion),
		device.WithRebootHook(func() { reboot(errReboot) }),
	}
	if cfg.OTA.URL != "" {
		runner, err := newActivator(cfg, client, late, metrics)
		if err != nil {
			slog.Error("failed to create version check client", "err", err)
			return 1
		}
		opts = append(opts, device.WithActivator(runner))
	}

	orch, err := device.New(client, dev, enc, dec, ind, opts...)
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		return 1
	}
	late.orch = orch

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, cfg, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "log_level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return tools.Run(gctx, orch) })
	g.Go(func() error { return watcher.Run(gctx) })
	if cfg.Server.ListenAddr != "" {
		srv := newStatusServer(cfg.Server.ListenAddr, orch, ind, provider, metrics)
		g.Go(func() error { return serve(gctx, srv) })
	}
	if *interactive {
		// Not part of the group: a blocked read on stdin cannot be interrupted.
		go readCommands(os.Stdin, orch)
	}

	slog.Info("device ready, press Ctrl+C to shut down")

	err = g.Wait()
	if errors.Is(context.Cause(ctx), errReboot) {
		slog.Info("reboot requested by backend, exiting for restart")
		return 3
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

var errReboot = errors.New("reboot requested")

// lateDevice forwards to the orchestrator once it exists. Nothing calls it
// before [device.Orchestrator.Run] starts.
type lateDevice struct {
	orch *device.Orchestrator
}

func (l *lateDevice) State() device.State     { return l.orch.State() }
func (l *lateDevice) CanEnterSleepMode() bool { return l.orch.CanEnterSleepMode() }
func (l *lateDevice) SetServerTime(t time.Time) {
	l.orch.SetServerTime(t)
}

func (l *lateDevice) PlaySound(sound device.Sound) { l.orch.PlaySound(sound) }

func (l *lateDevice) Alert(status, message, emotion string, sound device.Sound) {
	l.orch.Alert(status, message, emotion, sound)
}

// openDevice opens the configured audio backend and returns its closer.
func openDevice(cfg config.AudioConfig) (audio.Device, func(), error) {
	if cfg.Backend == config.BackendNone {
		return audio.NewNullDevice(cfg.InputSampleRate, cfg.InputChannels, cfg.OutputSampleRate), func() {}, nil
	}
	dev, err := portaudio.Open(portaudio.Config{
		InputSampleRate:  cfg.InputSampleRate,
		InputChannels:    cfg.InputChannels,
		OutputSampleRate: cfg.OutputSampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	return dev, func() {
		if err := dev.Close(); err != nil {
			slog.Warn("audio device close error", "err", err)
		}
	}, nil
}

// loadSounds reads the configured prompt sound assets. Unset sounds stay
// silent; an unreadable file is an error.
func loadSounds(cfg config.SoundsConfig) (map[device.Sound][]byte, error) {
	paths := map[device.Sound]string{
		device.SoundActivation:  cfg.Activation,
		device.SoundExclamation: cfg.Exclamation,
		device.SoundPopup:       cfg.Popup,
		device.SoundSuccess:     cfg.Success,
		device.SoundVibration:   cfg.Vibration,
	}
	sounds := make(map[device.Sound][]byte, len(paths))
	for sound, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sound %s: %w", sound, err)
		}
		if _, err := protocol.ParseP3(data); err != nil {
			return nil, fmt.Errorf("sound %s: %w", sound, err)
		}
		sounds[sound] = data
	}
	return sounds, nil
}

// newActivator wires the version check client to the protocol client: a
// provisioned WebSocket endpoint replaces the configured one.
func newActivator(cfg *config.Config, client *ws.Client, disp ota.Display, metrics *observe.Metrics) (*ota.Runner, error) {
	checker, err := ota.New(ota.Config{
		URL:             cfg.OTA.URL,
		FirmwareVersion: cfg.OTA.FirmwareVersion,
		DeviceID:        cfg.Device.DeviceID,
		ClientID:        cfg.Device.ClientID,
		Board:           cfg.Device.Board,
	})
	if err != nil {
		return nil, err
	}
	return ota.NewRunner(checker, disp, ota.RunnerConfig{
		MaxRetries: cfg.OTA.MaxRetries,
		RetryDelay: cfg.OTA.RetryDelay,
	},
		ota.WithRunnerMetrics(metrics),
		ota.WithOnResult(func(res *ota.Result) {
			if res.WebSocket == nil || res.WebSocket.URL == "" {
				return
			}
			if err := client.SetEndpoint(res.WebSocket.URL, res.WebSocket.Token); err != nil {
				slog.Warn("ignoring provisioned websocket endpoint", "url", res.WebSocket.URL, "err", err)
				return
			}
			slog.Info("using provisioned websocket endpoint", "url", res.WebSocket.URL)
		}),
		ota.WithOnNewFirmware(func(fw ota.Firmware) {
			slog.Warn("new firmware available, install it out of band", "version", fw.Version, "url", fw.URL)
		}),
	), nil
}

// statusSnapshot is the /status response body.
type statusSnapshot struct {
	State   string           `json:"state"`
	Display display.Snapshot `json:"display"`
}

func newStatusServer(addr string, orch *device.Orchestrator, ind *display.LogIndicator, provider *observe.Provider, metrics *observe.Metrics) *http.Server {
	h := health.New(
		[]health.Checker{health.StateChecker(orch.State)},
		health.WithStatus(func() any {
			return statusSnapshot{State: orch.State().String(), Display: ind.Snapshot()}
		}),
	)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", provider.MetricsHandler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("status server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

// buttons is what readCommands drives; [device.Orchestrator] satisfies it.
type buttons interface {
	ToggleChat()
	StartListening()
	StopListening()
	AbortSpeaking(protocol.AbortReason)
	WakeWordInvoke(word string)
	DismissAlert()
}

// readCommands maps one line per command to the board's buttons until r
// is exhausted.
func readCommands(r io.Reader, b buttons) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch cmd {
		case "":
		case "t":
			b.ToggleChat()
		case "s":
			b.StartListening()
		case "x":
			b.StopListening()
		case "a":
			b.AbortSpeaking(protocol.AbortReasonNone)
		case "w":
			if arg == "" {
				arg = "hello"
			}
			b.WakeWordInvoke(arg)
		case "d":
			b.DismissAlert()
		default:
			slog.Info("unknown command; t toggle, s listen, x stop, a abort, w [word] wake, d dismiss", "command", cmd)
		}
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
