package ota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/glyphoxa-edge/internal/device"
	"github.com/MrWong99/glyphoxa-edge/internal/observe"
	"github.com/MrWong99/glyphoxa-edge/internal/resilience"
)

// Display is the part of the device the runner reports to.
// [device.Orchestrator] satisfies it.
type Display interface {
	Alert(status, message, emotion string, sound device.Sound)
	SetServerTime(t time.Time)
}

// Checker performs provisioning requests. [Client] satisfies it.
type Checker interface {
	Check(ctx context.Context) (*Result, error)
	Activate(ctx context.Context, challenge string) error
}

// RunnerConfig tunes the retry loops of a [Runner]. Zero fields take defaults.
type RunnerConfig struct {
	// MaxRetries bounds consecutive failed version checks. Default 10.
	MaxRetries int

	// RetryDelay is the wait after the first failed check; it doubles on
	// every further failure. Default 10s.
	RetryDelay time.Duration

	// ActivationAttempts bounds activation polls per version check. Default 10.
	ActivationAttempts int

	// PendingDelay is the wait after a pending activation response. Default 3s.
	PendingDelay time.Duration

	// FailDelay is the wait after a failed activation request. Default 10s.
	FailDelay time.Duration
}

// Runner drives the boot-time version check and activation.
// It implements [device.Activator].
type Runner struct {
	checker Checker
	display Display
	cfg     RunnerConfig
	metrics *observe.Metrics

	onResult      func(*Result)
	onNewFirmware func(Firmware)
	sleep         func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithOnResult registers a hook called with every successful check result,
// before activation starts. It is used to apply the advertised WebSocket
// endpoint.
func WithOnResult(fn func(*Result)) RunnerOption {
	return func(r *Runner) { r.onResult = fn }
}

// WithOnNewFirmware registers a hook called when the backend offers a newer
// firmware.
func WithOnNewFirmware(fn func(Firmware)) RunnerOption {
	return func(r *Runner) { r.onNewFirmware = fn }
}

// WithRunnerMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithRunnerMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner.
func NewRunner(checker Checker, display Display, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.ActivationAttempts <= 0 {
		cfg.ActivationAttempts = 10
	}
	if cfg.PendingDelay <= 0 {
		cfg.PendingDelay = 3 * time.Second
	}
	if cfg.FailDelay <= 0 {
		cfg.FailDelay = 10 * time.Second
	}
	r := &Runner{
		checker: checker,
		display: display,
		cfg:     cfg,
		sleep:   resilience.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run checks for new firmware and activates the device. It returns nil once
// the device is activated, when no activation is required or when newer
// firmware was reported. It returns ctx.Err() when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	backoff := resilience.Backoff{Initial: r.cfg.RetryDelay}
	failures := 0
	for {
		res, err := r.check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= r.cfg.MaxRetries {
				slog.Error("ota: giving up version check", "attempts", failures, "err", err)
				return fmt.Errorf("ota: version check failed after %d attempts: %w", failures, err)
			}
			delay := backoff.Delay(failures - 1)
			slog.Warn("ota: version check failed", "attempt", failures, "retry_in", delay, "err", err)
			r.display.Alert("error",
				fmt.Sprintf("check new version failed, retry in %d seconds", int(delay.Seconds())),
				"sad", device.SoundExclamation)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		failures = 0

		if t, ok := res.Clock(); ok {
			r.display.SetServerTime(t)
		}
		if r.onResult != nil {
			r.onResult(res)
		}

		if res.HasNewVersion {
			slog.Info("ota: new firmware available", "version", res.Firmware.Version, "url", res.Firmware.URL)
			r.display.Alert("upgrading", "new version "+res.Firmware.Version, "happy", device.SoundSuccess)
			if r.onNewFirmware != nil {
				r.onNewFirmware(*res.Firmware)
			}
			return nil
		}

		if !res.NeedsActivation() {
			return nil
		}

		r.showActivation(res.Activation)
		done, err := r.activate(ctx, res.Activation.Challenge)
		if err != nil {
			return err
		}
		if done {
			slog.Info("ota: device activated")
			return nil
		}
	}
}

func (r *Runner) check(ctx context.Context) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "ota.check")
	defer span.End()

	res, err := r.checker.Check(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordOTACheck(ctx, "error")
		return nil, err
	}
	status := "current"
	switch {
	case res.HasNewVersion:
		status = "new_version"
	case res.NeedsActivation():
		status = "activation"
	}
	span.SetAttributes(attribute.String("ota.status", status))
	r.metrics.RecordOTACheck(ctx, status)
	return res, nil
}

func (r *Runner) showActivation(a *Activation) {
	msg := a.Message
	if msg == "" {
		msg = "activation code " + a.Code
	}
	slog.Info("ota: activation required", "code", a.Code)
	r.display.Alert("activation", msg, "happy", device.SoundActivation)
}

// activate polls the backend up to ActivationAttempts times. It reports
// whether the device was activated; a false result with nil error sends the
// caller back to the version check.
func (r *Runner) activate(ctx context.Context, challenge string) (bool, error) {
	for attempt := range r.cfg.ActivationAttempts {
		err := r.checker.Activate(ctx, challenge)
		if err == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		delay := r.cfg.FailDelay
		if errors.Is(err, ErrActivationPending) {
			delay = r.cfg.PendingDelay
		} else {
			slog.Warn("ota: activation failed", "attempt", attempt+1, "err", err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return false, err
		}
	}
	return false, nil
}
