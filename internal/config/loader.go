package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/glyphoxa-edge/internal/device"
	"github.com/MrWong99/glyphoxa-edge/pkg/audio"
	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultProtocolVersion       = protocol.BinaryVersion1
	DefaultHelloTimeout          = 10 * time.Second
	DefaultOTAMaxRetries         = 10
	DefaultOTARetryDelay         = 10 * time.Second
	DefaultInputSampleRate       = 16000
	DefaultInputChannels         = 1
	DefaultOutputSampleRate      = 24000
	DefaultFrameDurationMs       = 60
	DefaultSilenceTimeout        = 10 * time.Second
	DefaultTimestampQueueBound   = 3
	DefaultOutboundQueueCapacity = 40
)

// validFrameDurations lists the Opus frame lengths the encoder accepts.
var validFrameDurations = map[int]bool{10: true, 20: true, 40: true, 60: true}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureClientID sets a random UUID as device.client_id when none is
// configured and reports whether it did.
func EnsureClientID(cfg *Config) bool {
	if cfg.Device.ClientID != "" {
		return false
	}
	cfg.Device.ClientID = uuid.NewString()
	return true
}

// ApplyDefaults fills zero fields with their defaults. device.client_id is
// left alone; see [EnsureClientID].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Protocol.Version == 0 {
		cfg.Protocol.Version = DefaultProtocolVersion
	}
	if cfg.Protocol.HelloTimeout == 0 {
		cfg.Protocol.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.OTA.MaxRetries == 0 {
		cfg.OTA.MaxRetries = DefaultOTAMaxRetries
	}
	if cfg.OTA.RetryDelay == 0 {
		cfg.OTA.RetryDelay = DefaultOTARetryDelay
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = BackendPortAudio
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Audio.InputChannels == 0 {
		cfg.Audio.InputChannels = DefaultInputChannels
	}
	if cfg.Audio.OutputSampleRate == 0 {
		cfg.Audio.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Audio.FrameDurationMs == 0 {
		cfg.Audio.FrameDurationMs = DefaultFrameDurationMs
	}
	if cfg.Audio.Resampler == "" {
		cfg.Audio.Resampler = string(audio.ResamplerLinear)
	}
	if cfg.Audio.AEC == "" {
		cfg.Audio.AEC = string(device.AECOff)
	}
	if cfg.Orchestrator.SilenceTimeout == 0 {
		cfg.Orchestrator.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Orchestrator.TimestampQueueBound == 0 {
		cfg.Orchestrator.TimestampQueueBound = DefaultTimestampQueueBound
	}
	if cfg.Orchestrator.OutboundQueueCapacity == 0 {
		cfg.Orchestrator.OutboundQueueCapacity = DefaultOutboundQueueCapacity
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Device
	if cfg.Device.ClientID != "" {
		if _, err := uuid.Parse(cfg.Device.ClientID); err != nil {
			slog.Warn("config: device.client_id is not a UUID", "client_id", cfg.Device.ClientID)
		}
	}
	if cfg.Device.DeviceID == "" {
		slog.Warn("config: device.device_id is empty; the backend may reject the connection")
	}

	// Protocol
	if cfg.Protocol.URL == "" && cfg.OTA.URL == "" {
		errs = append(errs, errors.New("protocol.url is required unless ota.url is set"))
	}
	if cfg.Protocol.URL != "" {
		if err := checkURL(cfg.Protocol.URL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("protocol.url: %w", err))
		}
	}
	if v := cfg.Protocol.Version; v < protocol.BinaryVersion1 || v > protocol.BinaryVersion3 {
		errs = append(errs, fmt.Errorf("protocol.version %d is invalid; valid values: 1, 2, 3", v))
	}
	if cfg.Protocol.HelloTimeout < 0 {
		errs = append(errs, fmt.Errorf("protocol.hello_timeout %s must not be negative", cfg.Protocol.HelloTimeout))
	}

	// OTA
	if cfg.OTA.URL != "" {
		if err := checkURL(cfg.OTA.URL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("ota.url: %w", err))
		}
		if cfg.OTA.FirmwareVersion == "" {
			slog.Warn("config: ota.firmware_version is empty; every advertised firmware will look newer")
		}
	}
	if cfg.OTA.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ota.max_retries %d must not be negative", cfg.OTA.MaxRetries))
	}
	if cfg.OTA.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("ota.retry_delay %s must not be negative", cfg.OTA.RetryDelay))
	}

	// Audio
	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, none", cfg.Audio.Backend))
	}
	if cfg.Audio.InputSampleRate < 0 || cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	if c := cfg.Audio.InputChannels; c != 0 && c != 1 && c != 2 {
		errs = append(errs, fmt.Errorf("audio.input_channels %d is invalid; valid values: 1, 2", c))
	}
	if d := cfg.Audio.FrameDurationMs; d != 0 && !validFrameDurations[d] {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is invalid; valid values: 10, 20, 40, 60", d))
	}
	if r := cfg.Audio.Resampler; r != "" && !audio.ResamplerKind(r).IsValid() {
		errs = append(errs, fmt.Errorf("audio.resampler %q is invalid; valid values: linear, sinc", r))
	}
	if a := cfg.Audio.AEC; a != "" && !device.AECMode(a).IsValid() {
		errs = append(errs, fmt.Errorf("audio.aec %q is invalid; valid values: off, device, server", a))
	}
	if device.AECMode(cfg.Audio.AEC) == device.AECDevice && cfg.Audio.InputChannels != 2 {
		errs = append(errs, errors.New("audio.aec device requires audio.input_channels 2"))
	}

	// Orchestrator
	if cfg.Orchestrator.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.silence_timeout %s must not be negative", cfg.Orchestrator.SilenceTimeout))
	}
	if cfg.Orchestrator.TimestampQueueBound < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.timestamp_queue_bound %d must not be negative", cfg.Orchestrator.TimestampQueueBound))
	}
	if cfg.Orchestrator.OutboundQueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.outbound_queue_capacity %d must not be negative", cfg.Orchestrator.OutboundQueueCapacity))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use one of the schemes %v", raw, schemes)
}
