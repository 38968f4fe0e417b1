// Package config provides the configuration schema, loader, validation and
// hot-reload watcher for the glyphoxa-edge device runtime.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioBackend selects the audio hardware implementation.
type AudioBackend string

const (
	// BackendPortAudio uses the host's default input and output devices.
	BackendPortAudio AudioBackend = "portaudio"

	// BackendNone discards output and captures silence, for hosts without a
	// sound card.
	BackendNone AudioBackend = "none"
)

// IsValid reports whether b is a recognised audio backend.
func (b AudioBackend) IsValid() bool {
	return b == BackendPortAudio || b == BackendNone
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Device       DeviceConfig       `yaml:"device"`
	Protocol     ProtocolConfig     `yaml:"protocol"`
	OTA          OTAConfig          `yaml:"ota"`
	Audio        AudioConfig        `yaml:"audio"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Sounds       SoundsConfig       `yaml:"sounds"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status server serving /healthz,
	// /readyz, /status and /metrics (e.g., ":9090"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// DeviceConfig identifies this device to the backend.
type DeviceConfig struct {
	// DeviceID is the hardware identifier, conventionally a MAC address.
	DeviceID string `yaml:"device_id"`

	// ClientID is a per-installation UUID. Generated when empty.
	ClientID string `yaml:"client_id"`

	// Board names the hardware in version checks.
	Board string `yaml:"board"`
}

// ProtocolConfig configures the conversation channel.
type ProtocolConfig struct {
	// URL is the ws:// or wss:// endpoint. A version check reply may
	// override it.
	URL string `yaml:"url"`

	// Token is sent in the Authorization header.
	Token string `yaml:"token"`

	// Version is the binary audio framing version, 1 to 3. Default 1.
	Version int `yaml:"version"`

	// HelloTimeout bounds the wait for the server hello. Default 10s.
	HelloTimeout time.Duration `yaml:"hello_timeout"`
}

// OTAConfig configures the boot-time version check and activation.
type OTAConfig struct {
	// URL is the version check endpoint. Empty skips the check.
	URL string `yaml:"url"`

	// FirmwareVersion is the version reported to the backend.
	FirmwareVersion string `yaml:"firmware_version"`

	// MaxRetries bounds consecutive failed checks. Default 10.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the first retry delay; it doubles on each failure.
	// Default 10s.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AudioConfig describes the audio hardware and codec framing.
type AudioConfig struct {
	// Backend selects the hardware implementation. Default portaudio.
	Backend AudioBackend `yaml:"backend"`

	// InputSampleRate is the capture rate in Hz. Default 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// InputChannels is 1, or 2 when the second channel carries the echo
	// reference. Default 1.
	InputChannels int `yaml:"input_channels"`

	// OutputSampleRate is the playback rate in Hz. Default 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameDurationMs is the outbound Opus frame length. Default 60.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// Resampler is "linear" or "sinc". Default linear.
	Resampler string `yaml:"resampler"`

	// AEC is "off", "device" or "server". Default off.
	AEC string `yaml:"aec"`
}

// OrchestratorConfig tunes the conversation engine.
type OrchestratorConfig struct {
	// SilenceTimeout powers the output down after this long without
	// playback while idle. Default 10s.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// TimestampQueueBound limits playback timestamps awaiting an outbound
	// frame in server-side AEC mode. Default 3.
	TimestampQueueBound int `yaml:"timestamp_queue_bound"`

	// OutboundQueueCapacity limits encoded frames awaiting send. Default 40.
	OutboundQueueCapacity int `yaml:"outbound_queue_capacity"`

	// RealtimeChat keeps the microphone open while the reply plays.
	RealtimeChat bool `yaml:"realtime_chat"`
}

// SoundsConfig maps prompt sounds to P3 asset files. Unset sounds are
// silent.
type SoundsConfig struct {
	Activation  string `yaml:"activation"`
	Exclamation string `yaml:"exclamation"`
	Popup       string `yaml:"popup"`
	Success     string `yaml:"success"`
	Vibration   string `yaml:"vibration"`
}
