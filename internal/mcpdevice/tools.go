package mcpdevice

import (
	"context"
	"fmt"
	"slices"

	"github.com/MrWong99/glyphoxa-edge/internal/device"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolGetDeviceStatus = "self.get_device_status"
	toolSetOutput       = "self.audio_speaker.set_output"
	toolPlaySound       = "self.audio_speaker.play_sound"
)

// DeviceStatus is the result of self.get_device_status.
type DeviceStatus struct {
	State        string        `json:"state" jsonschema:"current device state"`
	SleepReady   bool          `json:"sleep_ready" jsonschema:"whether the device is idle with no open audio channel"`
	AudioSpeaker SpeakerStatus `json:"audio_speaker"`
}

// SpeakerStatus describes the output path.
type SpeakerStatus struct {
	OutputEnabled bool `json:"output_enabled" jsonschema:"whether the speaker output is powered"`
}

// SetOutputInput is the argument of self.audio_speaker.set_output.
type SetOutputInput struct {
	Enabled bool `json:"enabled" jsonschema:"true to power the speaker output up, false to power it down"`
}

// PlaySoundInput is the argument of self.audio_speaker.play_sound.
type PlaySoundInput struct {
	Sound string `json:"sound" jsonschema:"one of activation, exclamation, popup, success, vibration"`
}

// PlaySoundOutput is the result of self.audio_speaker.play_sound.
type PlaySoundOutput struct {
	Queued string `json:"queued"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.srv, &mcp.Tool{
		Name: toolGetDeviceStatus,
		Description: "Provides the real-time information of the device, including the current state " +
			"and whether the speaker is powered. Use it before changing device settings.",
	}, s.getDeviceStatus)

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        toolSetOutput,
		Description: "Power the device speaker output up or down.",
	}, s.setOutput)

	if s.player != nil {
		mcp.AddTool(s.srv, &mcp.Tool{
			Name:        toolPlaySound,
			Description: "Play one of the device's prompt sounds once the current playback finishes.",
		}, s.playSound)
	}
}

func (s *Server) getDeviceStatus(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, DeviceStatus, error) {
	s.metrics.RecordToolCall(ctx, toolGetDeviceStatus, "ok")
	return nil, DeviceStatus{
		State:        s.status.State().String(),
		SleepReady:   s.status.CanEnterSleepMode(),
		AudioSpeaker: SpeakerStatus{OutputEnabled: s.speaker.OutputEnabled()},
	}, nil
}

func (s *Server) setOutput(ctx context.Context, _ *mcp.CallToolRequest, in SetOutputInput) (*mcp.CallToolResult, SpeakerStatus, error) {
	s.speaker.EnableOutput(in.Enabled)
	s.metrics.RecordToolCall(ctx, toolSetOutput, "ok")
	return nil, SpeakerStatus{OutputEnabled: s.speaker.OutputEnabled()}, nil
}

func (s *Server) playSound(ctx context.Context, _ *mcp.CallToolRequest, in PlaySoundInput) (*mcp.CallToolResult, PlaySoundOutput, error) {
	sound := device.Sound(in.Sound)
	if !slices.Contains(device.AllSounds(), sound) {
		s.metrics.RecordToolCall(ctx, toolPlaySound, "error")
		return nil, PlaySoundOutput{}, fmt.Errorf("unknown sound %q", in.Sound)
	}
	s.player.PlaySound(sound)
	s.metrics.RecordToolCall(ctx, toolPlaySound, "ok")
	return nil, PlaySoundOutput{Queued: in.Sound}, nil
}
