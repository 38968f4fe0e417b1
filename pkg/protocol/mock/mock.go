// Package mock provides an in-memory implementation of [protocol.Client] for
// unit tests.
//
// The mock records every sent packet and control message, exposes exported
// fields that control return values, and offers Emit* helpers that invoke the
// registered callbacks as if the backend had sent something.
//
// Typical usage:
//
//	client := &mock.Client{ServerSampleRateResult: 24000}
//	orch, _ := device.New(client, dev, enc, dec, ind)
//	client.EmitEvent(protocol.TTSEvent{State: protocol.TTSStart})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphoxa-edge/pkg/protocol"
)

var _ protocol.Client = (*Client)(nil)

// Client is a mock implementation of [protocol.Client].
type Client struct {
	mu sync.Mutex

	// OpenError is returned by OpenAudioChannel. When nil the channel opens
	// and the opened callback fires.
	OpenError error

	// SendAudioError is returned by SendAudio.
	SendAudioError error

	// SendControlError is returned by SendControl.
	SendControlError error

	// Busy is returned by IsAudioChannelBusy.
	Busy bool

	// ServerSampleRateResult is returned by ServerSampleRate. Default 16000.
	ServerSampleRateResult int

	// ServerFrameDurationResult is returned by ServerFrameDuration. Default 60.
	ServerFrameDurationResult int

	// OpenHook, when set, runs inside OpenAudioChannel before it returns.
	OpenHook func()

	// SentAudio holds every packet passed to a successful SendAudio call.
	SentAudio []*protocol.AudioStreamPacket

	// SentControl holds every message passed to a successful SendControl call.
	SentControl []protocol.ControlMessage

	CallCountStart             int
	CallCountOpenAudioChannel  int
	CallCountCloseAudioChannel int
	CallCountSendAudio         int

	opened bool

	onAudio  func(*protocol.AudioStreamPacket)
	onEvent  func(protocol.Event)
	onOpened func()
	onClosed func()
	onError  func(string)
}

// Start implements [protocol.Client].
func (c *Client) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	return nil
}

// OpenAudioChannel implements [protocol.Client]. On success it marks the
// channel open and fires the opened callback synchronously.
func (c *Client) OpenAudioChannel(_ context.Context) error {
	c.mu.Lock()
	c.CallCountOpenAudioChannel++
	err := c.OpenError
	hook := c.OpenHook
	if err == nil {
		c.opened = true
	}
	onOpened := c.onOpened
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	if onOpened != nil {
		onOpened()
	}
	return nil
}

// CloseAudioChannel implements [protocol.Client]. The closed callback fires
// only when the channel was open.
func (c *Client) CloseAudioChannel() {
	c.mu.Lock()
	c.CallCountCloseAudioChannel++
	wasOpen := c.opened
	c.opened = false
	onClosed := c.onClosed
	c.mu.Unlock()

	if wasOpen && onClosed != nil {
		onClosed()
	}
}

// IsAudioChannelOpened implements [protocol.Client].
func (c *Client) IsAudioChannelOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// IsAudioChannelBusy implements [protocol.Client]. Returns Busy.
func (c *Client) IsAudioChannelBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Busy
}

// SendAudio implements [protocol.Client].
func (c *Client) SendAudio(_ context.Context, pkt *protocol.AudioStreamPacket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountSendAudio++
	if c.SendAudioError != nil {
		return c.SendAudioError
	}
	c.SentAudio = append(c.SentAudio, pkt)
	return nil
}

// SendControl implements [protocol.Client].
func (c *Client) SendControl(_ context.Context, msg protocol.ControlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendControlError != nil {
		return c.SendControlError
	}
	c.SentControl = append(c.SentControl, msg)
	return nil
}

// ServerSampleRate implements [protocol.Client].
func (c *Client) ServerSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ServerSampleRateResult == 0 {
		return 16000
	}
	return c.ServerSampleRateResult
}

// ServerFrameDuration implements [protocol.Client].
func (c *Client) ServerFrameDuration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ServerFrameDurationResult == 0 {
		return 60
	}
	return c.ServerFrameDurationResult
}

// OnIncomingAudio implements [protocol.Client].
func (c *Client) OnIncomingAudio(fn func(*protocol.AudioStreamPacket)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudio = fn
}

// OnIncomingEvent implements [protocol.Client].
func (c *Client) OnIncomingEvent(fn func(protocol.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// OnAudioChannelOpened implements [protocol.Client].
func (c *Client) OnAudioChannelOpened(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpened = fn
}

// OnAudioChannelClosed implements [protocol.Client].
func (c *Client) OnAudioChannelClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// OnNetworkError implements [protocol.Client].
func (c *Client) OnNetworkError(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// EmitAudio delivers pkt to the registered inbound audio callback.
func (c *Client) EmitAudio(pkt *protocol.AudioStreamPacket) {
	c.mu.Lock()
	fn := c.onAudio
	c.mu.Unlock()
	if fn != nil {
		fn(pkt)
	}
}

// EmitEvent delivers ev to the registered event callback.
func (c *Client) EmitEvent(ev protocol.Event) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// EmitNetworkError delivers message to the registered network error callback.
func (c *Client) EmitNetworkError(message string) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

// Controls returns a copy of the sent control messages.
func (c *Client) Controls() []protocol.ControlMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ControlMessage, len(c.SentControl))
	copy(out, c.SentControl)
	return out
}

// Audio returns a copy of the sent audio packets.
func (c *Client) Audio() []*protocol.AudioStreamPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.AudioStreamPacket, len(c.SentAudio))
	copy(out, c.SentAudio)
	return out
}
