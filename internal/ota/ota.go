// Package ota talks to the backend's provisioning endpoint.
//
// At boot the device posts a short self-description to the OTA URL. The reply
// may announce newer firmware, carry an activation code the user has to enter
// in the backend's console, override the WebSocket endpoint and report the
// server's wall clock. [Client] performs the individual requests; [Runner]
// drives the boot-time retry loop and implements the device's activation
// phase.
package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrActivationPending is returned by [Client.Activate] while the backend is
// still waiting for the user to enter the activation code.
var ErrActivationPending = errors.New("ota: activation pending")

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 64 << 10
	applicationName    = "glyphoxa-edge"
)

// Config identifies the device to the provisioning endpoint.
type Config struct {
	// URL is the version-check endpoint. Activation posts to URL + "/activate".
	URL string

	// FirmwareVersion is the running version, compared with the advertised one.
	FirmwareVersion string

	DeviceID string
	ClientID string
	Board    string
}

// Firmware describes the firmware the backend offers.
type Firmware struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// Activation carries the code the user has to enter.
type Activation struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Challenge string `json:"challenge"`
	TimeoutMs int    `json:"timeout_ms"`
}

// WebSocket overrides the conversation endpoint.
type WebSocket struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// ServerTime is the backend's clock at response time.
type ServerTime struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// TimezoneOffset is the local offset in minutes.
	TimezoneOffset int `json:"timezone_offset"`
}

// Result is the parsed version-check response. Every section is optional.
type Result struct {
	Firmware   *Firmware   `json:"firmware"`
	Activation *Activation `json:"activation"`
	WebSocket  *WebSocket  `json:"websocket"`
	ServerTime *ServerTime `json:"server_time"`

	// HasNewVersion is set when Firmware.Version is newer than the running
	// version.
	HasNewVersion bool `json:"-"`
}

// NeedsActivation reports whether the device must be activated before use.
func (r *Result) NeedsActivation() bool {
	return r.Activation != nil && (r.Activation.Code != "" || r.Activation.Challenge != "")
}

// Clock returns the server time shifted by its timezone offset.
func (r *Result) Clock() (time.Time, bool) {
	if r.ServerTime == nil || r.ServerTime.Timestamp == 0 {
		return time.Time{}, false
	}
	t := time.UnixMilli(r.ServerTime.Timestamp)
	return t.Add(time.Duration(r.ServerTime.TimezoneOffset) * time.Minute), true
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// Client performs provisioning requests.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ota: url is required")
	}
	c := &Client{cfg: cfg, hc: &http.Client{Timeout: defaultHTTPTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the version-check endpoint.
func (c *Client) URL() string { return c.cfg.URL }

type checkRequest struct {
	Version     int               `json:"version"`
	UUID        string            `json:"uuid,omitempty"`
	MACAddress  string            `json:"mac_address,omitempty"`
	Application checkApplication  `json:"application"`
	Board       map[string]string `json:"board,omitempty"`
}

type checkApplication struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Check posts the device description and parses the reply.
func (c *Client) Check(ctx context.Context) (*Result, error) {
	body := checkRequest{
		Version:     2,
		UUID:        c.cfg.ClientID,
		MACAddress:  c.cfg.DeviceID,
		Application: checkApplication{Name: applicationName, Version: c.cfg.FirmwareVersion},
	}
	if c.cfg.Board != "" {
		body.Board = map[string]string{"type": c.cfg.Board}
	}

	resp, err := c.post(ctx, c.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("ota: check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ota: check: unexpected status %d", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&res); err != nil {
		return nil, fmt.Errorf("ota: check: decode response: %w", err)
	}
	if res.Firmware != nil && res.Firmware.Version != "" {
		res.HasNewVersion = CompareVersions(res.Firmware.Version, c.cfg.FirmwareVersion) > 0
	}
	return &res, nil
}

type activateRequest struct {
	SerialNumber string `json:"serial_number,omitempty"`
	Challenge    string `json:"challenge,omitempty"`
}

// Activate asks the backend whether activation has completed. It returns nil
// once the device is activated and [ErrActivationPending] while the backend
// is still waiting for the user.
func (c *Client) Activate(ctx context.Context, challenge string) error {
	url := strings.TrimSuffix(c.cfg.URL, "/") + "/activate"
	resp, err := c.post(ctx, url, activateRequest{SerialNumber: c.cfg.DeviceID, Challenge: challenge})
	if err != nil {
		return fmt.Errorf("ota: activate: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusAccepted:
		return ErrActivationPending
	}
	return fmt.Errorf("ota: activate: unexpected status %d", resp.StatusCode)
}

func (c *Client) post(ctx context.Context, url string, v any) (*http.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", applicationName+"/"+c.cfg.FirmwareVersion)
	if c.cfg.DeviceID != "" {
		req.Header.Set("Device-Id", c.cfg.DeviceID)
	}
	if c.cfg.ClientID != "" {
		req.Header.Set("Client-Id", c.cfg.ClientID)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return resp, nil
}
