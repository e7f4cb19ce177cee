// Package rtk connects a meeting agent to a RealtimeKit-style meeting.
//
// Signaling is JSON over a websocket authenticated with the participant's
// bearer token; media is a single Opus audio track in each direction over
// WebRTC. Inbound audio is decoded to 48 kHz mono PCM and produced into the
// chain; audio frames reaching the sink are encoded and sent back.
package rtk

import (
	"log/slog"
	"time"

	"github.com/pion/webrtc/v3"
)

// Audio format on the wire.
const (
	SampleRate    = 48000
	Channels      = 1
	FrameDuration = 20 * time.Millisecond
	FrameSamples  = SampleRate / 50 // 20ms
)

// Config holds transport configuration.
type Config struct {
	SignalingURL     string
	DisplayName      string
	ICEServers       []webrtc.ICEServer
	HandshakeTimeout time.Duration

	// Media disables the WebRTC peer when false; only signaling and
	// participant events are used.
	Media bool

	// InboundBuffer is how many decoded packets may wait for the chain
	// before new ones are dropped.
	InboundBuffer int

	Logger *slog.Logger
}

// Option is a functional option for configuring the transport.
type Option func(*Config)

// WithSignalingURL sets the signaling websocket URL.
func WithSignalingURL(url string) Option {
	return func(c *Config) { c.SignalingURL = url }
}

// WithDisplayName sets the name other participants see.
func WithDisplayName(name string) Option {
	return func(c *Config) { c.DisplayName = name }
}

// WithICEServers sets STUN/TURN servers.
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = []webrtc.ICEServer{{URLs: urls}}
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithoutMedia joins for signaling only.
func WithoutMedia() Option {
	return func(c *Config) { c.Media = false }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns default settings.
func DefaultConfig() *Config {
	return &Config{
		SignalingURL:     "wss://rtk.realtime.cloudflare.com/signaling",
		DisplayName:      "Meeting Agent",
		ICEServers:       []webrtc.ICEServer{{URLs: []string{"stun:stun.cloudflare.com:3478"}}},
		HandshakeTimeout: 10 * time.Second,
		Media:            true,
		InboundBuffer:    256,
		Logger:           slog.Default(),
	}
}
