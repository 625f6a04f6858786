package websocket

import (
	"fmt"
	"strings"

	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/infra/auth"
)

// Subprotocols offered and accepted during the handshake.
var Subprotocols = []string{"ocpp2.0.1", "ocpp1.6"}

// Config describes the websocket listener and the optional upstream link.
type Config struct {
	Enabled bool `json:"enabled"`
	// Listen is the address of the OCPP-J endpoint, e.g. ":8887".
	Listen string `json:"listen"`
	// Path prefix; peers connect to <Path><identity>.
	Path string `json:"path"`
	// Kind is the transport kind frames to accepted peers are encoded with.
	Kind            string `json:"kind"`
	MaxFrameBytes   int64  `json:"max_frame_bytes"`
	PingIntervalSec int    `json:"ping_interval_sec"`
	WriteTimeoutMS  int    `json:"write_timeout_ms"`
	// AuthToken, when set, is required as a bearer token on the handshake.
	AuthToken string `json:"auth_token"`

	Upstream UpstreamConfig `json:"upstream"`
}

// UpstreamConfig configures the link this node dials to its parent.
type UpstreamConfig struct {
	// URL of the parent endpoint without the identity suffix.
	URL string `json:"url"`
	// Identity of the parent node.
	Identity    string    `json:"identity"`
	Kind        string    `json:"kind"`
	ReconnectMS int       `json:"reconnect_ms"`
	Auth        auth.Conf `json:"auth"`
}

// Enabled reports whether an upstream is configured.
func (u UpstreamConfig) Enabled() bool { return u.URL != "" }

func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8887"
	}
	if c.Path == "" {
		c.Path = "/ocpp/"
	}
	if !strings.HasSuffix(c.Path, "/") {
		c.Path += "/"
	}
	if c.Kind == "" {
		c.Kind = "json"
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = 1 << 20
	}
	if c.WriteTimeoutMS == 0 {
		c.WriteTimeoutMS = 5000
	}
	if c.Upstream.Kind == "" {
		c.Upstream.Kind = "json"
	}
	if c.Upstream.ReconnectMS == 0 {
		c.Upstream.ReconnectMS = 2000
	}
}

func (c Config) Validate() error {
	if _, err := model.ParseTransportKind(c.Kind); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("websocket: max_frame_bytes must be positive")
	}
	if c.Upstream.Enabled() {
		if c.Upstream.Identity == "" {
			return fmt.Errorf("websocket: upstream identity is required")
		}
		if _, err := model.ParseTransportKind(c.Upstream.Kind); err != nil {
			return fmt.Errorf("websocket: upstream: %w", err)
		}
		if err := c.Upstream.Auth.Validate(); err != nil {
			return err
		}
	}
	return nil
}
