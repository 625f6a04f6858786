package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/ocppcore/core/factory"
)

// NodeConfig identifies the local node and bounds its request tracking.
type NodeConfig struct {
	Identity           string `json:"identity"`
	MaxHops            int    `json:"max_hops"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds"`
	SweepIntervalMS    int    `json:"sweep_interval_ms"`
	// Capacity bounds outstanding requests per link. Zero means the table
	// default.
	Capacity int `json:"capacity"`
}

func (c *NodeConfig) SetDefaults() {
	if c.MaxHops == 0 {
		c.MaxHops = 8
	}
	if c.CallTimeoutSeconds == 0 {
		c.CallTimeoutSeconds = 30
	}
	if c.SweepIntervalMS == 0 {
		c.SweepIntervalMS = 1000
	}
}

func (c NodeConfig) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("node.identity is required")
	}
	if c.MaxHops < 0 || c.CallTimeoutSeconds < 0 || c.SweepIntervalMS < 0 || c.Capacity < 0 {
		return fmt.Errorf("node limits must not be negative")
	}
	return nil
}

func (c NodeConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

func (c NodeConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// RoutingConfig is the static forwarding table: destination -> next hop.
// Default, when set, is the next hop of every other destination.
type RoutingConfig struct {
	Routes  map[string]string `json:"routes"`
	Default string            `json:"default"`
}

func (c RoutingConfig) Validate() error {
	for dest, hop := range c.Routes {
		if dest == "" || hop == "" {
			return fmt.Errorf("routing: empty route %q -> %q", dest, hop)
		}
	}
	return nil
}

// HandlerConfig selects a handler plugin for one action.
type HandlerConfig struct {
	Name string         `json:"name"`
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
}

// Module returns the factory form of the handler.
func (h HandlerConfig) Module() factory.ModuleConfig {
	return factory.ModuleConfig{Type: h.Type, Conf: h.Conf}
}

// DispatchConfig lists the handlers of each action in registration order.
// The first handler answers.
type DispatchConfig struct {
	HandlerTimeoutSeconds int                        `json:"handler_timeout_seconds"`
	Handlers              map[string][]HandlerConfig `json:"handlers"`
}

func (c *DispatchConfig) SetDefaults() {
	if c.HandlerTimeoutSeconds == 0 {
		c.HandlerTimeoutSeconds = 30
	}
}

func (c DispatchConfig) Validate() error {
	for action, hs := range c.Handlers {
		for i, h := range hs {
			if h.Type == "" {
				return fmt.Errorf("dispatch.handlers.%s[%d]: type is required", action, i)
			}
		}
	}
	return nil
}

func (c DispatchConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

// ProtocolConfig tunes the envelope codec.
type ProtocolConfig struct {
	MaxFrameBytes int `json:"max_frame_bytes"`
	// Actions replaces the built-in OCPP action list when non-empty.
	Actions []string `json:"actions"`
	// AnyAction accepts every well-formed action name.
	AnyAction        bool   `json:"any_action"`
	PayloadNamespace string `json:"payload_namespace"`
}

func (c ProtocolConfig) Validate() error {
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("protocol.max_frame_bytes must not be negative")
	}
	if c.AnyAction && len(c.Actions) > 0 {
		return fmt.Errorf("protocol: actions and any_action are exclusive")
	}
	return nil
}

// APIConfig configures the HTTP API. Empty Addr disables it.
type APIConfig struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
}
