package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/infra/eventlog"
	"github.com/kilianp07/ocppcore/infra/mqtt"
	"github.com/kilianp07/ocppcore/infra/websocket"
)

type Config struct {
	Node      NodeConfig       `json:"node"`
	Routing   RoutingConfig    `json:"routing"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Protocol  ProtocolConfig   `json:"protocol"`
	WebSocket websocket.Config `json:"websocket"`
	MQTT      mqtt.Config      `json:"mqtt"`
	Metrics   metrics.Config   `json:"metrics"`
	EventLog  eventlog.Config  `json:"event_log"`
	API       APIConfig        `json:"api"`
	Logging   LoggingConfig    `json:"logging"`
	Sentry    SentryConfig     `json:"sentry"`
}

// Load reads a YAML or JSON file, applies K_ prefixed environment overrides
// (K_NODE__IDENTITY sets node.identity), fills defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Node.SetDefaults()
	c.Dispatch.SetDefaults()
	c.WebSocket.SetDefaults()
	c.MQTT.SetDefaults()
	c.EventLog.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate reports every invalid section.
func (c Config) Validate() error {
	err := multierr.Combine(
		c.Node.Validate(),
		c.Routing.Validate(),
		c.Dispatch.Validate(),
		c.Protocol.Validate(),
		c.Logging.Validate(),
		c.Metrics.Validate(),
	)
	if c.WebSocket.Enabled || c.WebSocket.Upstream.Enabled() {
		err = multierr.Append(err, c.WebSocket.Validate())
	}
	err = multierr.Append(err, c.MQTT.Validate())
	if c.EventLog.Enabled {
		err = multierr.Append(err, c.EventLog.Validate())
	}
	return err
}
