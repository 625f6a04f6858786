package metrics

import (
	"fmt"
	"net"

	"go.uber.org/multierr"

	"github.com/kilianp07/ocppcore/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" yaml:"sinks"`
	// PrometheusAddr is the listen address of the /metrics endpoint. Empty
	// disables the endpoint.
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr"`
}

// Validate checks the sink list and the endpoint address. Sink types are
// resolved later by NewMetricsSink, once the sink packages are linked in.
func (c Config) Validate() error {
	var err error
	seen := make(map[string]int)
	for i, s := range c.Sinks {
		if s.Type == "" {
			err = multierr.Append(err, fmt.Errorf("metrics.sinks[%d]: type is required", i))
			continue
		}
		if prev, ok := seen[s.Type]; ok && s.Type == "prometheus" {
			err = multierr.Append(err, fmt.Errorf("metrics.sinks[%d]: prometheus already configured at sinks[%d]", i, prev))
		}
		seen[s.Type] = i
	}
	if c.PrometheusAddr != "" {
		if _, _, perr := net.SplitHostPort(c.PrometheusAddr); perr != nil {
			err = multierr.Append(err, fmt.Errorf("metrics.prometheus_addr: %w", perr))
		}
	}
	return err
}
