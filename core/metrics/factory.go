package metrics

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"

	"github.com/kilianp07/ocppcore/core/factory"
)

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// SinkNames lists the registered sink types.
func SinkNames() []string { return sinkRegistry.Names() }

// NewMetricsSink builds the sinks of cfgs. No sink yields NopSink and
// several are combined in a MultiSink. When one sink fails, the sinks
// already built are closed.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	sinks := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			err = fmt.Errorf("metrics sink %d (%q): %w; known sinks: %s", i, c.Type, err, strings.Join(SinkNames(), ", "))
			for _, built := range sinks {
				if cl, ok := built.(io.Closer); ok {
					err = multierr.Append(err, cl.Close())
				}
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}
