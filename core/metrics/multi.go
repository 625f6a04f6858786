package metrics

import (
	"io"

	"go.uber.org/multierr"
)

// MultiSink fans events out to multiple sinks. Every sink is called even when
// an earlier one fails; the errors are combined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordMessage(ev MessageEvent) error {
	var err error
	for _, s := range m.Sinks {
		err = multierr.Append(err, s.RecordMessage(ev))
	}
	return err
}

// RecordRequestLatency forwards latency to sinks that support it.
func (m *MultiSink) RecordRequestLatency(ev RequestLatency) error {
	var err error
	for _, s := range m.Sinks {
		if r, ok := s.(LatencyRecorder); ok {
			err = multierr.Append(err, r.RecordRequestLatency(ev))
		}
	}
	return err
}

// RecordDispatch forwards dispatch outcomes.
func (m *MultiSink) RecordDispatch(ev DispatchEvent) error {
	var err error
	for _, s := range m.Sinks {
		if r, ok := s.(DispatchRecorder); ok {
			err = multierr.Append(err, r.RecordDispatch(ev))
		}
	}
	return err
}

// RecordFault forwards fault events.
func (m *MultiSink) RecordFault(ev FaultEvent) error {
	var err error
	for _, s := range m.Sinks {
		if r, ok := s.(FaultRecorder); ok {
			err = multierr.Append(err, r.RecordFault(ev))
		}
	}
	return err
}

// RecordLinkCount forwards the number of attached peers.
func (m *MultiSink) RecordLinkCount(n int) error {
	var err error
	for _, s := range m.Sinks {
		if r, ok := s.(LinkCountRecorder); ok {
			err = multierr.Append(err, r.RecordLinkCount(n))
		}
	}
	return err
}

// Close closes the sinks that hold resources.
func (m *MultiSink) Close() error {
	var err error
	for _, s := range m.Sinks {
		if c, ok := s.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
