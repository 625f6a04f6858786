package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/ocppcore/core/metrics"
)

// PromSink records protocol traffic in Prometheus metrics.
type PromSink struct {
	messages *prometheus.CounterVec
	hops     *prometheus.HistogramVec
	latency  *prometheus.HistogramVec
	faults   *prometheus.CounterVec
	links    prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Creating a
// second sink on the same registerer reuses the registered collectors.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_messages_total",
		Help: "Messages crossing a link",
	}, []string{"direction", "transport", "type", "action"})
	hops := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocpp_message_hops",
		Help:    "Length of the network path carried by messages",
		Buckets: prometheus.LinearBuckets(0, 1, 9),
	}, []string{"direction"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocpp_request_latency_seconds",
		Help:    "Time between sending a Call and its resolution",
		Buckets: prometheus.DefBuckets,
	}, []string{"action", "outcome"})
	faults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpp_faults_total",
		Help: "Failures handled without closing the link",
	}, []string{"kind", "action"})
	links := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ocpp_links",
		Help: "Number of attached peers",
	})

	var err error
	if messages, err = register(reg, messages); err != nil {
		return nil, err
	}
	if hops, err = register(reg, hops); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if faults, err = register(reg, faults); err != nil {
		return nil, err
	}
	if links, err = register(reg, links); err != nil {
		return nil, err
	}
	return &PromSink{messages: messages, hops: hops, latency: latency, faults: faults, links: links}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordMessage counts the message and its hop count.
func (s *PromSink) RecordMessage(ev coremetrics.MessageEvent) error {
	s.messages.WithLabelValues(ev.Direction, ev.Transport, ev.Type, ev.Action).Inc()
	s.hops.WithLabelValues(ev.Direction).Observe(float64(ev.Hops))
	return nil
}

// RecordRequestLatency observes the latency histogram.
func (s *PromSink) RecordRequestLatency(ev coremetrics.RequestLatency) error {
	s.latency.WithLabelValues(ev.Action, ev.Outcome).Observe(ev.Latency.Seconds())
	return nil
}

// RecordFault increments the fault counter.
func (s *PromSink) RecordFault(ev coremetrics.FaultEvent) error {
	s.faults.WithLabelValues(ev.Kind, ev.Action).Inc()
	return nil
}

// RecordLinkCount sets the link gauge.
func (s *PromSink) RecordLinkCount(n int) error {
	s.links.Set(float64(n))
	return nil
}
