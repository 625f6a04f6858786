package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	handlerInvocations *prometheus.CounterVec
	handlerFaults      *prometheus.CounterVec
	synthesizedReplies *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec) {
	inv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_handler_invocations_total",
			Help: "Number of handler invocations per action",
		},
		[]string{"action"},
	)
	faults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_handler_faults_total",
			Help: "Number of handler errors and panics per action",
		},
		[]string{"action"},
	)
	synth := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_synthesized_replies_total",
			Help: "Number of Calls answered with a synthesized failure",
		},
		[]string{"action"},
	)
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time from dispatch start until every handler finished",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	return inv, faults, synth, dur
}

func init() {
	handlerInvocations, handlerFaults, synthesizedReplies, dispatchDuration = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(handlerInvocations, handlerFaults, synthesizedReplies, dispatchDuration)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	handlerInvocations, handlerFaults, synthesizedReplies, dispatchDuration = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
