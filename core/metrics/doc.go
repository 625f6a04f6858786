// Package metrics defines the sinks that record protocol traffic. A sink
// implements MetricsSink for message events and may implement any of the
// optional recorder interfaces for request latency, dispatch outcomes,
// faults and link counts. Sinks like PromSink and InfluxSink live in
// infra/metrics and can be combined with NewMultiSink. The factory helpers
// return a MultiSink automatically when multiple sinks are configured.
package metrics
