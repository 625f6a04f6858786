package metrics

import "time"

// MessageEvent describes one message crossing a link.
type MessageEvent struct {
	Local     string
	Peer      string
	Direction string
	Transport string
	Type      string
	Action    string
	ID        string
	Hops      int
	Time      time.Time
}

// MetricsSink records protocol traffic for observability purposes.
type MetricsSink interface {
	RecordMessage(ev MessageEvent) error
}

// RequestLatency captures how an outbound Call ended and how long it took.
// Outcome is one of completed, call_error, timed_out or cancelled.
type RequestLatency struct {
	Peer    string
	Action  string
	Outcome string
	Latency time.Duration
	Time    time.Time
}

// LatencyRecorder is implemented by sinks able to record request latency.
type LatencyRecorder interface {
	RecordRequestLatency(ev RequestLatency) error
}

// DispatchEvent summarises the dispatch of one inbound Call.
type DispatchEvent struct {
	Action      string
	Handlers    int
	Synthesized bool
	Duration    time.Duration
	Time        time.Time
}

// DispatchRecorder records dispatch outcomes.
type DispatchRecorder interface {
	RecordDispatch(ev DispatchEvent) error
}

// FaultEvent is a failure handled without tearing anything down: a handler
// fault, an undecodable frame, a routing rejection or an unmatched reply.
type FaultEvent struct {
	Kind    string
	Peer    string
	Action  string
	Handler string
	Error   string
	Time    time.Time
}

// FaultRecorder records fault events.
type FaultRecorder interface {
	RecordFault(ev FaultEvent) error
}

// LinkCountRecorder records the number of attached peers.
type LinkCountRecorder interface {
	RecordLinkCount(n int) error
}

// NopSink implements MetricsSink and every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordMessage(MessageEvent) error          { return nil }
func (NopSink) RecordRequestLatency(RequestLatency) error { return nil }
func (NopSink) RecordDispatch(DispatchEvent) error        { return nil }
func (NopSink) RecordFault(FaultEvent) error              { return nil }
func (NopSink) RecordLinkCount(int) error                 { return nil }
