package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/observe"
)

type recordSink struct {
	messages int
	faults   []FaultEvent
	err      error
}

func (r *recordSink) RecordMessage(MessageEvent) error {
	r.messages++
	return r.err
}

func (r *recordSink) RecordFault(ev FaultEvent) error {
	r.faults = append(r.faults, ev)
	return nil
}

// messageOnly implements no optional recorder.
type messageOnly struct{ count int }

func (m *messageOnly) RecordMessage(MessageEvent) error {
	m.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{err: errors.New("down")}
	s2 := &recordSink{}
	s3 := &messageOnly{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordMessage(MessageEvent{}); err == nil {
		t.Fatalf("expected the first sink's error")
	}
	if s2.messages != 1 || s3.count != 1 {
		t.Fatalf("a failing sink must not starve the others")
	}
	if err := m.RecordFault(FaultEvent{Kind: "handler_fault"}); err != nil {
		t.Fatalf("record fault: %v", err)
	}
	if len(s1.faults) != 1 || len(s2.faults) != 1 {
		t.Fatalf("faults not forwarded")
	}
	if err := m.RecordRequestLatency(RequestLatency{}); err != nil {
		t.Fatalf("latency: %v", err)
	}
}

func TestObserverTranslatesEvents(t *testing.T) {
	s := &recordSink{}
	o := NewObserver(s, nil)
	o.Observe(observe.Event{Kind: observe.KindMessage, Message: model.NewCall("1", "Heartbeat", nil), Time: time.Now()})
	o.Observe(observe.Event{Kind: observe.KindHandlerFault, Handler: "audit", Err: errors.New("boom"), Message: model.NewCall("2", "Authorize", nil)})
	if s.messages != 1 {
		t.Fatalf("messages = %d", s.messages)
	}
	if len(s.faults) != 1 || s.faults[0].Handler != "audit" || s.faults[0].Error != "boom" || s.faults[0].Kind != "handler_fault" {
		t.Fatalf("faults = %+v", s.faults)
	}
}

type closingSink struct {
	messageOnly
	closed bool
	err    error
}

func (c *closingSink) Close() error {
	c.closed = true
	return c.err
}

func TestMultiSinkClose(t *testing.T) {
	a := &closingSink{err: errors.New("flush failed")}
	b := &closingSink{}
	m := NewMultiSink(a, &messageOnly{}, b)
	if err := m.Close(); err == nil {
		t.Fatalf("expected close error")
	}
	if !a.closed || !b.closed {
		t.Fatalf("every closer must be closed")
	}
}
