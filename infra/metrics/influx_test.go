package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ocppcore/core/metrics"
)

type lineCollector struct {
	mu     sync.Mutex
	bodies []string
}

func (c *lineCollector) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, strings.TrimSpace(string(data)))
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func lineOf(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordMessage(t *testing.T) {
	var c lineCollector
	srv := c.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	ev := coremetrics.MessageEvent{
		Local:     "CSMS",
		Peer:      "10.0.0.7:5050",
		Direction: "in",
		Transport: "json",
		Type:      "Call",
		Action:    "BootNotification",
		ID:        "b1",
		Hops:      2,
		Time:      now,
	}
	if err := sink.RecordMessage(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("ocpp_message").
		AddTag("local", "CSMS").
		AddTag("peer", "10.0.0.7:5050").
		AddTag("direction", "in").
		AddTag("transport", "json").
		AddTag("type", "Call").
		AddTag("action", "BootNotification").
		AddField("id", "b1").
		AddField("hops", 2).
		SetTime(now)
	if len(c.bodies) != 1 || c.bodies[0] != lineOf(p) {
		t.Errorf("unexpected bodies: %#v", c.bodies)
	}
}

func TestInfluxSink_RecordRequestLatency(t *testing.T) {
	var c lineCollector
	srv := c.server(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	ev := coremetrics.RequestLatency{Peer: "CP-1", Action: "Reset", Outcome: "timed_out", Latency: 1500 * time.Millisecond, Time: now}
	if err := sink.RecordRequestLatency(ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("ocpp_request").
		AddTag("peer", "CP-1").
		AddTag("action", "Reset").
		AddTag("outcome", "timed_out").
		AddField("latency_ms", 1500.0).
		SetTime(now)
	if len(c.bodies) != 1 || c.bodies[0] != lineOf(p) {
		t.Errorf("unexpected bodies: %#v", c.bodies)
	}
}

func TestInfluxSink_RecordFaultAndDispatch(t *testing.T) {
	var c lineCollector
	srv := c.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	if err := sink.RecordFault(coremetrics.FaultEvent{Kind: "handler_fault", Peer: "CP-1", Action: "Authorize", Handler: "audit", Error: "boom", Time: now}); err != nil {
		t.Fatalf("record fault: %v", err)
	}
	if err := sink.RecordDispatch(coremetrics.DispatchEvent{Action: "Authorize", Handlers: 2, Synthesized: true, Duration: 3 * time.Millisecond, Time: now}); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	fault := write.NewPointWithMeasurement("ocpp_fault").
		AddTag("kind", "handler_fault").
		AddTag("peer", "CP-1").
		AddTag("action", "Authorize").
		AddTag("handler", "audit").
		AddField("error", "boom").
		SetTime(now)
	disp := write.NewPointWithMeasurement("ocpp_dispatch").
		AddTag("action", "Authorize").
		AddTag("synthesized", "true").
		AddField("handlers", 2).
		AddField("duration_ms", 3.0).
		SetTime(now)
	if len(c.bodies) != 2 || c.bodies[0] != lineOf(fault) || c.bodies[1] != lineOf(disp) {
		t.Errorf("unexpected bodies: %#v", c.bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
