package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	coremon "github.com/kilianp07/ocppcore/core/monitoring"
)

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any, map[string]string) {}
func (r *recordMonitor) Recover()                            {}
func (r *recordMonitor) Flush(time.Duration)                 {}

func TestPublishErrorCaptured(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), fmt.Errorf("net fail")}}
	useMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1}, newTestNode(t, "CSMS"))
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer func() { _ = b.Close() }()

	err = b.publish(context.Background(), "CP-1", []byte(`[2,"1","Heartbeat",{}]`), 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(mc.publishedTopics()) != 2 {
		t.Fatalf("expected one retry, got %d publishes", len(mc.publishedTopics()))
	}
	if mon.err == nil {
		t.Fatalf("error not captured")
	}
	if mon.tags["peer"] != "CP-1" || mon.tags["module"] != "mqtt" {
		t.Fatalf("tags not set: %v", mon.tags)
	}
}
