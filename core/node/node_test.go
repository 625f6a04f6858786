package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ocppcore/core/codec"
	"github.com/kilianp07/ocppcore/core/correlation"
	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/observe"
	"github.com/kilianp07/ocppcore/core/routing"
)

// memConn delivers frames straight into the link on the other side.
type memConn struct {
	desc   string
	mu     sync.Mutex
	remote *Link
	frames [][]byte
	closed atomic.Bool
}

func (c *memConn) Send(ctx context.Context, frame []byte, kind model.TransportKind) error {
	if c.closed.Load() {
		return errors.New("conn closed")
	}
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	remote := c.remote
	c.mu.Unlock()
	if remote == nil {
		return nil
	}
	return remote.HandleFrame(ctx, frame, kind)
}

func (c *memConn) Descriptor() string { return c.desc }

func (c *memConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *memConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// connect links a and b with a pair of in-memory conns and returns the conn
// a writes to.
func connect(t *testing.T, a, b *Node, kind model.TransportKind) (*memConn, *memConn) {
	t.Helper()
	ab := &memConn{desc: fmt.Sprintf("mem:%s->%s", a.Local(), b.Local())}
	ba := &memConn{desc: fmt.Sprintf("mem:%s->%s", b.Local(), a.Local())}
	la, err := a.Attach(b.Local(), ab, kind)
	require.NoError(t, err)
	lb, err := b.Attach(a.Local(), ba, kind)
	require.NoError(t, err)
	ab.mu.Lock()
	ab.remote = lb
	ab.mu.Unlock()
	ba.mu.Lock()
	ba.remote = la
	ba.mu.Unlock()
	return ab, ba
}

func sequentialIDs(prefix string) func() model.CorrelationID {
	var n atomic.Int64
	return func() model.CorrelationID {
		return model.CorrelationID(fmt.Sprintf("%s-%d", prefix, n.Add(1)))
	}
}

func engineWith(t *testing.T, action string, h dispatch.HandlerFunc) *dispatch.Engine {
	t.Helper()
	reg := dispatch.NewRegistry()
	require.NoError(t, reg.Register(action, "", h))
	return dispatch.NewEngine(reg)
}

func accept(payload string) dispatch.HandlerFunc {
	return func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallResult(call, []byte(payload))
		return &m, nil
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []observe.Event
}

func (l *eventLog) Observe(e observe.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []observe.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]observe.Kind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

func (l *eventLog) count(kind observe.Kind, dir observe.Direction) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind && e.Direction == dir {
			n++
		}
	}
	return n
}

func TestDirectCallIsPlainFrame(t *testing.T) {
	cp := New("CP-1", nil, WithIDGenerator(sequentialIDs("cp")))
	csms := New("CSMS", engineWith(t, "Heartbeat", accept(`{"currentTime":"2024-01-01T00:00:00Z"}`)))
	t.Cleanup(func() { _ = cp.Close(); _ = csms.Close() })
	toCSMS, toCP := connect(t, cp, csms, model.TransportJSON)

	reply, err := cp.Call(context.Background(), "CSMS", "Heartbeat", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, model.TypeCallResult, reply.Type)
	assert.Equal(t, "Heartbeat", reply.Action)
	assert.JSONEq(t, `{"currentTime":"2024-01-01T00:00:00Z"}`, string(reply.Payload))

	require.Len(t, toCSMS.sent(), 1)
	assert.Equal(t, `[2,"cp-1","Heartbeat",{}]`, string(toCSMS.sent()[0]))
	require.Len(t, toCP.sent(), 1)
	assert.Equal(t, `[3,"cp-1",{"currentTime":"2024-01-01T00:00:00Z"}]`, string(toCP.sent()[0]))
}

func TestRoutedCallThroughRelay(t *testing.T) {
	var seenPath model.NetworkPath
	var seenSource model.NodeIdentity
	boot := func(_ context.Context, call model.Message) (*model.Message, error) {
		seenPath, seenSource = call.Path.Clone(), call.Source
		m := model.NewCallResult(call, []byte(`{"status":"Accepted"}`))
		return &m, nil
	}

	relayLog := &eventLog{}
	a := New("A", nil, WithRoutes(routing.NewStaticTable(map[string]string{"B": "R"}, "")))
	r := New("R", nil, WithObserver(relayLog))
	b := New("B", engineWith(t, "BootNotification", boot))
	t.Cleanup(func() { _ = a.Close(); _ = r.Close(); _ = b.Close() })
	connect(t, a, r, model.TransportJSON)
	connect(t, r, b, model.TransportBinary)

	reply, err := a.Call(context.Background(), "B", "BootNotification", []byte(`{"reason":"PowerUp"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(reply.Payload))
	assert.Equal(t, model.NetworkPath{"A", "R"}, seenPath)
	assert.Equal(t, model.NodeIdentity("A"), seenSource)
	assert.Equal(t, model.NodeIdentity("B"), reply.Source)
	assert.Empty(t, reply.Path)

	assert.Equal(t, 2, relayLog.count(observe.KindMessage, observe.Inbound), "call and reply received by the relay")
	assert.Equal(t, 2, relayLog.count(observe.KindMessage, observe.Outbound), "call and reply forwarded by the relay")
}

func TestRelayAnswersUnreachable(t *testing.T) {
	a := New("A", nil, WithRoutes(routing.NewStaticTable(nil, "R")))
	r := New("R", nil)
	t.Cleanup(func() { _ = a.Close(); _ = r.Close() })
	connect(t, a, r, model.TransportJSON)

	reply, err := a.Call(context.Background(), "Z", "DataTransfer", []byte(`{}`))
	require.ErrorIs(t, err, correlation.ErrCallError)
	assert.Equal(t, model.ErrGenericError, reply.ErrorCode)
	assert.Contains(t, string(reply.ErrorDetails), `"routing":"Unreachable"`)
}

func TestCallWithoutRoute(t *testing.T) {
	a := New("A", nil)
	t.Cleanup(func() { _ = a.Close() })

	_, err := a.Call(context.Background(), "Z", "Heartbeat", []byte(`{}`))
	assert.ErrorIs(t, err, routing.ErrUnreachable)

	a.Routes().Set("Z", "R")
	_, err = a.Call(context.Background(), "Z", "Heartbeat", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoLink)
}

func TestUnknownActionAnsweredNotImplemented(t *testing.T) {
	csms := New("CSMS", nil)
	t.Cleanup(func() { _ = csms.Close() })
	out := &memConn{desc: "cp"}
	l, err := csms.Attach("CP-1", out, model.TransportJSON)
	require.NoError(t, err)

	require.NoError(t, l.HandleFrame(context.Background(), []byte(`[2,"x1","FlyToMoon",{}]`), model.TransportJSON))
	require.Len(t, out.sent(), 1)
	assert.Contains(t, string(out.sent()[0]), `[4,"x1","NotImplemented"`)
}

func TestMissingHandlerAnsweredWithFailure(t *testing.T) {
	csms := New("CSMS", nil)
	t.Cleanup(func() { _ = csms.Close() })
	out := &memConn{desc: "cp"}
	l, err := csms.Attach("CP-1", out, model.TransportJSON)
	require.NoError(t, err)

	require.NoError(t, l.HandleFrame(context.Background(), []byte(`[2,"abc","Heartbeat",{}]`), model.TransportJSON))
	require.Eventually(t, func() bool { return len(out.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `[4,"abc","InternalError","No response for action Heartbeat",{"action":"Heartbeat"}]`, string(out.sent()[0]))
}

func TestUndecodableReplyDropped(t *testing.T) {
	obs := &eventLog{}
	csms := New("CSMS", nil, WithObserver(obs))
	t.Cleanup(func() { _ = csms.Close() })
	out := &memConn{desc: "cp"}
	l, err := csms.Attach("CP-1", out, model.TransportJSON)
	require.NoError(t, err)

	require.NoError(t, l.HandleFrame(context.Background(), []byte(`not json`), model.TransportJSON))
	require.NoError(t, l.HandleFrame(context.Background(), []byte(`[3,"zzz",{}]`), model.TransportJSON))
	assert.Empty(t, out.sent())
	assert.Equal(t, []observe.Kind{observe.KindDecodeFailure, observe.KindMessage, observe.KindUnresolved}, obs.kinds())
}

func TestLoopRejected(t *testing.T) {
	r := New("R", nil)
	t.Cleanup(func() { _ = r.Close() })
	out := &memConn{desc: "a"}
	l, err := r.Attach("A", out, model.TransportJSON)
	require.NoError(t, err)

	frame := `[2,"l1","Heartbeat",{},{"src":"R","dst":"B","path":["R","X","A"]}]`
	require.NoError(t, l.HandleFrame(context.Background(), []byte(frame), model.TransportJSON))
	require.Len(t, out.sent(), 1)
	assert.Contains(t, string(out.sent()[0]), `"ProtocolError"`)
}

func TestDetachCancelsPending(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, call model.Message) (*model.Message, error) {
		<-release
		return nil, nil
	}
	cp := New("CP-1", nil)
	csms := New("CSMS", engineWith(t, "Authorize", slow))
	t.Cleanup(func() { close(release); _ = cp.Close(); _ = csms.Close() })
	connect(t, cp, csms, model.TransportJSON)

	p, err := cp.Send(context.Background(), "CSMS", "Authorize", []byte(`{"idTag":"A1"}`))
	require.NoError(t, err)
	require.NoError(t, cp.Detach("CSMS"))

	_, err = p.Wait(context.Background())
	assert.ErrorIs(t, err, correlation.ErrCancelled)
	assert.ErrorIs(t, err, ErrLinkClosed)
	_, ok := cp.Link("CSMS")
	assert.False(t, ok)
}

func TestReattachReplacesLink(t *testing.T) {
	n := New("CSMS", nil)
	t.Cleanup(func() { _ = n.Close() })
	first := &memConn{desc: "first"}
	second := &memConn{desc: "second"}
	old, err := n.Attach("CP-1", first, model.TransportJSON)
	require.NoError(t, err)
	p, err := old.Table().Send(context.Background(), "Reset", []byte(`{}`), time.Time{})
	require.NoError(t, err)

	_, err = n.Attach("CP-1", second, model.TransportJSON)
	require.NoError(t, err)
	assert.True(t, first.closed.Load())
	_, err = p.Result()
	assert.ErrorIs(t, err, ErrLinkReplaced)

	require.NoError(t, old.Close())
	cur, ok := n.Link("CP-1")
	require.True(t, ok, "closing the replaced link must not detach the new one")
	assert.Equal(t, "second", cur.conn.Descriptor())
}

type latencySink struct {
	metrics.NopSink
	mu        sync.Mutex
	latencies []metrics.RequestLatency
	links     []int
}

func (s *latencySink) RecordRequestLatency(ev metrics.RequestLatency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, ev)
	return nil
}

func (s *latencySink) RecordLinkCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, n)
	return nil
}

func (s *latencySink) outcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.latencies {
		out = append(out, l.Outcome)
	}
	return out
}

func TestCallTimesOutOnSweep(t *testing.T) {
	mock := clock.NewMock()
	sink := &latencySink{}
	cp := New("CP-1", nil, WithClock(mock), WithCallTimeout(30*time.Second), WithMetrics(sink))
	t.Cleanup(func() { _ = cp.Close() })
	out := &memConn{desc: "csms"}
	l, err := cp.Attach("CSMS", out, model.TransportJSON)
	require.NoError(t, err)

	p, err := cp.Send(context.Background(), "CSMS", "Authorize", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, 1, l.Table().Pending())

	// Sweep is started in a goroutine; give it a chance to create its ticker.
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return p.State().Terminal()
	}, time.Second, time.Millisecond)

	_, err = p.Result()
	assert.ErrorIs(t, err, correlation.ErrTimeout)
	assert.Equal(t, []string{"timed_out"}, sink.outcomes())
	assert.Equal(t, []int{1}, sink.links)
}

func TestCloseIsIdempotent(t *testing.T) {
	n := New("CSMS", nil)
	c := &memConn{desc: "cp"}
	_, err := n.Attach("CP-1", c, model.TransportJSON)
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.True(t, c.closed.Load())

	_, err = n.Attach("CP-2", &memConn{}, model.TransportJSON)
	assert.ErrorIs(t, err, ErrNodeClosed)
}

func TestRelayAnswersWhenNextHopIsDetached(t *testing.T) {
	a := New("A", nil, WithRoutes(routing.NewStaticTable(map[string]string{"B": "R"}, "")))
	r := New("R", nil, WithRoutes(routing.NewStaticTable(map[string]string{"B": "X"}, "")))
	t.Cleanup(func() { _ = a.Close(); _ = r.Close() })
	connect(t, a, r, model.TransportJSON)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := a.Call(ctx, "B", "Heartbeat", []byte(`{}`))
	require.ErrorIs(t, err, correlation.ErrCallError)
	assert.Equal(t, model.ErrGenericError, reply.ErrorCode)
	assert.Contains(t, string(reply.ErrorDetails), `"node":"R"`)
	assert.Equal(t, model.NodeIdentity("R"), reply.Source)
	assert.Empty(t, reply.Path)
}

func TestReplyUsesInboundKind(t *testing.T) {
	csms := New("CSMS", engineWith(t, "Heartbeat", accept(`{"currentTime":"now"}`)))
	t.Cleanup(func() { _ = csms.Close() })
	out := &memConn{desc: "cp"}
	l, err := csms.Attach("CP-1", out, model.TransportJSON)
	require.NoError(t, err)

	c := codec.New()
	frame, err := c.Encode(model.NewCall("soap-1", "Heartbeat", nil), model.TransportSOAP)
	require.NoError(t, err)
	require.NoError(t, l.HandleFrame(context.Background(), frame, model.TransportSOAP))
	require.Eventually(t, func() bool { return len(out.sent()) == 1 }, time.Second, 5*time.Millisecond)

	raw := out.sent()[0]
	assert.Contains(t, string(raw), "RelatesTo")
	reply, err := c.Decode(raw, model.TransportSOAP)
	require.NoError(t, err)
	assert.Equal(t, model.TypeCallResult, reply.Type)
	assert.Equal(t, model.CorrelationID("soap-1"), reply.ID)
	assert.JSONEq(t, `{"currentTime":"now"}`, string(reply.Payload))

	require.NoError(t, l.HandleFrame(context.Background(), []byte(`[2,"j1","Heartbeat",{}]`), model.TransportJSON))
	require.Eventually(t, func() bool { return len(out.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `[3,"j1",{"currentTime":"now"}]`, string(out.sent()[1]))
}

func TestUnencodableReplyReplacedByFailure(t *testing.T) {
	xml := func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallResult(call, []byte(`<currentTime>now</currentTime>`))
		return &m, nil
	}
	csms := New("CSMS", engineWith(t, "Heartbeat", xml))
	t.Cleanup(func() { _ = csms.Close() })
	out := &memConn{desc: "cp"}
	l, err := csms.Attach("CP-1", out, model.TransportJSON)
	require.NoError(t, err)

	require.NoError(t, l.HandleFrame(context.Background(), []byte(`[2,"x1","Heartbeat",{}]`), model.TransportJSON))
	require.Eventually(t, func() bool { return len(out.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `[4,"x1","InternalError","No response for action Heartbeat",{"action":"Heartbeat"}]`, string(out.sent()[0]))
}
