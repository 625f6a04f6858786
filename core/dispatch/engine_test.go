package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/observe"
)

func result(payload string) HandlerFunc {
	return func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallResult(call, []byte(payload))
		return &m, nil
	}
}

func empty() HandlerFunc {
	return func(context.Context, model.Message) (*model.Message, error) { return nil, nil }
}

type dispatchRecorder struct {
	metrics.NopSink
	mu     sync.Mutex
	events []metrics.DispatchEvent
}

func (r *dispatchRecorder) RecordDispatch(ev metrics.DispatchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestDispatchFirstRegisteredWins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("BootNotification", "primary", result(`{"status":"Accepted"}`)))
	require.NoError(t, reg.Register("BootNotification", "secondary", result(`{"status":"Rejected"}`)))
	e := NewEngine(reg)

	call := model.NewCall("b1", "BootNotification", []byte(`{}`))
	reply := e.Dispatch(context.Background(), call)
	assert.Equal(t, model.TypeCallResult, reply.Type)
	assert.Equal(t, model.CorrelationID("b1"), reply.ID)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(reply.Payload))
}

func TestDispatchEmptyFirstResultIsFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("DataTransfer", "h1", empty()))
	require.NoError(t, reg.Register("DataTransfer", "h2", result(`{"status":"Accepted"}`)))
	e := NewEngine(reg)

	reply := e.Dispatch(context.Background(), model.NewCall("d1", "DataTransfer", []byte(`{}`)))
	assert.Equal(t, model.TypeCallError, reply.Type)
	assert.Equal(t, model.ErrInternalError, reply.ErrorCode)
	assert.Equal(t, "No response for action DataTransfer", reply.ErrorDescription)
	assert.Equal(t, model.CorrelationID("d1"), reply.ID)
}

func TestDispatchWithoutHandlers(t *testing.T) {
	rec := &dispatchRecorder{}
	e := NewEngine(NewRegistry(), WithMetrics(rec))

	reply := e.Dispatch(context.Background(), model.NewCall("abc", "Heartbeat", []byte(`{}`)))
	assert.Equal(t, model.TypeCallError, reply.Type)
	assert.Equal(t, model.CorrelationID("abc"), reply.ID)
	assert.JSONEq(t, `{"action":"Heartbeat"}`, string(reply.ErrorDetails))

	require.Len(t, rec.events, 1)
	assert.True(t, rec.events[0].Synthesized)
	assert.Equal(t, 0, rec.events[0].Handlers)
}

func TestDispatchWaitsForEveryHandler(t *testing.T) {
	var sideEffect atomic.Bool
	reg := NewRegistry()
	require.NoError(t, reg.Register("MeterValues", "fast", result(`{}`)))
	require.NoError(t, reg.RegisterFunc("MeterValues", "slow", func(context.Context, model.Message) (*model.Message, error) {
		time.Sleep(50 * time.Millisecond)
		sideEffect.Store(true)
		return nil, nil
	}))
	e := NewEngine(reg)

	reply := e.Dispatch(context.Background(), model.NewCall("m1", "MeterValues", []byte(`{}`)))
	assert.Equal(t, model.TypeCallResult, reply.Type)
	assert.True(t, sideEffect.Load(), "dispatch returned before the slow handler finished")
}

func TestDispatchIsolatesPanics(t *testing.T) {
	var faults []observe.Event
	var mu sync.Mutex
	obs := observe.ObserverFunc(func(ev observe.Event) {
		mu.Lock()
		faults = append(faults, ev)
		mu.Unlock()
	})

	reg := NewRegistry()
	require.NoError(t, reg.Register("StatusNotification", "answer", result(`{}`)))
	require.NoError(t, reg.RegisterFunc("StatusNotification", "audit", func(context.Context, model.Message) (*model.Message, error) {
		panic("boom")
	}))
	e := NewEngine(reg, WithObserver(obs), WithLocal("CSMS"))

	ctx := WithPeer(context.Background(), "CP-1")
	reply := e.Dispatch(ctx, model.NewCall("s1", "StatusNotification", []byte(`{}`)))
	assert.Equal(t, model.TypeCallResult, reply.Type)

	require.Len(t, faults, 1)
	assert.Equal(t, observe.KindHandlerFault, faults[0].Kind)
	assert.Equal(t, "audit", faults[0].Handler)
	assert.Equal(t, "CP-1", faults[0].Peer)
	assert.Equal(t, model.NodeIdentity("CSMS"), faults[0].Local)
	assert.Error(t, faults[0].Err)
}

func TestDispatchFirstHandlerErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("Authorize", "", func(context.Context, model.Message) (*model.Message, error) {
		return nil, errors.New("db down")
	}))
	reply := NewEngine(reg).Dispatch(context.Background(), model.NewCall("a1", "Authorize", []byte(`{}`)))
	assert.Equal(t, model.TypeCallError, reply.Type)
	assert.Equal(t, model.ErrInternalError, reply.ErrorCode)
}

func TestDispatchTimeout(t *testing.T) {
	var got error
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("Authorize", "slow", func(ctx context.Context, _ model.Message) (*model.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	obs := observe.ObserverFunc(func(ev observe.Event) { got = ev.Err })
	e := NewEngine(reg, WithTimeout(20*time.Millisecond), WithObserver(obs))

	reply := e.Dispatch(context.Background(), model.NewCall("a2", "Authorize", []byte(`{}`)))
	assert.Equal(t, model.TypeCallError, reply.Type)
	assert.ErrorIs(t, got, ErrDispatchTimeout)
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestDispatchForcesCorrelation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("Heartbeat", "", func(context.Context, model.Message) (*model.Message, error) {
		return &model.Message{Type: model.TypeCallResult, ID: "other", Payload: []byte(`{"currentTime":"2024-01-01T00:00:00Z"}`),
			Destination: "X", Path: model.NetworkPath{"X"}}, nil
	}))
	reply := NewEngine(reg).Dispatch(context.Background(), model.NewCall("h1", "Heartbeat", []byte(`{}`)))
	assert.Equal(t, model.CorrelationID("h1"), reply.ID)
	assert.Equal(t, "Heartbeat", reply.Action)
	assert.Empty(t, reply.Destination)
	assert.Empty(t, reply.Path)
}

func TestDispatchReturnsCallErrorFromHandler(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("RemoteStartTransaction", "", func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallError(call, model.ErrNotSupported, "no connector", nil)
		return &m, nil
	}))
	reply := NewEngine(reg).Dispatch(context.Background(), model.NewCall("r1", "RemoteStartTransaction", []byte(`{}`)))
	assert.Equal(t, model.ErrNotSupported, reply.ErrorCode)
}

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ResetMetrics(reg)
	t.Cleanup(func() { ResetMetrics(nil) })

	hr := NewRegistry()
	require.NoError(t, hr.Register("Heartbeat", "ok", result(`{}`)))
	require.NoError(t, hr.RegisterFunc("Heartbeat", "bad", func(context.Context, model.Message) (*model.Message, error) {
		return nil, errors.New("nope")
	}))
	e := NewEngine(hr)
	e.Dispatch(context.Background(), model.NewCall("1", "Heartbeat", []byte(`{}`)))
	e.Dispatch(context.Background(), model.NewCall("2", "Unknown", []byte(`{}`)))

	assert.Equal(t, 2.0, testutil.ToFloat64(handlerInvocations.WithLabelValues("Heartbeat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(handlerFaults.WithLabelValues("Heartbeat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(synthesizedReplies.WithLabelValues("Unknown")))
	assert.Equal(t, 0.0, testutil.ToFloat64(synthesizedReplies.WithLabelValues("Heartbeat")))
	assert.Equal(t, 2, testutil.CollectAndCount(dispatchDuration))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register("", "x", result(`{}`)), ErrEmptyAction)
	assert.ErrorIs(t, r.Register("Heartbeat", "x", nil), ErrNilHandler)
	require.NoError(t, r.Register("Heartbeat", "", result(`{}`)))
	require.NoError(t, r.Register("Authorize", "", result(`{}`)))
	assert.Equal(t, "Heartbeat#1", r.Handlers("Heartbeat")[0].Name)
	assert.Equal(t, []string{"Authorize", "Heartbeat"}, r.Actions())

	regs := r.Handlers("Heartbeat")
	regs[0].Name = "mutated"
	assert.Equal(t, "Heartbeat#1", r.Handlers("Heartbeat")[0].Name)
}

func TestDispatchRunsHandlersConcurrently(t *testing.T) {
	started := [2]chan struct{}{make(chan struct{}), make(chan struct{})}
	// each handler only answers once the other one has started
	barrier := func(self, other int, payload string) HandlerFunc {
		return func(ctx context.Context, call model.Message) (*model.Message, error) {
			close(started[self])
			select {
			case <-started[other]:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			m := model.NewCallResult(call, []byte(payload))
			return &m, nil
		}
	}
	reg := NewRegistry()
	require.NoError(t, reg.Register("MeterValues", "first", barrier(0, 1, `{"from":"first"}`)))
	require.NoError(t, reg.Register("MeterValues", "second", barrier(1, 0, `{"from":"second"}`)))
	e := NewEngine(reg, WithTimeout(500*time.Millisecond))

	reply := e.Dispatch(context.Background(), model.NewCall("c1", "MeterValues", []byte(`{}`)))
	require.Equal(t, model.TypeCallResult, reply.Type, "handlers were not run in parallel: %s", reply)
	assert.JSONEq(t, `{"from":"first"}`, string(reply.Payload))
}

func TestDispatchSelectsByRegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var finished []string
	answer := func(name string, delay time.Duration) HandlerFunc {
		return func(_ context.Context, call model.Message) (*model.Message, error) {
			time.Sleep(delay)
			mu.Lock()
			finished = append(finished, name)
			mu.Unlock()
			m := model.NewCallResult(call, []byte(`{"from":"`+name+`"}`))
			return &m, nil
		}
	}
	reg := NewRegistry()
	require.NoError(t, reg.Register("StatusNotification", "slow", answer("slow", 50*time.Millisecond)))
	require.NoError(t, reg.Register("StatusNotification", "fast", answer("fast", 0)))

	reply := NewEngine(reg).Dispatch(context.Background(), model.NewCall("s2", "StatusNotification", []byte(`{}`)))
	assert.JSONEq(t, `{"from":"slow"}`, string(reply.Payload))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fast", "slow"}, finished)
}
