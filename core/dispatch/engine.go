// Package dispatch hands inbound Calls to the handlers registered for their
// action and selects the single reply.
//
// All handlers of an action run concurrently and Dispatch waits for every one
// of them. The reply is the result of the first registered handler, even
// when that result is empty and a later handler produced something: an
// empty first result is answered with a synthesized failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/core/model"
	coremon "github.com/kilianp07/ocppcore/core/monitoring"
	"github.com/kilianp07/ocppcore/core/observe"
	"github.com/kilianp07/ocppcore/core/synth"
)

// DefaultHandlerTimeout bounds a single dispatch.
const DefaultHandlerTimeout = 30 * time.Second

// ErrDispatchTimeout marks handler failures caused by the dispatch deadline.
var ErrDispatchTimeout = errors.New("dispatch: handler deadline exceeded")

// Engine dispatches Calls. It is safe for concurrent use.
type Engine struct {
	registry *Registry
	timeout  time.Duration
	local    model.NodeIdentity
	log      logger.Logger
	observer observe.Observer
	sink     metrics.MetricsSink
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the deadline passed to handlers.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver receives handler fault events.
func WithObserver(o observe.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithMetrics records dispatch outcomes on sinks implementing
// metrics.DispatchRecorder.
func WithMetrics(s metrics.MetricsSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithLocal sets the node identity reported in events.
func WithLocal(id model.NodeIdentity) Option {
	return func(e *Engine) { e.local = id }
}

// NewEngine creates an Engine over reg.
func NewEngine(reg *Registry, opts ...Option) *Engine {
	if reg == nil {
		reg = NewRegistry()
	}
	e := &Engine{
		registry: reg,
		timeout:  DefaultHandlerTimeout,
		log:      logger.NopLogger{},
		observer: observe.Nop{},
		sink:     metrics.NopSink{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the handler registry.
func (e *Engine) Registry() *Registry { return e.registry }

type outcome struct {
	reply *model.Message
	err   error
}

// Dispatch runs every handler of call.Action and returns the reply. It
// always returns a CallResult or CallError correlated to call.
func (e *Engine) Dispatch(ctx context.Context, call model.Message) model.Message {
	start := e.now()
	regs := e.registry.Handlers(call.Action)
	if len(regs) == 0 {
		e.log.Warnf("no handler for %s %s", call.Action, call.ID)
		return e.finish(call, start, 0, synth.Fail(call), true)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outcomes := make([]outcome, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg Registration) {
			defer wg.Done()
			outcomes[i] = e.invoke(ctx, reg, call)
		}(i, reg)
	}
	wg.Wait()

	for i, oc := range outcomes {
		if oc.err != nil {
			e.fault(ctx, call, regs[i].Name, oc.err)
		}
	}

	first := outcomes[0]
	if first.err != nil || !usable(first.reply) {
		if later := firstUsable(outcomes[1:]); later >= 0 {
			e.log.Debugf("%s %s: handler %s answered but %s did not; replying with failure",
				call.Action, call.ID, regs[later+1].Name, regs[0].Name)
		}
		return e.finish(call, start, len(regs), synth.Fail(call), true)
	}
	reply := *first.reply
	reply.ID = call.ID
	reply.Action = call.Action
	reply.Source, reply.Destination, reply.Path = "", "", nil
	return e.finish(call, start, len(regs), reply, false)
}

func (e *Engine) invoke(ctx context.Context, reg Registration, call model.Message) (oc outcome) {
	handlerInvocations.WithLabelValues(call.Action).Inc()
	defer func() {
		if v := recover(); v != nil {
			coremon.CapturePanic(v, map[string]string{"action": call.Action, "handler": reg.Name, "module": "dispatch"})
			oc = outcome{err: coremon.PanicError(v)}
		}
	}()
	reply, err := reg.Handler.HandleCall(ctx, call)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrDispatchTimeout, err)
		}
		return outcome{err: err}
	}
	return outcome{reply: reply}
}

func (e *Engine) fault(ctx context.Context, call model.Message, handler string, err error) {
	handlerFaults.WithLabelValues(call.Action).Inc()
	e.log.Errorf("handler %s failed on %s %s: %v", handler, call.Action, call.ID, err)
	if !errors.Is(err, ErrDispatchTimeout) {
		coremon.CaptureException(err, map[string]string{"action": call.Action, "handler": handler, "module": "dispatch"})
	}
	e.observer.Observe(observe.Event{
		Time:    e.now(),
		Local:   e.local,
		Peer:    PeerFromContext(ctx),
		Kind:    observe.KindHandlerFault,
		Message: call,
		Handler: handler,
		Err:     err,
	})
}

func (e *Engine) finish(call model.Message, start time.Time, handlers int, reply model.Message, synthesized bool) model.Message {
	dur := e.now().Sub(start)
	dispatchDuration.WithLabelValues(call.Action).Observe(dur.Seconds())
	if synthesized {
		synthesizedReplies.WithLabelValues(call.Action).Inc()
	}
	if dr, ok := e.sink.(metrics.DispatchRecorder); ok {
		if err := dr.RecordDispatch(metrics.DispatchEvent{
			Action:      call.Action,
			Handlers:    handlers,
			Synthesized: synthesized,
			Duration:    dur,
			Time:        start,
		}); err != nil {
			e.log.Errorf("dispatch metrics error: %v", err)
		}
	}
	return reply
}

func usable(m *model.Message) bool {
	return m != nil && m.IsReply() && !m.IsEmpty()
}

func firstUsable(outcomes []outcome) int {
	for i, oc := range outcomes {
		if oc.err == nil && usable(oc.reply) {
			return i
		}
	}
	return -1
}
