// Package correlation matches outbound Calls with their replies.
//
// A Table belongs to exactly one connection. Every request registered in it
// is resolved exactly once: by a CallResult or CallError from the peer, by
// its deadline passing, or by cancellation.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/model"
)

const (
	// DefaultCapacity bounds the number of outstanding requests per table.
	DefaultCapacity = 1024
	// DefaultTimeout is applied when Send is given a zero deadline.
	DefaultTimeout = 30 * time.Second
)

// Sender hands a Call to the transport.
type Sender interface {
	SendCall(ctx context.Context, call model.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, call model.Message) error

func (f SenderFunc) SendCall(ctx context.Context, call model.Message) error { return f(ctx, call) }

// Option configures a Table.
type Option func(*Table)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(t *Table) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithCapacity bounds the number of outstanding requests.
func WithCapacity(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithDefaultTimeout sets the deadline used when none is given.
func WithDefaultTimeout(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.defaultTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(gen func() model.CorrelationID) Option {
	return func(t *Table) {
		if gen != nil {
			t.newID = gen
		}
	}
}

// WithOnResolve registers a callback invoked after a request reaches a
// terminal state. It runs outside the table lock.
func WithOnResolve(fn func(*PendingRequest)) Option {
	return func(t *Table) { t.onResolve = fn }
}

// Table is the registry of outstanding requests of one connection.
type Table struct {
	mu      sync.Mutex
	pending map[model.CorrelationID]*PendingRequest
	closed  bool

	sender         Sender
	clock          clock.Clock
	capacity       int
	defaultTimeout time.Duration
	log            logger.Logger
	newID          func() model.CorrelationID
	onResolve      func(*PendingRequest)
}

// NewTable creates a table sending through sender.
func NewTable(sender Sender, opts ...Option) *Table {
	t := &Table{
		pending:        make(map[model.CorrelationID]*PendingRequest),
		sender:         sender,
		clock:          clock.New(),
		capacity:       DefaultCapacity,
		defaultTimeout: DefaultTimeout,
		log:            logger.NopLogger{},
		newID:          func() model.CorrelationID { return model.CorrelationID(uuid.NewString()) },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Clock returns the clock the table measures deadlines with.
func (t *Table) Clock() clock.Clock { return t.clock }

// Send builds a Call with a fresh correlation id and hands it to the sender.
func (t *Table) Send(ctx context.Context, action string, payload []byte, deadline time.Time) (*PendingRequest, error) {
	return t.SendMessage(ctx, model.NewCall("", action, payload), deadline)
}

// SendMessage registers call and hands it to the sender. An empty call.ID is
// filled in. The request is registered before the handoff so that a fast
// reply always finds it, and removed again when the handoff fails.
func (t *Table) SendMessage(ctx context.Context, call model.Message, deadline time.Time) (*PendingRequest, error) {
	if !call.IsCall() {
		return nil, ErrNotACall
	}
	if call.ID == "" {
		call.ID = t.newID()
	}
	now := t.clock.Now()
	if deadline.IsZero() {
		deadline = now.Add(t.defaultTimeout)
	}

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return nil, ErrClosed
	case len(t.pending) >= t.capacity:
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %d outstanding requests", ErrTableFull, t.capacity)
	}
	if _, dup := t.pending[call.ID]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, call.ID)
	}
	p := newPending(t, call, now, deadline)
	t.pending[call.ID] = p
	t.mu.Unlock()

	if err := t.sender.SendCall(ctx, call); err != nil {
		t.mu.Lock()
		if t.pending[call.ID] == p {
			delete(t.pending, call.ID)
		}
		done := p.complete(StateCancelled, model.Message{}, err)
		t.mu.Unlock()
		if done {
			t.resolved(p)
		}
		return nil, fmt.Errorf("correlation: send %s %s: %w", call.Action, call.ID, err)
	}

	t.mu.Lock()
	if p.State() == StateCreated {
		p.state.Store(int32(StateAwaitingResponse))
	}
	t.mu.Unlock()
	t.log.Debugf("sent %s %s, deadline %s", call.Action, call.ID, deadline.Format(time.RFC3339))
	return p, nil
}

// Call sends and waits for the reply.
func (t *Table) Call(ctx context.Context, call model.Message, deadline time.Time) (model.Message, error) {
	p, err := t.SendMessage(ctx, call, deadline)
	if err != nil {
		return model.Message{}, err
	}
	return p.Wait(ctx)
}

// Resolve completes the request reply answers. It returns false for
// duplicate, late or unknown replies, which are logged and otherwise ignored.
func (t *Table) Resolve(reply model.Message) bool {
	if !reply.IsReply() {
		return false
	}
	t.mu.Lock()
	p, ok := t.pending[reply.ID]
	if !ok {
		t.mu.Unlock()
		t.log.Warnf("%v: %s", ErrUnknownCorrelation, reply)
		return false
	}
	delete(t.pending, reply.ID)
	if reply.Action == "" {
		reply.Action = p.Action
	}
	var err error
	if reply.Type == model.TypeCallError {
		err = fmt.Errorf("%w: %s: %s", ErrCallError, reply.ErrorCode, reply.ErrorDescription)
	}
	p.complete(StateCompleted, reply, err)
	t.mu.Unlock()

	t.resolved(p)
	return true
}

// Tick times out every request whose deadline is strictly before now and
// returns how many were resolved.
func (t *Table) Tick(now time.Time) int {
	t.mu.Lock()
	var expired []*PendingRequest
	for id, p := range t.pending {
		if !now.After(p.Deadline) {
			continue
		}
		delete(t.pending, id)
		p.complete(StateTimedOut, model.Message{}, fmt.Errorf("%w: %s %s after %s", ErrTimeout, p.Action, p.ID, p.Deadline.Sub(p.SentAt)))
		expired = append(expired, p)
	}
	t.mu.Unlock()

	for _, p := range expired {
		t.log.Warnf("request %s %s timed out", p.Action, p.ID)
		t.resolved(p)
	}
	return len(expired)
}

// Cancel resolves every outstanding request as cancelled and returns how many
// there were. It is safe to call concurrently with Resolve.
func (t *Table) Cancel(reason error) int {
	t.mu.Lock()
	all := t.drain(reason)
	t.mu.Unlock()
	for _, p := range all {
		t.resolved(p)
	}
	return len(all)
}

// Close cancels everything outstanding and refuses further sends.
func (t *Table) Close(reason error) int {
	t.mu.Lock()
	t.closed = true
	all := t.drain(reason)
	t.mu.Unlock()
	for _, p := range all {
		t.resolved(p)
	}
	if len(all) > 0 {
		t.log.Infof("closed with %d outstanding requests", len(all))
	}
	return len(all)
}

func (t *Table) drain(reason error) []*PendingRequest {
	err := ErrCancelled
	if reason != nil {
		err = fmt.Errorf("%w: %w", ErrCancelled, reason)
	}
	out := make([]*PendingRequest, 0, len(t.pending))
	for id, p := range t.pending {
		delete(t.pending, id)
		p.complete(StateCancelled, model.Message{}, err)
		out = append(out, p)
	}
	return out
}

func (t *Table) cancelOne(id model.CorrelationID, reason error) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		p.complete(StateCancelled, model.Message{}, fmt.Errorf("%w: %w", ErrCancelled, reason))
	}
	t.mu.Unlock()
	if ok {
		t.resolved(p)
	}
}

// Pending returns the number of outstanding requests.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Sweep calls Tick every interval until ctx is done.
func (t *Table) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := t.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Tick(now)
		}
	}
}

func (t *Table) resolved(p *PendingRequest) {
	if t.onResolve != nil {
		t.onResolve(p)
	}
}
