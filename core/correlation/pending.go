package correlation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kilianp07/ocppcore/core/model"
)

// State is the lifecycle position of a PendingRequest.
type State int32

const (
	StateCreated State = iota
	StateAwaitingResponse
	StateCompleted
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether s is final.
func (s State) Terminal() bool { return s >= StateCompleted }

// PendingRequest tracks one outbound Call until it is resolved. Reply and Err
// are only meaningful once Done is closed.
type PendingRequest struct {
	ID       model.CorrelationID
	Action   string
	SentAt   time.Time
	Deadline time.Time

	table *Table
	state atomic.Int32
	done  chan struct{}
	reply model.Message
	err   error
}

func newPending(t *Table, call model.Message, sentAt, deadline time.Time) *PendingRequest {
	return &PendingRequest{
		ID:       call.ID,
		Action:   call.Action,
		SentAt:   sentAt,
		Deadline: deadline,
		table:    t,
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (p *PendingRequest) State() State { return State(p.state.Load()) }

// Done is closed exactly once, when the request reaches a terminal state.
func (p *PendingRequest) Done() <-chan struct{} { return p.done }

// Result returns the outcome. It blocks until the request is resolved.
func (p *PendingRequest) Result() (model.Message, error) {
	<-p.done
	return p.reply, p.err
}

// Wait blocks until the request is resolved or ctx ends. When ctx ends first
// the request is cancelled; a reply that wins the race is still returned.
func (p *PendingRequest) Wait(ctx context.Context) (model.Message, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.table.cancelOne(p.ID, ctx.Err())
	}
	return p.Result()
}

// complete moves the request to a terminal state. The caller holds the table
// lock, which makes the transition exactly-once.
func (p *PendingRequest) complete(state State, reply model.Message, err error) bool {
	if p.State().Terminal() {
		return false
	}
	p.reply = reply
	p.err = err
	p.state.Store(int32(state))
	close(p.done)
	return true
}
