package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/ocppcore/core/model"
)

// Handler processes an inbound Call. Returning a nil message, a CallResult
// without payload, or an error counts as an empty result.
type Handler interface {
	HandleCall(ctx context.Context, call model.Message) (*model.Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call model.Message) (*model.Message, error)

func (f HandlerFunc) HandleCall(ctx context.Context, call model.Message) (*model.Message, error) {
	return f(ctx, call)
}

// Registration is one entry of an action's handler list.
type Registration struct {
	Name    string
	Handler Handler
}

var (
	ErrNilHandler  = errors.New("dispatch: nil handler")
	ErrEmptyAction = errors.New("dispatch: empty action")
)

// Registry maps actions to their ordered handler lists. Registration happens
// at startup; lookups are safe concurrently with dispatch.
type Registry struct {
	mu       sync.RWMutex
	byAction map[string][]Registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byAction: make(map[string][]Registration)}
}

// Register appends h to the handlers of action. Order of registration decides
// which handler's result becomes the reply.
func (r *Registry) Register(action, name string, h Handler) error {
	if action == "" {
		return ErrEmptyAction
	}
	if h == nil {
		return fmt.Errorf("%w for %s", ErrNilHandler, action)
	}
	if name == "" {
		name = fmt.Sprintf("%s#%d", action, r.Len(action)+1)
	}
	r.mu.Lock()
	r.byAction[action] = append(r.byAction[action], Registration{Name: name, Handler: h})
	r.mu.Unlock()
	return nil
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(action, name string, fn func(ctx context.Context, call model.Message) (*model.Message, error)) error {
	if fn == nil {
		return fmt.Errorf("%w for %s", ErrNilHandler, action)
	}
	return r.Register(action, name, HandlerFunc(fn))
}

// Handlers returns a copy of the handler list of action.
func (r *Registry) Handlers(action string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.byAction[action]
	if len(regs) == 0 {
		return nil
	}
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// Len returns the number of handlers registered for action.
func (r *Registry) Len(action string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAction[action])
}

// Actions lists the actions with at least one handler, sorted.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byAction))
	for a := range r.byAction {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
