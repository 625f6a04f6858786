// Package observe carries protocol events out of the core. Observers receive
// every decoded inbound and every outbound message together with faults that
// were handled locally. Delivery is best-effort and never blocks the
// protocol path.
package observe

import (
	"fmt"
	"time"

	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/internal/eventbus"
)

// Direction tells whether a message was received or sent.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "inbound":
		return Inbound, nil
	case "out", "outbound":
		return Outbound, nil
	}
	return Inbound, fmt.Errorf("observe: unknown direction %q", s)
}

// Kind classifies an Event.
type Kind int

const (
	KindMessage Kind = iota
	KindHandlerFault
	KindDecodeFailure
	KindRoutingFailure
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindHandlerFault:
		return "handler_fault"
	case KindDecodeFailure:
		return "decode_failure"
	case KindRoutingFailure:
		return "routing_failure"
	case KindUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one observation. Peer describes the connection the message
// travelled on. Handler and Err are set for faults.
type Event struct {
	Time      time.Time
	Local     model.NodeIdentity
	Peer      string
	Direction Direction
	Transport model.TransportKind
	Kind      Kind
	Message   model.Message
	Handler   string
	Err       error
}

// Observer receives events. Implementations must return quickly.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards events.
type Nop struct{}

func (Nop) Observe(Event) {}

// Multi fans an event out to several observers. A panicking observer is
// isolated from the others.
type Multi []Observer

func (m Multi) Observe(e Event) {
	for _, o := range m {
		safeObserve(o, e)
	}
}

func safeObserve(o Observer, e Event) {
	defer func() { _ = recover() }()
	o.Observe(e)
}

// Async decouples observers from the caller through a buffered bus. Events
// that do not fit in the buffer are dropped.
type Async struct {
	bus  *eventbus.Bus[Event]
	done chan struct{}
	log  logger.Logger
}

// NewAsync starts delivering to next on a background goroutine.
func NewAsync(next Observer, buffer int, log logger.Logger) *Async {
	if log == nil {
		log = logger.NopLogger{}
	}
	if buffer <= 0 {
		buffer = eventbus.DefaultBuffer
	}
	a := &Async{bus: eventbus.New[Event](), done: make(chan struct{}), log: log}
	ch := a.bus.SubscribeBuffered(buffer)
	go func() {
		defer close(a.done)
		for e := range ch {
			safeObserve(next, e)
		}
	}()
	return a
}

func (a *Async) Observe(e Event) {
	if !a.bus.Publish(e) {
		a.log.Debugf("observer queue full, dropped %s event", e.Kind)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (a *Async) Dropped() uint64 { return a.bus.Dropped() }

// Close stops accepting events and waits until the queued ones are delivered.
func (a *Async) Close() error {
	a.bus.Close()
	<-a.done
	return nil
}
