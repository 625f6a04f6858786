// Package routing decides whether a message is delivered locally, relayed to
// another node, or rejected, and maintains its NetworkPath on the way.
//
// Calls record every node they traverse. Replies never compute a route: they
// retrace the path recorded on the Call by peeling its last hop.
package routing

import (
	"fmt"

	"github.com/kilianp07/ocppcore/core/model"
)

// DefaultMaxHops is used when Router.MaxHops is not positive.
const DefaultMaxHops = 8

// DecisionKind is the outcome of a routing decision.
type DecisionKind int

const (
	Deliver DecisionKind = iota
	Relay
	Reject
)

func (k DecisionKind) String() string {
	switch k {
	case Deliver:
		return "deliver"
	case Relay:
		return "relay"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision tells the caller what to do with Message. NextHop is set for
// Relay; an empty NextHop on a Relay means the link the request arrived on.
type Decision struct {
	Kind    DecisionKind
	Message model.Message
	NextHop model.NodeIdentity
	Err     *Error
}

// Router is stateless apart from its configuration and can be shared by all
// links of a node.
type Router struct {
	Local   model.NodeIdentity
	MaxHops int
	Table   ForwardingTable
}

// NewRouter returns a Router for local. A nil table routes nothing.
func NewRouter(local model.NodeIdentity, maxHops int, table ForwardingTable) *Router {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Router{Local: local, MaxHops: maxHops, Table: table}
}

func (r *Router) maxHops() int {
	if r.MaxHops <= 0 {
		return DefaultMaxHops
	}
	return r.MaxHops
}

func (r *Router) reject(msg model.Message, kind ErrorKind) Decision {
	return Decision{
		Kind:    Reject,
		Message: msg,
		Err:     &Error{Kind: kind, Local: r.Local, Destination: msg.Destination, Path: msg.Path.Clone()},
	}
}

func (r *Router) nextHop(dest model.NodeIdentity) (model.NodeIdentity, bool) {
	if r.Table == nil {
		return "", false
	}
	return r.Table.NextHop(dest)
}

// Forward handles a message received from a peer.
func (r *Router) Forward(msg model.Message) Decision {
	if msg.Path.Contains(r.Local) {
		return r.reject(msg, LoopDetected)
	}
	if len(msg.Path) > r.maxHops() {
		return r.reject(msg, TooManyHops)
	}
	if msg.IsReply() {
		return r.forwardReply(msg)
	}
	if msg.Destination == "" || msg.Destination == r.Local {
		return Decision{Kind: Deliver, Message: msg}
	}
	hop, ok := r.nextHop(msg.Destination)
	if !ok {
		return r.reject(msg, Unreachable)
	}
	if msg.Path.Contains(hop) {
		return r.reject(msg, LoopDetected)
	}
	out := msg
	out.Path = msg.Path.Append(r.Local)
	return Decision{Kind: Relay, Message: out, NextHop: hop}
}

func (r *Router) forwardReply(msg model.Message) Decision {
	hop, rest, ok := msg.Path.Peel()
	if !ok {
		return Decision{Kind: Deliver, Message: msg}
	}
	out := msg
	out.Path = rest
	return Decision{Kind: Relay, Message: out, NextHop: hop}
}

// Originate prepares a locally created Call. A Call whose next hop is its
// destination leaves without routing information, which keeps it plain
// OCPP-J for directly attached peers.
func (r *Router) Originate(call model.Message) Decision {
	call.Source, call.Path = "", nil
	if call.Destination == "" || call.Destination == r.Local {
		return r.reject(call, Unreachable)
	}
	hop, ok := r.nextHop(call.Destination)
	if !ok {
		return r.reject(call, Unreachable)
	}
	if hop == call.Destination {
		dest := call.Destination
		call.Destination = ""
		return Decision{Kind: Relay, Message: call, NextHop: dest}
	}
	call.Source = r.Local
	call.Path = model.NetworkPath{r.Local}
	return Decision{Kind: Relay, Message: call, NextHop: hop}
}

// Reply addresses reply as the answer to call by reversing the path recorded
// on call.
func (r *Router) Reply(call, reply model.Message) Decision {
	reply.ID = call.ID
	reply.Action = call.Action
	reply.Source, reply.Destination, reply.Path = "", "", nil
	hop, rest, ok := call.Path.Peel()
	if !ok {
		return Decision{Kind: Relay, Message: reply}
	}
	reply.Source = r.Local
	reply.Destination = call.Source
	reply.Path = rest
	return Decision{Kind: Relay, Message: reply, NextHop: hop}
}
