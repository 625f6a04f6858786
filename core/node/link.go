package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/ocppcore/core/codec"
	"github.com/kilianp07/ocppcore/core/correlation"
	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/observe"
	"github.com/kilianp07/ocppcore/core/routing"
	"github.com/kilianp07/ocppcore/core/synth"
)

// Link is the node side of one connection. It owns the correlation table of
// the Calls sent over the connection.
type Link struct {
	node  *Node
	peer  model.NodeIdentity
	conn  Conn
	kind  model.TransportKind
	table *correlation.Table

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Peer returns the identity of the node at the other end.
func (l *Link) Peer() model.NodeIdentity { return l.peer }

// Kind returns the transport kind outbound frames are encoded with.
func (l *Link) Kind() model.TransportKind { return l.kind }

// Conn returns the transport connection of the link.
func (l *Link) Conn() Conn { return l.conn }

// Table returns the link's correlation table.
func (l *Link) Table() *correlation.Table { return l.table }

// Context is cancelled when the link closes.
func (l *Link) Context() context.Context { return l.ctx }

// Close detaches the link, cancels its pending requests and closes the
// connection.
func (l *Link) Close() error {
	return l.shutdown(ErrLinkClosed)
}

func (l *Link) shutdown(reason error) error {
	l.closeOnce.Do(func() {
		l.node.remove(l)
		l.cancel()
		if n := l.table.Close(reason); n > 0 {
			l.node.log.Infof("cancelled %d pending requests to %s", n, l.peer)
		}
		l.closeErr = l.conn.Close()
		l.node.log.Infof("detached %s (%v)", l.peer, reason)
	})
	return l.closeErr
}

// HandleFrame processes one frame received on the link. Replies owed to the
// peer are encoded in kind, the transport kind the frame arrived in. It
// returns an error only when such a reply could not be written.
func (l *Link) HandleFrame(ctx context.Context, raw []byte, kind model.TransportKind) error {
	n := l.node
	msg, err := n.codec.Decode(raw, kind)
	if err != nil {
		de, _ := codec.AsDecodeError(err)
		n.observe(l, observe.KindDecodeFailure, observe.Inbound, kind, model.Message{ID: idOf(de), Action: actionOf(de)}, err)
		reply, ok := synth.FromDecodeError(de)
		if !ok {
			n.log.Warnf("dropping undecodable frame from %s: %v", l.peer, err)
			return nil
		}
		n.log.Warnf("rejecting frame %s from %s: %v", reply.ID, l.peer, err)
		return l.write(ctx, reply, kind)
	}
	n.observe(l, observe.KindMessage, observe.Inbound, kind, msg, nil)

	if msg.IsCall() && len(msg.Path) == 0 && msg.Destination != "" && msg.Destination != n.local {
		msg.Path = model.NetworkPath{l.peer}
		if msg.Source == "" {
			msg.Source = l.peer
		}
	}

	d := n.router.Forward(msg)
	switch d.Kind {
	case routing.Deliver:
		if d.Message.IsCall() {
			l.dispatch(d.Message, kind)
			return nil
		}
		if !l.table.Resolve(d.Message) {
			n.observe(l, observe.KindUnresolved, observe.Inbound, kind, d.Message, correlation.ErrUnknownCorrelation)
		}
		return nil
	case routing.Relay:
		return l.relay(ctx, d, kind)
	default:
		n.observe(l, observe.KindRoutingFailure, observe.Inbound, kind, msg, d.Err)
		if !msg.IsCall() {
			n.log.Warnf("dropping %s from %s: %v", msg, l.peer, d.Err)
			return nil
		}
		n.log.Warnf("rejecting %s from %s: %v", msg, l.peer, d.Err)
		return l.answer(ctx, msg, synth.FromRoutingError(msg, d.Err), kind)
	}
}

func (l *Link) dispatch(call model.Message, kind model.TransportKind) {
	n := l.node
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	n.wg.Add(1)
	n.mu.RUnlock()

	go func() {
		defer n.wg.Done()
		ctx := dispatch.WithPeer(l.ctx, l.conn.Descriptor())
		reply := n.engine.Dispatch(ctx, call)
		if err := l.answer(ctx, call, reply, kind); err != nil {
			n.log.Errorf("reply %s %s to %s: %v", call.Action, call.ID, l.peer, err)
		}
	}()
}

// answer routes reply back along the path of call, which arrived on this
// link in kind. A reply that cannot be encoded is replaced by a synthesized
// failure.
func (l *Link) answer(ctx context.Context, call, reply model.Message, kind model.TransportKind) error {
	n := l.node
	err := l.relay(ctx, n.router.Reply(call, reply), kind)
	if err == nil || !errors.Is(err, codec.ErrInvalidMessage) {
		return err
	}
	n.log.Warnf("answering %s %s with a failure: %v", call.Action, call.ID, err)
	return l.relay(ctx, n.router.Reply(call, synth.Fail(call)), kind)
}

// relay sends d.Message through the link of d.NextHop, encoded in that
// link's kind. An empty NextHop means this link, where kind is used.
func (l *Link) relay(ctx context.Context, d routing.Decision, kind model.TransportKind) error {
	n := l.node
	out, outKind := l, kind
	if d.NextHop != "" && d.NextHop != l.peer {
		next, ok := n.Link(d.NextHop)
		if !ok {
			err := fmt.Errorf("%w %s", ErrNoLink, d.NextHop)
			n.observe(l, observe.KindRoutingFailure, observe.Inbound, kind, d.Message, err)
			if !d.Message.IsCall() {
				n.log.Warnf("dropping %s: %v", d.Message, err)
				return nil
			}
			// The Call is answered as it arrived, without the hop Forward appended.
			call := d.Message
			if k := len(call.Path); k > 0 && call.Path[k-1] == n.local {
				call.Path = call.Path[:k-1].Clone()
			}
			rerr := &routing.Error{Kind: routing.Unreachable, Local: n.local, Destination: call.Destination, Path: call.Path}
			return l.answer(ctx, call, synth.FromRoutingError(call, rerr), kind)
		}
		out, outKind = next, next.kind
	}
	return out.write(ctx, d.Message, outKind)
}

func (l *Link) write(ctx context.Context, msg model.Message, kind model.TransportKind) error {
	n := l.node
	frame, err := n.codec.Encode(msg, kind)
	if err != nil {
		return fmt.Errorf("node: encode %s for %s: %w", msg, l.peer, err)
	}
	if err := l.conn.Send(ctx, frame, kind); err != nil {
		return fmt.Errorf("node: send %s to %s: %w", msg, l.peer, err)
	}
	n.observe(l, observe.KindMessage, observe.Outbound, kind, msg, nil)
	return nil
}

func (l *Link) sendCall(ctx context.Context, call model.Message) error {
	return l.write(ctx, call, l.kind)
}

func (l *Link) recordLatency(p *correlation.PendingRequest) {
	lr, ok := l.node.sink.(metrics.LatencyRecorder)
	if !ok {
		return
	}
	now := l.table.Clock().Now()
	err := lr.RecordRequestLatency(metrics.RequestLatency{
		Peer:    string(l.peer),
		Action:  p.Action,
		Outcome: outcomeOf(p),
		Latency: now.Sub(p.SentAt),
		Time:    now,
	})
	if err != nil {
		l.node.log.Errorf("latency metrics error: %v", err)
	}
}

func outcomeOf(p *correlation.PendingRequest) string {
	switch p.State() {
	case correlation.StateTimedOut:
		return "timed_out"
	case correlation.StateCancelled:
		return "cancelled"
	}
	if reply, _ := p.Result(); reply.Type == model.TypeCallError {
		return "call_error"
	}
	return "completed"
}

func idOf(de *codec.DecodeError) model.CorrelationID {
	if de == nil {
		return ""
	}
	return de.ID
}

func actionOf(de *codec.DecodeError) string {
	if de == nil {
		return ""
	}
	return de.Action
}
