// Package node ties codec, router, correlation and dispatch together into a
// protocol node with one Link per connected peer.
//
// Inbound frames are decoded, observed and routed. Calls addressed to the
// node are dispatched concurrently with the read loop; replies resolve the
// correlation table of the link they arrived on. Relayed messages leave
// through the link of their next hop, encoded in that link's transport kind.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/kilianp07/ocppcore/core/codec"
	"github.com/kilianp07/ocppcore/core/correlation"
	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/observe"
	"github.com/kilianp07/ocppcore/core/routing"
)

const (
	DefaultCallTimeout   = 30 * time.Second
	DefaultSweepInterval = time.Second
)

// Option configures a Node.
type Option func(*Node)

func WithCodec(c *codec.Codec) Option {
	return func(n *Node) {
		if c != nil {
			n.codec = c
		}
	}
}

// WithRoutes installs a static forwarding table consulted after the attached
// links.
func WithRoutes(t *routing.StaticTable) Option {
	return func(n *Node) {
		if t != nil {
			n.routes = t
		}
	}
}

func WithMaxHops(h int) Option {
	return func(n *Node) { n.maxHops = h }
}

// WithCallTimeout sets the deadline of locally originated Calls.
func WithCallTimeout(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.callTimeout = d
		}
	}
}

// WithSweepInterval sets how often each link expires overdue requests.
func WithSweepInterval(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.sweepInterval = d
		}
	}
}

// WithCapacity bounds outstanding requests per link.
func WithCapacity(c int) Option {
	return func(n *Node) { n.capacity = c }
}

func WithClock(c clock.Clock) Option {
	return func(n *Node) {
		if c != nil {
			n.clock = c
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.log = l
		}
	}
}

func WithObserver(o observe.Observer) Option {
	return func(n *Node) {
		if o != nil {
			n.observer = o
		}
	}
}

// WithMetrics receives request latency and link counts when the sink
// implements the matching recorders.
func WithMetrics(s metrics.MetricsSink) Option {
	return func(n *Node) {
		if s != nil {
			n.sink = s
		}
	}
}

// WithIDGenerator replaces the correlation id generator of every link.
func WithIDGenerator(gen func() model.CorrelationID) Option {
	return func(n *Node) { n.newID = gen }
}

// Node is a protocol node identified by its local NodeIdentity.
type Node struct {
	local  model.NodeIdentity
	engine *dispatch.Engine
	codec  *codec.Codec
	router *routing.Router
	routes *routing.StaticTable

	maxHops       int
	callTimeout   time.Duration
	sweepInterval time.Duration
	capacity      int
	newID         func() model.CorrelationID

	clock    clock.Clock
	log      logger.Logger
	observer observe.Observer
	sink     metrics.MetricsSink

	mu     sync.RWMutex
	links  map[model.NodeIdentity]*Link
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node. engine answers the Calls delivered locally; a nil
// engine answers every Call with a synthesized failure.
func New(local model.NodeIdentity, engine *dispatch.Engine, opts ...Option) *Node {
	if engine == nil {
		engine = dispatch.NewEngine(nil)
	}
	n := &Node{
		local:         local,
		engine:        engine,
		codec:         codec.New(),
		routes:        routing.NewStaticTable(nil, ""),
		callTimeout:   DefaultCallTimeout,
		sweepInterval: DefaultSweepInterval,
		clock:         clock.New(),
		log:           logger.NopLogger{},
		observer:      observe.Nop{},
		sink:          metrics.NopSink{},
		links:         make(map[model.NodeIdentity]*Link),
	}
	for _, o := range opts {
		o(n)
	}
	n.router = routing.NewRouter(local, n.maxHops, routing.Chain(routing.TableFunc(n.directHop), n.routes))
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n
}

// Local returns the node identity.
func (n *Node) Local() model.NodeIdentity { return n.local }

// Routes returns the static forwarding table.
func (n *Node) Routes() *routing.StaticTable { return n.routes }

// Codec returns the codec used for every link.
func (n *Node) Codec() *codec.Codec { return n.codec }

func (n *Node) directHop(dest model.NodeIdentity) (model.NodeIdentity, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, ok := n.links[dest]; ok {
		return dest, true
	}
	return "", false
}

// Attach registers conn as the link to peer. A previous link of the same
// peer is closed and its pending requests cancelled.
func (n *Node) Attach(peer model.NodeIdentity, conn Conn, kind model.TransportKind) (*Link, error) {
	if peer == "" {
		return nil, fmt.Errorf("node: empty peer identity")
	}
	if conn == nil {
		return nil, fmt.Errorf("node: nil conn for %s", peer)
	}

	l := &Link{node: n, peer: peer, conn: conn, kind: kind}
	l.ctx, l.cancel = context.WithCancel(n.ctx)
	tableOpts := []correlation.Option{
		correlation.WithClock(n.clock),
		correlation.WithCapacity(n.capacity),
		correlation.WithDefaultTimeout(n.callTimeout),
		correlation.WithLogger(n.log),
		correlation.WithOnResolve(l.recordLatency),
	}
	if n.newID != nil {
		tableOpts = append(tableOpts, correlation.WithIDGenerator(n.newID))
	}
	l.table = correlation.NewTable(correlation.SenderFunc(l.sendCall), tableOpts...)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		l.cancel()
		return nil, ErrNodeClosed
	}
	prev := n.links[peer]
	n.links[peer] = l
	count := len(n.links)
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		l.table.Sweep(l.ctx, n.sweepInterval)
	}()

	if prev != nil {
		n.log.Warnf("peer %s reconnected from %s, closing %s", peer, conn.Descriptor(), prev.conn.Descriptor())
		if err := prev.shutdown(ErrLinkReplaced); err != nil {
			n.log.Warnf("close replaced link %s: %v", peer, err)
		}
	}
	n.log.Infof("attached %s via %s (%s)", peer, conn.Descriptor(), kind)
	n.recordLinks(count)
	return l, nil
}

// Detach closes the link of peer, cancelling its pending requests.
func (n *Node) Detach(peer model.NodeIdentity) error {
	n.mu.RLock()
	l := n.links[peer]
	n.mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

func (n *Node) remove(l *Link) bool {
	n.mu.Lock()
	cur, ok := n.links[l.peer]
	if !ok || cur != l {
		n.mu.Unlock()
		return false
	}
	delete(n.links, l.peer)
	count := len(n.links)
	n.mu.Unlock()
	n.recordLinks(count)
	return true
}

// Link returns the attached link of peer.
func (n *Node) Link(peer model.NodeIdentity) (*Link, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	l, ok := n.links[peer]
	return l, ok
}

// Peers lists the attached peers.
func (n *Node) Peers() []model.NodeIdentity {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]model.NodeIdentity, 0, len(n.links))
	for p := range n.links {
		out = append(out, p)
	}
	return out
}

// Call originates a Call to destination and waits for its reply. A
// CallError reply is returned together with an error wrapping
// correlation.ErrCallError.
func (n *Node) Call(ctx context.Context, destination model.NodeIdentity, action string, payload []byte) (model.Message, error) {
	p, err := n.Send(ctx, destination, action, payload)
	if err != nil {
		return model.Message{}, err
	}
	return p.Wait(ctx)
}

// Send originates a Call without waiting for the reply.
func (n *Node) Send(ctx context.Context, destination model.NodeIdentity, action string, payload []byte) (*correlation.PendingRequest, error) {
	call := model.NewCall("", action, payload)
	call.Destination = destination
	d := n.router.Originate(call)
	if d.Kind == routing.Reject {
		return nil, d.Err
	}
	l, ok := n.Link(d.NextHop)
	if !ok {
		return nil, fmt.Errorf("%w %s for %s", ErrNoLink, d.NextHop, destination)
	}
	return l.table.SendMessage(ctx, d.Message, l.table.Clock().Now().Add(n.callTimeout))
}

// Close detaches every link and waits for in-flight dispatches.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	links := make([]*Link, 0, len(n.links))
	for _, l := range n.links {
		links = append(links, l)
	}
	n.mu.Unlock()

	var err error
	for _, l := range links {
		err = multierr.Append(err, l.Close())
	}
	n.cancel()
	n.wg.Wait()
	return err
}

func (n *Node) observe(l *Link, kind observe.Kind, dir observe.Direction, transport model.TransportKind, msg model.Message, err error) {
	ev := observe.Event{
		Time:      n.clock.Now(),
		Local:     n.local,
		Direction: dir,
		Transport: transport,
		Kind:      kind,
		Message:   msg,
		Err:       err,
	}
	if l != nil {
		ev.Peer = l.conn.Descriptor()
	}
	n.observer.Observe(ev)
}

func (n *Node) recordLinks(count int) {
	if lr, ok := n.sink.(metrics.LinkCountRecorder); ok {
		if err := lr.RecordLinkCount(count); err != nil {
			n.log.Errorf("link count metrics error: %v", err)
		}
	}
}
