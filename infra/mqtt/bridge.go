// Package mqtt carries OCPP frames between nodes through an MQTT broker.
//
// Every node subscribes to <prefix>/<local>/in/<kind>/<sender>. A frame for
// peer P is published on <prefix>/<P>/in/<kind>/<local>, so the receiver
// learns both the sender identity and the encoding from the topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremon "github.com/kilianp07/ocppcore/core/monitoring"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/infra/logger"
)

// ErrConnClosed is returned when sending on a detached peer.
var ErrConnClosed = errors.New("mqtt: connection closed")

// ErrPeerAttached is returned when the peer is already attached through
// another transport.
var ErrPeerAttached = errors.New("mqtt: peer attached through another transport")

// Attacher registers peer connections, typically a *node.Node.
type Attacher interface {
	Local() model.NodeIdentity
	Attach(peer model.NodeIdentity, conn node.Conn, kind model.TransportKind) (*node.Link, error)
	Link(peer model.NodeIdentity) (*node.Link, bool)
}

// Bridge attaches the peers reachable through the broker to a node.
type Bridge struct {
	cfg   Config
	kind  model.TransportKind
	local model.NodeIdentity
	node  Attacher
	cli   pahoClient
	log   logger.Logger

	mu    sync.Mutex
	conns map[model.NodeIdentity]*peerConn
}

// NewBridge connects to the broker and subscribes to the local inbox.
func NewBridge(cfg Config, n Attacher) (*Bridge, error) {
	cfg.SetDefaults()
	kind, err := model.ParseTransportKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ocpp-" + string(n.Local())
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		cfg:   cfg,
		kind:  kind,
		local: n.Local(),
		node:  n,
		log:   logger.New("mqtt_bridge"),
		conns: make(map[model.NodeIdentity]*peerConn),
	}
	opts.OnConnect = func(c paho.Client) {
		b.log.Infof("MQTT connected, subscribing to %s", b.inbox())
		if token := c.Subscribe(b.inbox(), cfg.QoS, b.onFrame); token.Wait() && token.Error() != nil {
			b.log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		b.log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		b.log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	b.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	for _, p := range cfg.Peers {
		if _, err := b.conn(model.NodeIdentity(p)); err != nil {
			if errors.Is(err, ErrPeerAttached) {
				b.log.Warnf("peer %s: %v", p, err)
				continue
			}
			return nil, err
		}
	}
	return b, nil
}

func (b *Bridge) inbox() string {
	return fmt.Sprintf("%s/%s/in/+/+", b.cfg.TopicPrefix, b.local)
}

// Topic returns the topic a frame from sender to peer is published on.
func Topic(prefix string, peer, sender model.NodeIdentity, kind model.TransportKind) string {
	return fmt.Sprintf("%s/%s/in/%s/%s", prefix, peer, kind, sender)
}

// ParseTopic extracts the recipient, kind and sender of a frame topic.
func ParseTopic(prefix, topic string) (peer model.NodeIdentity, kind model.TransportKind, sender model.NodeIdentity, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", 0, "", fmt.Errorf("mqtt: topic %q outside prefix %q", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "in" || parts[0] == "" || parts[3] == "" {
		return "", 0, "", fmt.Errorf("mqtt: malformed frame topic %q", topic)
	}
	kind, err = model.ParseTransportKind(parts[2])
	if err != nil {
		return "", 0, "", err
	}
	return model.NodeIdentity(parts[0]), kind, model.NodeIdentity(parts[3]), nil
}

func (b *Bridge) onFrame(_ paho.Client, msg paho.Message) {
	_, kind, sender, err := ParseTopic(b.cfg.TopicPrefix, msg.Topic())
	if err != nil {
		b.log.Warnf("ignoring frame: %v", err)
		return
	}
	pc, err := b.conn(sender)
	if errors.Is(err, ErrPeerAttached) {
		b.log.Warnf("ignoring frame from %s: %v", sender, err)
		return
	}
	if err != nil {
		b.log.Errorf("attach %s: %v", sender, err)
		return
	}
	if err := pc.link.HandleFrame(context.Background(), msg.Payload(), kind); err != nil {
		b.log.Errorf("frame from %s: %v", sender, err)
	}
}

// conn returns the connection of peer, attaching it on first use. A peer
// whose live link belongs to another transport is left untouched.
func (b *Bridge) conn(peer model.NodeIdentity) (*peerConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pc, ok := b.conns[peer]; ok && !pc.closed.Load() {
		return pc, nil
	}
	if l, ok := b.node.Link(peer); ok {
		if _, own := l.Conn().(*peerConn); !own {
			return nil, fmt.Errorf("%w: %s via %s", ErrPeerAttached, peer, l.Conn().Descriptor())
		}
	}
	pc := &peerConn{bridge: b, peer: peer}
	l, err := b.node.Attach(peer, pc, b.kind)
	if err != nil {
		return nil, err
	}
	pc.link = l
	b.conns[peer] = pc
	return pc, nil
}

func (b *Bridge) publish(ctx context.Context, peer model.NodeIdentity, frame []byte, kind model.TransportKind) error {
	topic := Topic(b.cfg.TopicPrefix, peer, b.local, kind)
	backoff := time.Duration(b.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		token := b.cli.Publish(topic, b.cfg.QoS, false, frame)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		b.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == b.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "peer": string(peer), "topic": topic})
	return fmt.Errorf("mqtt: publish to %s: %w", topic, publishErr)
}

// Close disconnects from the broker. Attached links see their connection
// closed on the next send.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conns := make([]*peerConn, 0, len(b.conns))
	for _, pc := range b.conns {
		conns = append(conns, pc)
	}
	b.mu.Unlock()
	for _, pc := range conns {
		if pc.link != nil {
			_ = pc.link.Close()
		}
	}
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
	return nil
}

type peerConn struct {
	bridge *Bridge
	peer   model.NodeIdentity
	link   *node.Link
	closed atomic.Bool
}

func (c *peerConn) Send(ctx context.Context, frame []byte, kind model.TransportKind) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.bridge.publish(ctx, c.peer, frame, kind)
}

func (c *peerConn) Descriptor() string {
	return fmt.Sprintf("mqtt:%s/%s", c.bridge.cfg.Broker, c.peer)
}

func (c *peerConn) Close() error {
	c.closed.Store(true)
	return nil
}
