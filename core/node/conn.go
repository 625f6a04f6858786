package node

import (
	"context"
	"errors"

	"github.com/kilianp07/ocppcore/core/model"
)

var (
	// ErrLinkClosed cancels the requests of a link that went away.
	ErrLinkClosed = errors.New("node: link closed")
	// ErrLinkReplaced cancels the requests of a link superseded by a new
	// connection of the same peer.
	ErrLinkReplaced = errors.New("node: link replaced by a new connection")
	// ErrNodeClosed is returned once Close has been called.
	ErrNodeClosed = errors.New("node: closed")
	// ErrNoLink is returned when a next hop has no attached connection.
	ErrNoLink = errors.New("node: no link to next hop")
)

// Conn is one established connection to a peer. Transports implement it and
// feed received frames into Link.HandleFrame.
type Conn interface {
	// Send writes one frame. Implementations must be safe for concurrent use.
	Send(ctx context.Context, frame []byte, kind model.TransportKind) error
	// Descriptor identifies the connection in logs and events, e.g. the
	// remote address.
	Descriptor() string
	Close() error
}
