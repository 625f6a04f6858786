package dispatch

import "context"

type peerKey struct{}

// WithPeer attaches the descriptor of the connection a Call arrived on.
// Handlers can read it with PeerFromContext.
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey{}, peer)
}

// PeerFromContext returns the descriptor set by WithPeer, or "".
func PeerFromContext(ctx context.Context) string {
	p, _ := ctx.Value(peerKey{}).(string)
	return p
}
