package model

import "strings"

// NodeIdentity identifies a charging station, a routing node or a management
// system endpoint.
type NodeIdentity string

// String implements fmt.Stringer.
func (n NodeIdentity) String() string { return string(n) }

// CorrelationID links a Call to its reply. It is unique among the sender's
// outstanding requests only.
type CorrelationID string

// String implements fmt.Stringer.
func (c CorrelationID) String() string { return string(c) }

// NetworkPath records every hop a message passed through, origin first.
type NetworkPath []NodeIdentity

// Contains reports whether id already appears on the path.
func (p NetworkPath) Contains(id NodeIdentity) bool {
	for _, hop := range p {
		if hop == id {
			return true
		}
	}
	return false
}

// Last returns the most recent hop.
func (p NetworkPath) Last() (NodeIdentity, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[len(p)-1], true
}

// First returns the origin of the path.
func (p NetworkPath) First() (NodeIdentity, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}

// Append returns a new path with id added. The receiver is never modified so
// paths can be shared between goroutines.
func (p NetworkPath) Append(id NodeIdentity) NetworkPath {
	out := make(NetworkPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}

// Peel splits off the last hop, returning it together with the remaining path.
func (p NetworkPath) Peel() (NodeIdentity, NetworkPath, bool) {
	if len(p) == 0 {
		return "", nil, false
	}
	hop := p[len(p)-1]
	if len(p) == 1 {
		return hop, nil, true
	}
	return hop, p[:len(p)-1].Clone(), true
}

// Clone returns an independent copy; the empty path clones to nil.
func (p NetworkPath) Clone() NetworkPath {
	if len(p) == 0 {
		return nil
	}
	out := make(NetworkPath, len(p))
	copy(out, p)
	return out
}

// Strings converts the path for serialization.
func (p NetworkPath) Strings() []string {
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	for i, hop := range p {
		out[i] = string(hop)
	}
	return out
}

// PathFromStrings is the inverse of Strings.
func PathFromStrings(hops []string) NetworkPath {
	if len(hops) == 0 {
		return nil
	}
	out := make(NetworkPath, len(hops))
	for i, h := range hops {
		out[i] = NodeIdentity(h)
	}
	return out
}

func (p NetworkPath) String() string {
	return strings.Join(p.Strings(), " > ")
}
