package correlation

import "errors"

var (
	// ErrTimeout resolves a request whose deadline passed without a reply.
	ErrTimeout = errors.New("correlation: request timed out")
	// ErrCancelled resolves a request abandoned by its caller or by table teardown.
	ErrCancelled = errors.New("correlation: request cancelled")
	// ErrCallError is wrapped when the peer answered with a CallError.
	ErrCallError = errors.New("correlation: peer returned CallError")
	// ErrTableFull signals resource exhaustion; the connection owner decides
	// whether to tear the connection down.
	ErrTableFull = errors.New("correlation: table full")
	// ErrUnknownCorrelation reports a reply nobody is waiting for.
	ErrUnknownCorrelation = errors.New("correlation: duplicate or unknown correlation id")
	// ErrDuplicateID is returned when a caller supplied id is already pending.
	ErrDuplicateID = errors.New("correlation: id already pending")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("correlation: table closed")
	// ErrNotACall is returned when SendMessage is given a reply.
	ErrNotACall = errors.New("correlation: message is not a Call")
)
