package routing

import (
	"errors"
	"fmt"

	"github.com/kilianp07/ocppcore/core/model"
)

// ErrorKind classifies routing failures.
type ErrorKind int

const (
	LoopDetected ErrorKind = iota + 1
	TooManyHops
	Unreachable
)

func (k ErrorKind) String() string {
	switch k {
	case LoopDetected:
		return "LoopDetected"
	case TooManyHops:
		return "TooManyHops"
	case Unreachable:
		return "Unreachable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrLoopDetected = errors.New("routing: loop detected")
	ErrTooManyHops  = errors.New("routing: too many hops")
	ErrUnreachable  = errors.New("routing: destination unreachable")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case LoopDetected:
		return ErrLoopDetected
	case TooManyHops:
		return ErrTooManyHops
	case Unreachable:
		return ErrUnreachable
	}
	return nil
}

// Error is returned in a Reject decision. It matches the Err* sentinels with
// errors.Is.
type Error struct {
	Kind        ErrorKind
	Local       model.NodeIdentity
	Destination model.NodeIdentity
	Path        model.NetworkPath
}

func (e *Error) Error() string {
	switch e.Kind {
	case LoopDetected:
		return fmt.Sprintf("routing: loop detected at %s (path %s)", e.Local, e.Path)
	case TooManyHops:
		return fmt.Sprintf("routing: path %s exceeds hop limit at %s", e.Path, e.Local)
	case Unreachable:
		return fmt.Sprintf("routing: no route from %s to %s", e.Local, e.Destination)
	default:
		return fmt.Sprintf("routing: %s", e.Kind)
	}
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// AsError unwraps err into a routing Error.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
