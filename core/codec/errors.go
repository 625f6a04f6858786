package codec

import (
	"errors"
	"fmt"

	"github.com/kilianp07/ocppcore/core/model"
)

var (
	// ErrUnsupportedKind is returned for transport kinds the codec does not know.
	ErrUnsupportedKind = errors.New("codec: unsupported transport kind")
	// ErrInvalidMessage is returned by Encode for messages that cannot be
	// represented on the wire.
	ErrInvalidMessage = errors.New("codec: invalid message")
)

// DecodeError describes a frame that could not be turned into a Message.
//
// ID and Type are filled in as far as the frame structure allowed extracting
// them, so that the caller can answer a broken Call with a CallError.
type DecodeError struct {
	Code   model.ErrorCode
	Reason string
	ID     model.CorrelationID
	Type   model.MessageType
	Action string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("codec: %s: %s", e.Code, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Answerable reports whether the peer expects a CallError for this frame.
// Replies are never answered; frames without an id cannot be correlated.
func (e *DecodeError) Answerable() bool {
	if e.ID == "" {
		return false
	}
	return e.Type == model.TypeCall || !e.Type.Valid()
}

// AsDecodeError unwraps err into a DecodeError.
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func decodeErr(code model.ErrorCode, reason string, err error) *DecodeError {
	return &DecodeError{Code: code, Reason: reason, Err: err}
}
