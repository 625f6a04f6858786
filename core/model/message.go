package model

import (
	"bytes"
	"fmt"
)

// MessageType is the OCPP-J message type tag. The numeric values are the ones
// written as the first element of compact frames.
type MessageType int

const (
	TypeCall       MessageType = 2
	TypeCallResult MessageType = 3
	TypeCallError  MessageType = 4
)

// String returns a human-readable representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeCall:
		return "Call"
	case TypeCallResult:
		return "CallResult"
	case TypeCallError:
		return "CallError"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Valid reports whether t is one of the three known tags.
func (t MessageType) Valid() bool {
	return t == TypeCall || t == TypeCallResult || t == TypeCallError
}

// Message is the transport-neutral representation of a decoded frame.
//
// Payload and ErrorDetails are opaque to the core: JSON text for compact JSON
// frames, an XML fragment for document envelopes and raw bytes for binary
// frames.
type Message struct {
	Type MessageType
	ID   CorrelationID
	// Action is required on Calls. Replies carry it when it is known locally
	// or when the transport transmits it.
	Action  string
	Payload []byte

	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     []byte

	Source      NodeIdentity
	Destination NodeIdentity
	Path        NetworkPath
}

const emptyObject = "{}"

// OrEmpty returns b, or the empty object when b has no content. Payloads and
// error details without content are always the empty object, never nil, in
// constructed and decoded messages.
func OrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte(emptyObject)
	}
	return b
}

// IsEmptyObject reports whether b is the empty object.
func IsEmptyObject(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte(emptyObject))
}

// NewCall builds a Call for the given action.
func NewCall(id CorrelationID, action string, payload []byte) Message {
	return Message{Type: TypeCall, ID: id, Action: action, Payload: OrEmpty(payload)}
}

// NewCallResult answers call with payload.
func NewCallResult(call Message, payload []byte) Message {
	return Message{Type: TypeCallResult, ID: call.ID, Action: call.Action, Payload: OrEmpty(payload)}
}

// NewCallError answers call with an RPC framework error.
func NewCallError(call Message, code ErrorCode, description string, details []byte) Message {
	return Message{
		Type:             TypeCallError,
		ID:               call.ID,
		Action:           call.Action,
		ErrorCode:        code,
		ErrorDescription: description,
		ErrorDetails:     OrEmpty(details),
	}
}

// IsCall reports whether m is a request.
func (m Message) IsCall() bool { return m.Type == TypeCall }

// IsReply reports whether m is a CallResult or a CallError.
func (m Message) IsReply() bool { return m.Type == TypeCallResult || m.Type == TypeCallError }

// IsEmpty reports whether m carries no usable answer. Only results can be
// empty: a CallResult without payload bytes, or a CallError without code.
func (m Message) IsEmpty() bool {
	switch m.Type {
	case TypeCallResult:
		return len(m.Payload) == 0
	case TypeCallError:
		return m.ErrorCode == ""
	default:
		return true
	}
}

func (m Message) String() string {
	switch m.Type {
	case TypeCall:
		return fmt.Sprintf("Call[%s %s]", m.ID, m.Action)
	case TypeCallError:
		return fmt.Sprintf("CallError[%s %s: %s]", m.ID, m.ErrorCode, m.ErrorDescription)
	default:
		return fmt.Sprintf("%s[%s]", m.Type, m.ID)
	}
}
