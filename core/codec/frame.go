package codec

import (
	"fmt"

	"github.com/kilianp07/ocppcore/core/model"
)

// routingHeader is the optional trailing element of a compact frame. Frames
// without routing information are plain OCPP-J.
type routingHeader struct {
	Source      string   `json:"src,omitempty" cbor:"src,omitempty"`
	Destination string   `json:"dst,omitempty" cbor:"dst,omitempty"`
	Path        []string `json:"path,omitempty" cbor:"path,omitempty"`
}

func headerOf(m model.Message) *routingHeader {
	if m.Source == "" && m.Destination == "" && len(m.Path) == 0 {
		return nil
	}
	return &routingHeader{
		Source:      string(m.Source),
		Destination: string(m.Destination),
		Path:        m.Path.Strings(),
	}
}

func (h routingHeader) apply(m *model.Message) {
	m.Source = model.NodeIdentity(h.Source)
	m.Destination = model.NodeIdentity(h.Destination)
	m.Path = model.PathFromStrings(h.Path)
}

// elementReader gives uniform access to the elements of a decoded compact
// frame regardless of its text or binary encoding.
type elementReader interface {
	Len() int
	Int(i int) (int, error)
	String(i int) (string, error)
	Payload(i int) ([]byte, error)
	Details(i int) ([]byte, error)
	Routing(i int) (routingHeader, error)
}

// base element counts without the routing header
var frameLen = map[model.MessageType]int{
	model.TypeCall:       4,
	model.TypeCallResult: 3,
	model.TypeCallError:  5,
}

func (c *Codec) decodeElements(r elementReader) (model.Message, *DecodeError) {
	if r.Len() < 3 {
		return model.Message{}, decodeErr(model.ErrFormationViolation,
			fmt.Sprintf("frame has %d elements", r.Len()), nil)
	}
	tag, err := r.Int(0)
	if err != nil {
		return model.Message{}, decodeErr(model.ErrFormationViolation, "message type is not a number", err)
	}
	id, err := r.String(1)
	if err != nil {
		return model.Message{}, decodeErr(model.ErrProtocolError, "message id is not a string", err)
	}
	typ := model.MessageType(tag)
	fail := func(code model.ErrorCode, reason string, err error) (model.Message, *DecodeError) {
		return model.Message{}, &DecodeError{Code: code, Reason: reason, ID: model.CorrelationID(id), Type: typ, Err: err}
	}
	if id == "" {
		return fail(model.ErrProtocolError, "empty message id", nil)
	}
	want, ok := frameLen[typ]
	if !ok {
		return fail(model.ErrMessageTypeNotSupported, fmt.Sprintf("message type %d", tag), nil)
	}
	if r.Len() != want && r.Len() != want+1 {
		return fail(model.ErrFormationViolation, fmt.Sprintf("%s frame has %d elements", typ, r.Len()), nil)
	}

	msg := model.Message{Type: typ, ID: model.CorrelationID(id)}
	switch typ {
	case model.TypeCall:
		action, err := r.String(2)
		if err != nil {
			return fail(model.ErrFormationViolation, "action is not a string", err)
		}
		if de := c.checkAction(action); de != nil {
			de.ID, de.Type = msg.ID, typ
			return model.Message{}, de
		}
		msg.Action = action
		if msg.Payload, err = r.Payload(3); err != nil {
			return fail(model.ErrFormationViolation, "invalid payload", err)
		}
	case model.TypeCallResult:
		if msg.Payload, err = r.Payload(2); err != nil {
			return fail(model.ErrFormationViolation, "invalid payload", err)
		}
	case model.TypeCallError:
		code, err := r.String(2)
		if err != nil {
			return fail(model.ErrFormationViolation, "error code is not a string", err)
		}
		desc, err := r.String(3)
		if err != nil {
			return fail(model.ErrFormationViolation, "error description is not a string", err)
		}
		msg.ErrorCode = model.ErrorCode(code)
		msg.ErrorDescription = desc
		if msg.ErrorDetails, err = r.Details(4); err != nil {
			return fail(model.ErrFormationViolation, "invalid error details", err)
		}
	}
	if r.Len() == want+1 {
		h, err := r.Routing(want)
		if err != nil {
			return fail(model.ErrFormationViolation, "invalid routing header", err)
		}
		h.apply(&msg)
	}
	return msg, nil
}

// frameElements lays m out in compact frame order. wrap converts opaque bytes
// into the element representation of the target encoding.
func frameElements(m model.Message, wrap func([]byte) any) []any {
	var out []any
	switch m.Type {
	case model.TypeCall:
		out = []any{int(m.Type), string(m.ID), m.Action, wrap(m.Payload)}
	case model.TypeCallResult:
		out = []any{int(m.Type), string(m.ID), wrap(m.Payload)}
	case model.TypeCallError:
		out = []any{int(m.Type), string(m.ID), string(m.ErrorCode), m.ErrorDescription, wrap(m.ErrorDetails)}
	}
	if h := headerOf(m); h != nil {
		out = append(out, h)
	}
	return out
}
