// Package codec converts wire frames into transport-neutral messages and back.
//
// Three transport kinds are supported:
//   - model.TransportJSON: OCPP-J compact frames as JSON text
//   - model.TransportBinary: the same compact frames encoded as CBOR, payload as a byte string
//   - model.TransportSOAP: the legacy SOAP 1.2 document envelope with WS-Addressing headers
//
// Payloads are never interpreted, only the frame structure is.
package codec

import (
	"fmt"
	"regexp"

	"github.com/kilianp07/ocppcore/core/model"
)

// DefaultMaxFrameBytes bounds the size of a single inbound frame.
const DefaultMaxFrameBytes = 1 << 20

// DefaultPayloadNamespace is used for SOAP body elements.
const DefaultPayloadNamespace = "urn:ocpp:payload"

var actionPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// Codec encodes and decodes frames. It is safe for concurrent use once built.
type Codec struct {
	actions   map[string]struct{}
	maxFrame  int
	payloadNS string
}

// Option configures a Codec.
type Option func(*Codec)

// WithActions restricts accepted Call actions to names.
func WithActions(names ...string) Option {
	return func(c *Codec) {
		c.actions = make(map[string]struct{}, len(names))
		for _, n := range names {
			c.actions[n] = struct{}{}
		}
	}
}

// WithAnyAction only checks that action names are well formed.
func WithAnyAction() Option {
	return func(c *Codec) { c.actions = nil }
}

// WithMaxFrameBytes overrides DefaultMaxFrameBytes. Non-positive values are ignored.
func WithMaxFrameBytes(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// WithPayloadNamespace sets the XML namespace of SOAP body elements.
func WithPayloadNamespace(ns string) Option {
	return func(c *Codec) {
		if ns != "" {
			c.payloadNS = ns
		}
	}
}

// New returns a Codec accepting the OCPP 1.6 and 2.0.1 action names unless
// configured otherwise.
func New(opts ...Option) *Codec {
	c := &Codec{maxFrame: DefaultMaxFrameBytes, payloadNS: DefaultPayloadNamespace}
	WithActions(DefaultActions()...)(c)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Decode parses raw according to kind. Failures are always *DecodeError.
func (c *Codec) Decode(raw []byte, kind model.TransportKind) (model.Message, error) {
	if len(raw) > c.maxFrame {
		return model.Message{}, decodeErr(model.ErrFormationViolation,
			fmt.Sprintf("frame of %d bytes exceeds limit of %d", len(raw), c.maxFrame), nil)
	}
	var (
		msg model.Message
		err *DecodeError
	)
	switch kind {
	case model.TransportJSON:
		msg, err = c.decodeJSON(raw)
	case model.TransportBinary:
		msg, err = c.decodeBinary(raw)
	case model.TransportSOAP:
		msg, err = c.decodeSOAP(raw)
	default:
		return model.Message{}, decodeErr(model.ErrRPCFrameworkError, kind.String(), ErrUnsupportedKind)
	}
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// Encode serializes m according to kind.
func (c *Codec) Encode(m model.Message, kind model.TransportKind) ([]byte, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	switch kind {
	case model.TransportJSON:
		return c.encodeJSON(m)
	case model.TransportBinary:
		return c.encodeBinary(m)
	case model.TransportSOAP:
		return c.encodeSOAP(m)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

// KnownAction reports whether action passes the codec's action checks.
func (c *Codec) KnownAction(action string) bool {
	return c.checkAction(action) == nil
}

func (c *Codec) checkAction(action string) *DecodeError {
	if !actionPattern.MatchString(action) {
		return &DecodeError{Code: model.ErrFormationViolation, Reason: fmt.Sprintf("malformed action %q", action), Action: action}
	}
	if c.actions == nil {
		return nil
	}
	if _, ok := c.actions[action]; !ok {
		return &DecodeError{Code: model.ErrNotImplemented, Reason: fmt.Sprintf("unknown action %q", action), Action: action}
	}
	return nil
}

func validate(m model.Message) error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: type %d", ErrInvalidMessage, int(m.Type))
	}
	if m.ID == "" {
		return fmt.Errorf("%w: empty correlation id", ErrInvalidMessage)
	}
	if m.Type == model.TypeCall && !actionPattern.MatchString(m.Action) {
		return fmt.Errorf("%w: malformed action %q", ErrInvalidMessage, m.Action)
	}
	if m.Type == model.TypeCallError && m.ErrorCode == "" {
		return fmt.Errorf("%w: call error without code", ErrInvalidMessage)
	}
	return nil
}
