package model

import (
	"fmt"
	"strings"
)

// TransportKind selects the wire encoding of a frame.
type TransportKind int

const (
	// TransportJSON is the compact array frame carried as JSON text.
	TransportJSON TransportKind = iota
	// TransportBinary is the compact array frame carried as CBOR with an
	// opaque byte payload.
	TransportBinary
	// TransportSOAP is the legacy document envelope.
	TransportSOAP
)

// String returns a human-readable representation of the transport kind.
func (k TransportKind) String() string {
	switch k {
	case TransportJSON:
		return "json"
	case TransportBinary:
		return "binary"
	case TransportSOAP:
		return "soap"
	default:
		return "unknown"
	}
}

// ParseTransportKind is the inverse of String.
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return TransportJSON, nil
	case "binary", "cbor":
		return TransportBinary, nil
	case "soap", "xml":
		return TransportSOAP, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q", s)
	}
}

// ErrorCode is an OCPP-J RPC framework error code.
type ErrorCode string

const (
	ErrNotImplemented               ErrorCode = "NotImplemented"
	ErrNotSupported                 ErrorCode = "NotSupported"
	ErrInternalError                ErrorCode = "InternalError"
	ErrProtocolError                ErrorCode = "ProtocolError"
	ErrSecurityError                ErrorCode = "SecurityError"
	ErrFormationViolation           ErrorCode = "FormationViolation"
	ErrPropertyConstraintViolation  ErrorCode = "PropertyConstraintViolation"
	ErrOccurenceConstraintViolation ErrorCode = "OccurenceConstraintViolation"
	ErrTypeConstraintViolation      ErrorCode = "TypeConstraintViolation"
	ErrGenericError                 ErrorCode = "GenericError"
	ErrRPCFrameworkError            ErrorCode = "RpcFrameworkError"
	ErrMessageTypeNotSupported      ErrorCode = "MessageTypeNotSupported"
)

// Valid reports whether c is one of the known error codes.
func (c ErrorCode) Valid() bool {
	switch c {
	case ErrNotImplemented, ErrNotSupported, ErrInternalError, ErrProtocolError,
		ErrSecurityError, ErrFormationViolation, ErrPropertyConstraintViolation,
		ErrOccurenceConstraintViolation, ErrTypeConstraintViolation, ErrGenericError,
		ErrRPCFrameworkError, ErrMessageTypeNotSupported:
		return true
	}
	return false
}
