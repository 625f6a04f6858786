// Package nodes exposes the local node over HTTP: its attached peers and
// Call origination.
package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/kilianp07/ocppcore/api/bearer"
	"github.com/kilianp07/ocppcore/core/correlation"
	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/core/routing"
)

// Node is the part of *node.Node the handlers use.
type Node interface {
	Local() model.NodeIdentity
	Peers() []model.NodeIdentity
	Call(ctx context.Context, destination model.NodeIdentity, action string, payload []byte) (model.Message, error)
}

// PeersResponse is returned by GET /api/peers.
type PeersResponse struct {
	Local string   `json:"local"`
	Peers []string `json:"peers"`
}

// CallRequest is the body of POST /api/calls.
type CallRequest struct {
	Destination string          `json:"destination"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload"`
	TimeoutMS   int             `json:"timeout_ms,omitempty"`
}

// CallResponse carries the reply of an originated Call. A payload that is
// not JSON (SOAP or CBOR peers) is returned as text when it is valid UTF-8
// and as base64 otherwise.
type CallResponse struct {
	Type               string          `json:"type"`
	ID                 string          `json:"id"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	PayloadText        string          `json:"payload_text,omitempty"`
	PayloadBase64      []byte          `json:"payload_base64,omitempty"`
	ErrorCode          string          `json:"error_code,omitempty"`
	ErrorDescription   string          `json:"error_description,omitempty"`
	ErrorDetails       json.RawMessage `json:"error_details,omitempty"`
	ErrorDetailsText   string          `json:"error_details_text,omitempty"`
	ErrorDetailsBase64 []byte          `json:"error_details_base64,omitempty"`
}

// Option configures the handlers.
type Option func(*options)

type options struct {
	log logger.Logger
}

// WithLogger sets the logger used for response encoding failures.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func apply(opts []Option) options {
	o := options{log: logger.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// splitBody places b in exactly one of the three response shapes.
func splitBody(b []byte) (raw json.RawMessage, text string, bin []byte) {
	switch {
	case len(b) == 0:
	case json.Valid(b):
		raw = json.RawMessage(b)
	case utf8.Valid(b):
		text = string(b)
	default:
		bin = b
	}
	return raw, text, bin
}

func newCallResponse(reply model.Message) CallResponse {
	resp := CallResponse{
		Type:             reply.Type.String(),
		ID:               string(reply.ID),
		ErrorCode:        string(reply.ErrorCode),
		ErrorDescription: reply.ErrorDescription,
	}
	resp.Payload, resp.PayloadText, resp.PayloadBase64 = splitBody(reply.Payload)
	resp.ErrorDetails, resp.ErrorDetailsText, resp.ErrorDetailsBase64 = splitBody(reply.ErrorDetails)
	return resp
}

func writeJSON(w http.ResponseWriter, log logger.Logger, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("encode response: %v", err)
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(b, '\n')); err != nil {
		log.Warnf("write response: %v", err)
	}
}

// NewPeersHandler serves GET /api/peers.
func NewPeersHandler(n Node, token string, opts ...Option) http.Handler {
	o := apply(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !bearer.Require(w, r, token) {
			return
		}
		resp := PeersResponse{Local: string(n.Local()), Peers: []string{}}
		for _, p := range n.Peers() {
			resp.Peers = append(resp.Peers, string(p))
		}
		sort.Strings(resp.Peers)
		writeJSON(w, o.log, resp)
	})
}

// NewCallHandler serves POST /api/calls. A CallError reply is a successful
// exchange and is returned with status 200; routing and timeout failures map
// to 502 and 504.
func NewCallHandler(n Node, token string, opts ...Option) http.Handler {
	o := apply(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !bearer.Require(w, r, token) {
			return
		}
		var req CallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Destination == "" || req.Action == "" {
			http.Error(w, "destination and action are required", http.StatusBadRequest)
			return
		}
		if len(req.Payload) == 0 {
			req.Payload = json.RawMessage(`{}`)
		}
		ctx := r.Context()
		if req.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		reply, err := n.Call(ctx, model.NodeIdentity(req.Destination), req.Action, req.Payload)
		if err != nil && !errors.Is(err, correlation.ErrCallError) {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		writeJSON(w, o.log, newCallResponse(reply))
	})
}

func statusOf(err error) int {
	var rerr *routing.Error
	switch {
	case errors.As(err, &rerr), errors.Is(err, node.ErrNoLink):
		return http.StatusBadGateway
	case errors.Is(err, correlation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
