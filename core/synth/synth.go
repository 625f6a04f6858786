// Package synth builds the CallErrors sent when no usable reply exists.
// Every function is pure: the same input always produces the same output.
package synth

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/ocppcore/core/codec"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/routing"
)

type failureDetails struct {
	Action  string `json:"action,omitempty"`
	Routing string `json:"routing,omitempty"`
	Node    string `json:"node,omitempty"`
}

func (d failureDetails) bytes() []byte {
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return b
}

// Fail answers call when no handler produced a reply.
func Fail(call model.Message) model.Message {
	return model.NewCallError(call, model.ErrInternalError,
		fmt.Sprintf("No response for action %s", call.Action),
		failureDetails{Action: call.Action}.bytes())
}

// FromDecodeError answers a frame the codec rejected. It returns false when
// the frame cannot be answered.
func FromDecodeError(de *codec.DecodeError) (model.Message, bool) {
	if de == nil || !de.Answerable() {
		return model.Message{}, false
	}
	var details []byte
	if de.Action != "" {
		details = failureDetails{Action: de.Action}.bytes()
	}
	return model.Message{
		Type:             model.TypeCallError,
		ID:               de.ID,
		Action:           de.Action,
		ErrorCode:        de.Code,
		ErrorDescription: de.Reason,
		ErrorDetails:     details,
	}, true
}

var routingCodes = map[routing.ErrorKind]model.ErrorCode{
	routing.LoopDetected: model.ErrProtocolError,
	routing.TooManyHops:  model.ErrProtocolError,
	routing.Unreachable:  model.ErrGenericError,
}

// FromRoutingError answers a Call the router rejected.
func FromRoutingError(call model.Message, err *routing.Error) model.Message {
	code, ok := routingCodes[err.Kind]
	if !ok {
		code = model.ErrInternalError
	}
	return model.NewCallError(call, code, err.Error(), failureDetails{
		Action:  call.Action,
		Routing: err.Kind.String(),
		Node:    string(err.Local),
	}.bytes())
}
