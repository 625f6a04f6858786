package codec

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kilianp07/ocppcore/core/model"
)

const (
	nsSOAP    = "http://www.w3.org/2003/05/soap-envelope"
	nsWSA     = "http://www.w3.org/2005/08/addressing"
	nsRouting = "urn:ocpp:routing"

	suffixRequest  = "Request"
	suffixResponse = "Response"
	suffixFault    = "Fault"
)

type soapEnvelope struct {
	XMLName xml.Name   `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Header  soapHeader `xml:"http://www.w3.org/2003/05/soap-envelope Header"`
	Body    soapBody   `xml:"http://www.w3.org/2003/05/soap-envelope Body"`
}

type soapHeader struct {
	MessageID string       `xml:"http://www.w3.org/2005/08/addressing MessageID,omitempty"`
	RelatesTo string       `xml:"http://www.w3.org/2005/08/addressing RelatesTo,omitempty"`
	Action    string       `xml:"http://www.w3.org/2005/08/addressing Action"`
	From      *soapAddress `xml:"http://www.w3.org/2005/08/addressing From,omitempty"`
	To        string       `xml:"http://www.w3.org/2005/08/addressing To,omitempty"`
	Path      *soapPath    `xml:"urn:ocpp:routing NetworkPath,omitempty"`
}

type soapAddress struct {
	Address string `xml:"http://www.w3.org/2005/08/addressing Address"`
}

type soapPath struct {
	Hops []string `xml:"urn:ocpp:routing Hop"`
}

type soapBody struct {
	Fault   *soapFault   `xml:"http://www.w3.org/2003/05/soap-envelope Fault,omitempty"`
	Content *soapContent `xml:",any,omitempty"`
}

type soapContent struct {
	XMLName xml.Name
	Inner   []byte `xml:",innerxml"`
}

type soapFault struct {
	Code   soapFaultCode   `xml:"Code"`
	Reason soapFaultReason `xml:"Reason"`
	Detail *soapContent    `xml:"Detail,omitempty"`
}

type soapFaultCode struct {
	Value   string `xml:"Value"`
	Subcode struct {
		Value string `xml:"Value"`
	} `xml:"Subcode"`
}

type soapFaultReason struct {
	Text string `xml:"Text"`
}

func (c *Codec) encodeSOAP(m model.Message) ([]byte, error) {
	env := soapEnvelope{}
	h := &env.Header
	if m.Source != "" {
		h.From = &soapAddress{Address: string(m.Source)}
	}
	h.To = string(m.Destination)
	if len(m.Path) > 0 {
		h.Path = &soapPath{Hops: m.Path.Strings()}
	}

	switch m.Type {
	case model.TypeCall:
		h.MessageID = string(m.ID)
		h.Action = "/" + m.Action
		env.Body.Content = c.content(m.Action+suffixRequest, m.Payload)
	case model.TypeCallResult:
		h.RelatesTo = string(m.ID)
		h.Action = "/" + m.Action + suffixResponse
		env.Body.Content = c.content(m.Action+suffixResponse, m.Payload)
	case model.TypeCallError:
		h.RelatesTo = string(m.ID)
		h.Action = "/" + m.Action + suffixFault
		f := &soapFault{}
		f.Code.Value = "Receiver"
		f.Code.Subcode.Value = string(m.ErrorCode)
		f.Reason.Text = m.ErrorDescription
		if !isBlank(m.ErrorDetails) {
			f.Detail = &soapContent{XMLName: xml.Name{Space: nsSOAP, Local: "Detail"}, Inner: m.ErrorDetails}
		}
		env.Body.Fault = f
	}

	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return out, nil
}

// content wraps payload in its body element. The empty object is written as
// an empty element.
func (c *Codec) content(name string, payload []byte) *soapContent {
	if isBlank(payload) {
		payload = nil
	}
	return &soapContent{XMLName: xml.Name{Space: c.payloadNS, Local: name}, Inner: payload}
}

func isBlank(b []byte) bool {
	return len(b) == 0 || model.IsEmptyObject(b)
}

func (c *Codec) decodeSOAP(raw []byte) (model.Message, *DecodeError) {
	var env soapEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return model.Message{}, decodeErr(model.ErrFormationViolation, "invalid SOAP envelope", err)
	}
	h := env.Header
	msg := model.Message{Destination: model.NodeIdentity(strings.TrimSpace(h.To))}
	if h.From != nil {
		msg.Source = model.NodeIdentity(strings.TrimSpace(h.From.Address))
	}
	if h.Path != nil {
		msg.Path = model.PathFromStrings(h.Path.Hops)
	}
	action := strings.TrimPrefix(strings.TrimSpace(h.Action), "/")

	switch {
	case h.MessageID == "" && h.RelatesTo == "":
		return model.Message{}, decodeErr(model.ErrProtocolError, "envelope has neither MessageID nor RelatesTo", nil)
	case h.RelatesTo == "":
		msg.Type = model.TypeCall
		msg.ID = model.CorrelationID(strings.TrimSpace(h.MessageID))
		if de := c.checkAction(action); de != nil {
			de.ID, de.Type = msg.ID, msg.Type
			return model.Message{}, de
		}
		msg.Action = action
		payload, de := bodyPayload(env.Body, action+suffixRequest)
		if de != nil {
			de.ID, de.Type, de.Action = msg.ID, msg.Type, action
			return model.Message{}, de
		}
		msg.Payload = payload
	case env.Body.Fault != nil:
		f := env.Body.Fault
		msg.Type = model.TypeCallError
		msg.ID = model.CorrelationID(strings.TrimSpace(h.RelatesTo))
		msg.Action = strings.TrimSuffix(action, suffixFault)
		msg.ErrorCode = model.ErrorCode(strings.TrimSpace(f.Code.Subcode.Value))
		msg.ErrorDescription = f.Reason.Text
		msg.ErrorDetails = model.OrEmpty(nil)
		if f.Detail != nil {
			msg.ErrorDetails = model.OrEmpty(f.Detail.Inner)
		}
		if msg.ErrorCode == "" {
			return model.Message{}, &DecodeError{Code: model.ErrFormationViolation, Reason: "fault without subcode", ID: msg.ID, Type: msg.Type}
		}
	default:
		msg.Type = model.TypeCallResult
		msg.ID = model.CorrelationID(strings.TrimSpace(h.RelatesTo))
		msg.Action = strings.TrimSuffix(action, suffixResponse)
		payload, de := bodyPayload(env.Body, msg.Action+suffixResponse)
		if de != nil {
			de.ID, de.Type = msg.ID, msg.Type
			return model.Message{}, de
		}
		msg.Payload = payload
	}
	return msg, nil
}

func bodyPayload(body soapBody, element string) ([]byte, *DecodeError) {
	if body.Content == nil {
		return nil, decodeErr(model.ErrFormationViolation, "empty SOAP body", nil)
	}
	if body.Content.XMLName.Local != element {
		return nil, decodeErr(model.ErrFormationViolation,
			fmt.Sprintf("body element %q does not match %q", body.Content.XMLName.Local, element), nil)
	}
	return model.OrEmpty(body.Content.Inner), nil
}
