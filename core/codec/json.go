package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kilianp07/ocppcore/core/model"
)

type jsonElements []json.RawMessage

func (e jsonElements) Len() int { return len(e) }

func (e jsonElements) Int(i int) (int, error) {
	var v int
	err := json.Unmarshal(e[i], &v)
	return v, err
}

func (e jsonElements) String(i int) (string, error) {
	var v string
	err := json.Unmarshal(e[i], &v)
	return v, err
}

func (e jsonElements) Payload(i int) ([]byte, error) {
	if model.IsEmptyObject(e[i]) {
		return model.OrEmpty(nil), nil
	}
	return bytes.Clone(e[i]), nil
}

func (e jsonElements) Details(i int) ([]byte, error) { return e.Payload(i) }

func (e jsonElements) Routing(i int) (routingHeader, error) {
	var h routingHeader
	err := json.Unmarshal(e[i], &h)
	return h, err
}

func (c *Codec) decodeJSON(raw []byte) (model.Message, *DecodeError) {
	var elems jsonElements
	if err := json.Unmarshal(raw, &elems); err != nil {
		return model.Message{}, decodeErr(model.ErrFormationViolation, "frame is not a JSON array", err)
	}
	return c.decodeElements(elems)
}

func (c *Codec) encodeJSON(m model.Message) ([]byte, error) {
	elems := frameElements(m, func(b []byte) any { return json.RawMessage(model.OrEmpty(b)) })
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
