package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kilianp07/ocppcore/core/model"
)

type cborElements []cbor.RawMessage

func (e cborElements) Len() int { return len(e) }

func (e cborElements) Int(i int) (int, error) {
	var v int
	err := cbor.Unmarshal(e[i], &v)
	return v, err
}

func (e cborElements) String(i int) (string, error) {
	var v string
	err := cbor.Unmarshal(e[i], &v)
	return v, err
}

func (e cborElements) Payload(i int) ([]byte, error) {
	var v []byte
	if err := cbor.Unmarshal(e[i], &v); err != nil {
		return nil, err
	}
	return model.OrEmpty(v), nil
}

func (e cborElements) Details(i int) ([]byte, error) { return e.Payload(i) }

func (e cborElements) Routing(i int) (routingHeader, error) {
	var h routingHeader
	err := cbor.Unmarshal(e[i], &h)
	return h, err
}

func (c *Codec) decodeBinary(raw []byte) (model.Message, *DecodeError) {
	var elems cborElements
	if err := cbor.Unmarshal(raw, &elems); err != nil {
		return model.Message{}, decodeErr(model.ErrFormationViolation, "frame is not a CBOR array", err)
	}
	return c.decodeElements(elems)
}

func (c *Codec) encodeBinary(m model.Message) ([]byte, error) {
	elems := frameElements(m, func(b []byte) any { return model.OrEmpty(b) })
	out, err := cbor.Marshal(elems)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return out, nil
}
