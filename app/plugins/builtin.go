package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/factory"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/infra/logger"
)

var now = time.Now

func init() {
	handlers.MustRegister("heartbeat", func(map[string]any) (dispatch.Handler, error) {
		return dispatch.HandlerFunc(heartbeat), nil
	})
	handlers.MustRegister("accept", newAccept)
	handlers.MustRegister("echo", func(map[string]any) (dispatch.Handler, error) {
		return dispatch.HandlerFunc(echo), nil
	})
	handlers.MustRegister("log", newLog)
	handlers.MustRegister("reject", newReject)
}

func heartbeat(_ context.Context, call model.Message) (*model.Message, error) {
	payload, err := json.Marshal(map[string]string{"currentTime": now().UTC().Format(time.RFC3339)})
	if err != nil {
		return nil, err
	}
	m := model.NewCallResult(call, payload)
	return &m, nil
}

func echo(_ context.Context, call model.Message) (*model.Message, error) {
	payload := call.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	m := model.NewCallResult(call, payload)
	return &m, nil
}

func newAccept(conf map[string]any) (dispatch.Handler, error) {
	var c struct {
		Payload map[string]any `json:"payload"`
	}
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.Payload == nil {
		c.Payload = map[string]any{"status": "Accepted"}
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("accept: payload: %w", err)
	}
	return dispatch.HandlerFunc(func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallResult(call, payload)
		return &m, nil
	}), nil
}

func newLog(conf map[string]any) (dispatch.Handler, error) {
	var c struct {
		Component string `json:"component"`
	}
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.Component == "" {
		c.Component = "call_log"
	}
	log := logger.New(c.Component)
	return dispatch.HandlerFunc(func(ctx context.Context, call model.Message) (*model.Message, error) {
		log.Debugw("call received", map[string]any{
			"peer":    dispatch.PeerFromContext(ctx),
			"id":      string(call.ID),
			"action":  call.Action,
			"source":  string(call.Source),
			"payload": string(call.Payload),
		})
		return nil, nil
	}), nil
}

func newReject(conf map[string]any) (dispatch.Handler, error) {
	var c struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	code := model.ErrorCode(c.Code)
	if code == "" {
		code = model.ErrNotSupported
	}
	if !code.Valid() {
		return nil, fmt.Errorf("reject: unknown error code %q", c.Code)
	}
	return dispatch.HandlerFunc(func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallError(call, code, c.Description, nil)
		return &m, nil
	}), nil
}
