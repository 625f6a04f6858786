package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ocppcore/core/codec"
	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/infra/auth"
)

func heartbeatNode(t *testing.T, local model.NodeIdentity) *node.Node {
	t.Helper()
	reg := dispatch.NewRegistry()
	require.NoError(t, reg.RegisterFunc("Heartbeat", "clock", func(_ context.Context, call model.Message) (*model.Message, error) {
		m := model.NewCallResult(call, []byte(`{"currentTime":"2024-01-01T00:00:00Z"}`))
		return &m, nil
	}))
	n := node.New(local, dispatch.NewEngine(reg))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func startServer(t *testing.T, cfg Config, n *node.Node) *httptest.Server {
	t.Helper()
	s, err := NewServer(cfg, n)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestServerAnswersTextFrame(t *testing.T) {
	csms := heartbeatNode(t, "CSMS")
	srv := startServer(t, Config{}, csms)

	d := ws.Dialer{Subprotocols: []string{"ocpp1.6"}}
	c, _, err := d.Dial(wsURL(srv, "/ocpp/CP-1"), nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "ocpp1.6", c.Subprotocol())

	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte(`[2,"h1","Heartbeat",{}]`)))
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, mt)
	assert.JSONEq(t, `[3,"h1",{"currentTime":"2024-01-01T00:00:00Z"}]`, string(data))

	_, ok := csms.Link("CP-1")
	assert.True(t, ok)
}

func TestServerBinaryFrames(t *testing.T) {
	csms := heartbeatNode(t, "CSMS")
	srv := startServer(t, Config{Kind: "binary"}, csms)

	c, _, err := ws.DefaultDialer.Dial(wsURL(srv, "/ocpp/CP-2"), nil)
	require.NoError(t, err)
	defer c.Close()

	cd := codec.New()
	frame, err := cd.Encode(model.NewCall("b1", "Heartbeat", []byte(`{}`)), model.TransportBinary)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(ws.BinaryMessage, frame))

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.BinaryMessage, mt)
	reply, err := cd.Decode(data, model.TransportBinary)
	require.NoError(t, err)
	assert.Equal(t, model.TypeCallResult, reply.Type)
	assert.Equal(t, model.CorrelationID("b1"), reply.ID)
}

func TestServerRejectsMissingIdentityAndToken(t *testing.T) {
	csms := heartbeatNode(t, "CSMS")
	srv := startServer(t, Config{AuthToken: "s3cret"}, csms)

	_, resp, err := ws.DefaultDialer.Dial(wsURL(srv, "/ocpp/"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = ws.DefaultDialer.Dial(wsURL(srv, "/ocpp/CP-1"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h := http.Header{}
	h.Set("Authorization", "Bearer s3cret")
	c, _, err := ws.DefaultDialer.Dial(wsURL(srv, "/ocpp/CP-1"), h)
	require.NoError(t, err)
	_ = c.Close()
}

func TestClientUpstreamCall(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"s3cret","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokens.Close()

	csms := heartbeatNode(t, "CSMS")
	srv := startServer(t, Config{AuthToken: "s3cret"}, csms)

	cp := heartbeatNode(t, "CP-1")
	client, err := NewClient(Config{Upstream: UpstreamConfig{
		URL:      wsURL(srv, "/ocpp"),
		Identity: "CSMS",
		Auth:     auth.Conf{ClientID: "cp", TokenURL: tokens.URL},
	}}, cp)
	require.NoError(t, err)
	assert.Equal(t, wsURL(srv, "/ocpp/CP-1"), client.URL())

	link, err := client.Dial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.NodeIdentity("CSMS"), link.Peer())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := cp.Call(ctx, "CSMS", "Heartbeat", []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"currentTime":"2024-01-01T00:00:00Z"}`, string(reply.Payload))

	// the server side can call back down the same connection
	require.Eventually(t, func() bool { _, ok := csms.Link("CP-1"); return ok }, time.Second, 10*time.Millisecond)
	reply, err = csms.Call(ctx, "CP-1", "Heartbeat", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, model.TypeCallResult, reply.Type)
}

func TestClientRunStopsWithContext(t *testing.T) {
	csms := heartbeatNode(t, "CSMS")
	srv := startServer(t, Config{}, csms)
	cp := heartbeatNode(t, "CP-1")
	client, err := NewClient(Config{Upstream: UpstreamConfig{URL: wsURL(srv, "/ocpp/"), Identity: "CSMS", ReconnectMS: 10}}, cp)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	require.Eventually(t, func() bool { _, ok := cp.Link("CSMS"); return ok }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, model.TransportBinary, kindOf(ws.BinaryMessage, []byte{0x85}))
	assert.Equal(t, model.TransportSOAP, kindOf(ws.TextMessage, []byte("  <soap:Envelope/>")))
	assert.Equal(t, model.TransportJSON, kindOf(ws.TextMessage, []byte(`[2,"1","A",{}]`)))
}

func TestConfigValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "/ocpp/", c.Path)
	assert.NoError(t, c.Validate())

	c.Upstream.URL = "ws://parent"
	assert.Error(t, c.Validate())
	c.Upstream.Identity = "CSMS"
	assert.NoError(t, c.Validate())
	c.Kind = "yaml"
	assert.Error(t, c.Validate())
}
