// Package websocket is the OCPP-J transport. Text frames carry the JSON
// compact form (or a SOAP envelope), binary frames carry the CBOR form.
package websocket

import (
	"bytes"
	"context"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
)

// Attacher registers peer connections, typically a *node.Node.
type Attacher interface {
	Local() model.NodeIdentity
	Attach(peer model.NodeIdentity, conn node.Conn, kind model.TransportKind) (*node.Link, error)
}

// Conn adapts a websocket connection to node.Conn. gorilla connections
// support one concurrent writer, so Send is serialized.
type Conn struct {
	ws           *ws.Conn
	desc         string
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(c *ws.Conn, desc string, writeTimeout time.Duration) *Conn {
	return &Conn{ws: c, desc: desc, writeTimeout: writeTimeout}
}

func (c *Conn) Send(ctx context.Context, frame []byte, kind model.TransportKind) error {
	mt := ws.TextMessage
	if kind == model.TransportBinary {
		mt = ws.BinaryMessage
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, frame)
}

func (c *Conn) Descriptor() string { return c.desc }

// Subprotocol returns the negotiated OCPP version.
func (c *Conn) Subprotocol() string { return c.ws.Subprotocol() }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
		_ = c.ws.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// kindOf maps a websocket message type to the frame encoding.
func kindOf(mt int, data []byte) model.TransportKind {
	if mt == ws.BinaryMessage {
		return model.TransportBinary
	}
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '<' {
		return model.TransportSOAP
	}
	return model.TransportJSON
}

// serve feeds frames to link until the connection fails, then closes the
// link. It blocks.
func serve(c *Conn, link *node.Link, maxFrame int64, ping time.Duration, log logger.Logger) {
	defer func() { _ = link.Close() }()
	if maxFrame > 0 {
		c.ws.SetReadLimit(maxFrame)
	}
	if ping > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(2 * ping))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(2 * ping))
		})
		go keepalive(c, link.Context(), ping, log)
	}
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) && link.Context().Err() == nil {
				log.Warnf("read from %s: %v", link.Peer(), err)
			}
			return
		}
		if err := link.HandleFrame(link.Context(), data, kindOf(mt, data)); err != nil {
			log.Errorf("frame from %s: %v", link.Peer(), err)
		}
	}
}

func keepalive(c *Conn, ctx context.Context, every time.Duration, log logger.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.ws.WriteControl(ws.PingMessage, nil, time.Now().Add(every)); err != nil {
				log.Debugf("ping %s: %v", c.desc, err)
				return
			}
		}
	}
}
