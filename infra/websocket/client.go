package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/infra/auth"
	"github.com/kilianp07/ocppcore/infra/logger"
)

// Client maintains the upstream link of a node.
type Client struct {
	cfg    Config
	node   Attacher
	kind   model.TransportKind
	tokens *auth.ClientCred
	dialer *ws.Dialer
	log    logger.Logger
}

func NewClient(cfg Config, n Attacher) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Upstream.Enabled() {
		return nil, fmt.Errorf("websocket: no upstream configured")
	}
	kind, _ := model.ParseTransportKind(cfg.Upstream.Kind)
	c := &Client{
		cfg:  cfg,
		node: n,
		kind: kind,
		dialer: &ws.Dialer{
			Subprotocols:     Subprotocols,
			HandshakeTimeout: 10 * time.Second,
		},
		log: logger.New("websocket_client"),
	}
	if cfg.Upstream.Auth.Enabled() {
		c.tokens = auth.NewClientCred(cfg.Upstream.Auth)
	}
	return c, nil
}

// URL is the endpoint the node dials, the upstream URL suffixed with the
// local identity.
func (c *Client) URL() string {
	return strings.TrimRight(c.cfg.Upstream.URL, "/") + "/" + string(c.node.Local())
}

// Dial connects once and attaches the upstream. Frames are read in the
// background until the connection fails.
func (c *Client) Dial(ctx context.Context) (*node.Link, error) {
	conn, err := c.dial(ctx, false)
	var herr *handshakeError
	if errors.As(err, &herr) && herr.status == http.StatusUnauthorized && c.tokens != nil {
		conn, err = c.dial(ctx, true)
	}
	if err != nil {
		return nil, err
	}
	link, err := c.node.Attach(model.NodeIdentity(c.cfg.Upstream.Identity), conn, c.kind)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	go serve(conn, link, c.cfg.MaxFrameBytes, time.Duration(c.cfg.PingIntervalSec)*time.Second, c.log)
	return link, nil
}

type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("websocket: handshake status %d: %v", e.status, e.err)
}

func (e *handshakeError) Unwrap() error { return e.err }

func (c *Client) dial(ctx context.Context, refresh bool) (*Conn, error) {
	header := http.Header{}
	if c.tokens != nil {
		var (
			tok string
			err error
		)
		if refresh {
			tok, err = c.tokens.ForceRefresh(ctx)
		} else {
			tok, err = c.tokens.Token(ctx)
		}
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+tok)
	}
	wc, resp, err := c.dialer.DialContext(ctx, c.URL(), header)
	if err != nil {
		if resp != nil {
			return nil, &handshakeError{status: resp.StatusCode, err: err}
		}
		return nil, fmt.Errorf("websocket: dial %s: %w", c.URL(), err)
	}
	return newConn(wc, "ws:"+c.URL(), time.Duration(c.cfg.WriteTimeoutMS)*time.Millisecond), nil
}

// Run keeps the upstream attached, redialing after failures, until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) error {
	wait := time.Duration(c.cfg.Upstream.ReconnectMS) * time.Millisecond
	for {
		link, err := c.Dial(ctx)
		if err != nil {
			if errors.Is(err, node.ErrNodeClosed) {
				return nil
			}
			c.log.Warnf("upstream %s: %v", c.URL(), err)
		} else {
			c.log.Infof("upstream %s attached", c.cfg.Upstream.Identity)
			select {
			case <-ctx.Done():
				_ = link.Close()
				return nil
			case <-link.Context().Done():
				c.log.Warnf("upstream %s lost", c.cfg.Upstream.Identity)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
