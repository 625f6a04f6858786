package websocket

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/infra/logger"
)

// Server accepts peers on <Path><identity> and attaches them to a node.
type Server struct {
	cfg      Config
	node     Attacher
	kind     model.TransportKind
	upgrader ws.Upgrader
	log      logger.Logger
}

func NewServer(cfg Config, n Attacher) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := model.ParseTransportKind(cfg.Kind)
	return &Server{
		cfg:  cfg,
		node: n,
		kind: kind,
		upgrader: ws.Upgrader{
			Subprotocols: Subprotocols,
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		log: logger.New("websocket_server"),
	}, nil
}

// Handler returns a mux serving the OCPP endpoint under the configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, s.cfg.Path)
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade %s from %s: %v", id, r.RemoteAddr, err)
		return
	}
	conn := newConn(c, "ws:"+r.RemoteAddr, time.Duration(s.cfg.WriteTimeoutMS)*time.Millisecond)
	link, err := s.node.Attach(model.NodeIdentity(id), conn, s.kind)
	if err != nil {
		s.log.Errorf("attach %s: %v", id, err)
		_ = conn.Close()
		return
	}
	s.log.Infof("peer %s connected from %s (subprotocol %q)", id, r.RemoteAddr, c.Subprotocol())
	serve(conn, link, s.cfg.MaxFrameBytes, time.Duration(s.cfg.PingIntervalSec)*time.Second, s.log)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(tok), []byte(s.cfg.AuthToken)) == 1
}

// ListenAndServe runs the listener until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("websocket server shutdown: %v", err)
		}
		cancel()
	}()
	s.log.Infof("accepting OCPP peers on %s%s", s.cfg.Listen, s.cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
