// Package app wires configuration into a running protocol node: codec,
// routes, handlers, transports, sinks and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	eventsapi "github.com/kilianp07/ocppcore/api/events"
	nodesapi "github.com/kilianp07/ocppcore/api/nodes"
	"github.com/kilianp07/ocppcore/app/plugins"
	"github.com/kilianp07/ocppcore/config"
	"github.com/kilianp07/ocppcore/core/codec"
	"github.com/kilianp07/ocppcore/core/dispatch"
	coremetrics "github.com/kilianp07/ocppcore/core/metrics"
	"github.com/kilianp07/ocppcore/core/model"
	coremon "github.com/kilianp07/ocppcore/core/monitoring"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/core/observe"
	"github.com/kilianp07/ocppcore/core/routing"
	"github.com/kilianp07/ocppcore/infra/eventlog"
	"github.com/kilianp07/ocppcore/infra/logger"
	"github.com/kilianp07/ocppcore/infra/metrics"
	"github.com/kilianp07/ocppcore/infra/monitoring"
	"github.com/kilianp07/ocppcore/infra/mqtt"
	"github.com/kilianp07/ocppcore/infra/websocket"
)

// Service owns the node and everything attached to it.
type Service struct {
	Node *node.Node

	cfg      *config.Config
	sink     coremetrics.MetricsSink
	observer *observe.Async
	store    eventlog.Store
	server   *websocket.Server
	upstream *websocket.Client
	bridge   *mqtt.Bridge
	log      logger.Logger
}

// New builds a Service from the configuration. Transports that connect
// eagerly, like the MQTT bridge, are started here.
func New(cfg *config.Config) (svc *Service, err error) {
	if !logger.SetLevel(cfg.Logging.Level) {
		return nil, fmt.Errorf("invalid log level %q", cfg.Logging.Level)
	}
	local := model.NodeIdentity(cfg.Node.Identity)
	s := &Service{cfg: cfg, log: logger.WithField(logger.New("service"), "node", cfg.Node.Identity)}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry, cfg.Node.Identity)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	observers := observe.Multi{coremetrics.NewObserver(s.sink, logger.New("metrics"))}
	if cfg.EventLog.Enabled {
		s.store, err = eventlog.Open(cfg.EventLog)
		if err != nil {
			return nil, fmt.Errorf("event log: %w", err)
		}
		observers = append(observers, eventlog.NewRecorder(s.store, logger.New("eventlog")))
	}
	s.observer = observe.NewAsync(observers, 0, logger.New("observer"))

	reg, err := buildRegistry(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	engine := dispatch.NewEngine(reg,
		dispatch.WithTimeout(cfg.Dispatch.HandlerTimeout()),
		dispatch.WithLogger(logger.New("dispatch")),
		dispatch.WithObserver(s.observer),
		dispatch.WithMetrics(s.sink),
		dispatch.WithLocal(local),
	)
	s.Node = node.New(local, engine,
		node.WithCodec(buildCodec(cfg.Protocol)),
		node.WithRoutes(routing.NewStaticTable(cfg.Routing.Routes, cfg.Routing.Default)),
		node.WithMaxHops(cfg.Node.MaxHops),
		node.WithCallTimeout(cfg.Node.CallTimeout()),
		node.WithSweepInterval(cfg.Node.SweepInterval()),
		node.WithCapacity(cfg.Node.Capacity),
		node.WithLogger(logger.New("node")),
		node.WithObserver(s.observer),
		node.WithMetrics(s.sink),
	)

	if cfg.WebSocket.Enabled {
		if s.server, err = websocket.NewServer(cfg.WebSocket, s.Node); err != nil {
			return nil, fmt.Errorf("websocket server: %w", err)
		}
	}
	if cfg.WebSocket.Upstream.Enabled() {
		if s.upstream, err = websocket.NewClient(cfg.WebSocket, s.Node); err != nil {
			return nil, fmt.Errorf("websocket upstream: %w", err)
		}
	}
	if cfg.MQTT.Enabled {
		if s.bridge, err = mqtt.NewBridge(cfg.MQTT, s.Node); err != nil {
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
	}
	return s, nil
}

func buildRegistry(cfg config.DispatchConfig) (*dispatch.Registry, error) {
	reg := dispatch.NewRegistry()
	for action, hs := range cfg.Handlers {
		for i, hc := range hs {
			h, err := plugins.NewHandler(hc.Module())
			if err != nil {
				return nil, fmt.Errorf("handler %s[%d]: %w", action, i, err)
			}
			name := hc.Name
			if name == "" {
				name = fmt.Sprintf("%s#%d", hc.Type, i+1)
			}
			if err := reg.Register(action, name, h); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

func buildCodec(cfg config.ProtocolConfig) *codec.Codec {
	opts := []codec.Option{
		codec.WithMaxFrameBytes(cfg.MaxFrameBytes),
		codec.WithPayloadNamespace(cfg.PayloadNamespace),
	}
	switch {
	case cfg.AnyAction:
		opts = append(opts, codec.WithAnyAction())
	case len(cfg.Actions) > 0:
		opts = append(opts, codec.WithActions(cfg.Actions...))
	}
	return codec.New(opts...)
}

// APIHandler serves the HTTP API.
func (s *Service) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/peers", nodesapi.NewPeersHandler(s.Node, s.cfg.API.Token, nodesapi.WithLogger(s.log)))
	mux.Handle("/api/calls", nodesapi.NewCallHandler(s.Node, s.cfg.API.Token, nodesapi.WithLogger(s.log)))
	if s.store != nil {
		mux.Handle("/api/events", eventsapi.NewHandler(s.store, s.cfg.API.Token))
	}
	return mux
}

// Run starts the listeners and blocks until ctx is cancelled or one of them
// fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.server != nil {
		g.Go(func() error { return s.server.ListenAndServe(ctx) })
	}
	if s.upstream != nil {
		g.Go(func() error { return s.upstream.Run(ctx) })
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, addr) })
	}
	if addr := s.cfg.API.Addr; addr != "" {
		g.Go(func() error { return serveHTTP(ctx, addr, s.APIHandler(), s.log) })
	}
	s.log.Infof("node %s running", s.Node.Local())
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving API on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close detaches every peer, drains the observers and releases the stores.
func (s *Service) Close() error {
	var err error
	if s.bridge != nil {
		err = multierr.Append(err, s.bridge.Close())
	}
	if s.Node != nil {
		err = multierr.Append(err, s.Node.Close())
	}
	if s.observer != nil {
		err = multierr.Append(err, s.observer.Close())
	}
	if s.store != nil {
		err = multierr.Append(err, s.store.Close())
	}
	if c, ok := s.sink.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	coremon.Flush(2 * time.Second)
	return err
}
