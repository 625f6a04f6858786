package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/ocppcore/config"
	coremon "github.com/kilianp07/ocppcore/core/monitoring"
)

// NewSentryMonitor initializes Sentry using the provided configuration and
// returns a Monitor implementation. Events are tagged with the node identity.
func NewSentryMonitor(cfg config.SentryConfig, node string) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       node,
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{hub: sentry.CurrentHub(), node: node}, nil
}

type sentryMonitor struct {
	hub  *sentry.Hub
	node string
}

func (s *sentryMonitor) withScope(tags map[string]string, fn func(hub *sentry.Hub)) {
	hub := s.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		if s.node != "" {
			scope.SetTag("node", s.node)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})
	fn(hub)
}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.withScope(tags, func(hub *sentry.Hub) { hub.CaptureException(err) })
}

func (s *sentryMonitor) CapturePanic(v any, tags map[string]string) {
	if v == nil {
		return
	}
	s.withScope(tags, func(hub *sentry.Hub) { hub.Recover(v) })
}

func (s *sentryMonitor) Recover() {
	if r := recover(); r != nil {
		s.hub.Recover(r)
		s.hub.Flush(2 * time.Second)
		panic(r)
	}
}

func (s *sentryMonitor) Flush(timeout time.Duration) { s.hub.Flush(timeout) }
