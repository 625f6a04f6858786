// Package plugins holds the Call handlers that can be selected per action
// from configuration.
package plugins

import (
	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/factory"
)

var handlers = factory.NewRegistry[dispatch.Handler]()

// RegisterHandler adds a handler factory identified by name.
func RegisterHandler(name string, f factory.Factory[dispatch.Handler]) error {
	return handlers.Register(name, f)
}

// NewHandler builds the handler described by cfg.
func NewHandler(cfg factory.ModuleConfig) (dispatch.Handler, error) {
	return handlers.Create(cfg)
}

// Names lists the registered handler types.
func Names() []string { return handlers.Names() }
