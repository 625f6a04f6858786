// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation. Metrics sinks and handler plugins are both built
// this way.
//
// Example usage:
//
//	reg := factory.NewRegistry[dispatch.Handler]()
//	reg.MustRegister("accept", func(conf map[string]any) (dispatch.Handler, error) {
//	    var c struct{ Payload string `json:"payload"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return acceptHandler(c.Payload), nil
//	})
//	h, err := reg.Create(factory.ModuleConfig{Type: "accept", Conf: map[string]any{"payload": `{"status":"Accepted"}`}})
package factory
