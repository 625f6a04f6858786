// Package scenarios runs message exchanges over small node topologies
// described in YAML files.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeDef declares one node, its static routes and the handler plugins of
// each action.
type NodeDef struct {
	ID           string              `yaml:"id"`
	Routes       map[string]string   `yaml:"routes,omitempty"`
	DefaultRoute string              `yaml:"default_route,omitempty"`
	MaxHops      int                 `yaml:"max_hops,omitempty"`
	Handlers     map[string][]string `yaml:"handlers,omitempty"`
}

// LinkDef connects two nodes. Kind is the encoding used in both directions.
type LinkDef struct {
	A    string `yaml:"a"`
	B    string `yaml:"b"`
	Kind string `yaml:"kind"`
}

// Expect describes the outcome of a call. Type is CallResult, CallError or
// error when origination itself fails.
type Expect struct {
	Type      string `yaml:"type"`
	ErrorCode string `yaml:"error_code,omitempty"`
	Payload   string `yaml:"payload,omitempty"`
	Error     string `yaml:"error,omitempty"`
}

type CallDef struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Action  string `yaml:"action"`
	Payload string `yaml:"payload,omitempty"`
	Expect  Expect `yaml:"expect"`
}

type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Nodes       []NodeDef `yaml:"nodes"`
	Links       []LinkDef `yaml:"links"`
	Calls       []CallDef `yaml:"calls"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

func (sc Scenario) validate() error {
	ids := make(map[string]bool, len(sc.Nodes))
	for _, n := range sc.Nodes {
		if n.ID == "" || ids[n.ID] {
			return fmt.Errorf("empty or duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}
	for _, l := range sc.Links {
		if !ids[l.A] || !ids[l.B] {
			return fmt.Errorf("link %s-%s references an unknown node", l.A, l.B)
		}
	}
	for _, c := range sc.Calls {
		if !ids[c.From] {
			return fmt.Errorf("call from unknown node %q", c.From)
		}
	}
	return nil
}
