package scenarios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/ocppcore/app/plugins"
	"github.com/kilianp07/ocppcore/core/correlation"
	"github.com/kilianp07/ocppcore/core/dispatch"
	"github.com/kilianp07/ocppcore/core/factory"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/core/routing"
)

// pipe is one direction of an in-memory link. Frames are handed to the
// remote link synchronously.
type pipe struct {
	desc   string
	remote *node.Link
}

func (p *pipe) Send(ctx context.Context, frame []byte, kind model.TransportKind) error {
	if p.remote == nil {
		return node.ErrLinkClosed
	}
	return p.remote.HandleFrame(ctx, frame, kind)
}

func (p *pipe) Descriptor() string { return p.desc }
func (p *pipe) Close() error       { return nil }

// Build creates the nodes and links of sc.
func Build(sc *Scenario) (map[string]*node.Node, error) {
	nodes := make(map[string]*node.Node, len(sc.Nodes))
	for _, def := range sc.Nodes {
		reg := dispatch.NewRegistry()
		for action, types := range def.Handlers {
			for _, typ := range types {
				h, err := plugins.NewHandler(factory.ModuleConfig{Type: typ})
				if err != nil {
					return nil, fmt.Errorf("node %s: %w", def.ID, err)
				}
				if err := reg.Register(action, typ, h); err != nil {
					return nil, err
				}
			}
		}
		nodes[def.ID] = node.New(model.NodeIdentity(def.ID), dispatch.NewEngine(reg),
			node.WithRoutes(routing.NewStaticTable(def.Routes, def.DefaultRoute)),
			node.WithMaxHops(def.MaxHops),
			node.WithCallTimeout(2*time.Second),
		)
	}
	for _, l := range sc.Links {
		kind, err := model.ParseTransportKind(l.Kind)
		if err != nil {
			return nil, err
		}
		ab := &pipe{desc: "pipe:" + l.A + ">" + l.B}
		ba := &pipe{desc: "pipe:" + l.B + ">" + l.A}
		la, err := nodes[l.A].Attach(model.NodeIdentity(l.B), ab, kind)
		if err != nil {
			return nil, err
		}
		lb, err := nodes[l.B].Attach(model.NodeIdentity(l.A), ba, kind)
		if err != nil {
			return nil, err
		}
		ab.remote, ba.remote = lb, la
	}
	return nodes, nil
}

// RunScenario executes every call of sc in order and checks its outcome.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	nodes, err := Build(sc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() {
		for _, n := range nodes {
			_ = n.Close()
		}
	}()

	for i, c := range sc.Calls {
		payload := c.Payload
		if payload == "" {
			payload = "{}"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		reply, err := nodes[c.From].Call(ctx, model.NodeIdentity(c.To), c.Action, []byte(payload))
		cancel()
		if msg := check(c.Expect, reply, err); msg != "" {
			t.Errorf("call %d %s %s->%s: %s", i, c.Action, c.From, c.To, msg)
		}
	}
}

func check(want Expect, reply model.Message, err error) string {
	if want.Type == "error" {
		if err == nil || errors.Is(err, correlation.ErrCallError) {
			return fmt.Sprintf("expected origination error, got %s", reply.Type)
		}
		if want.Error != "" && !strings.Contains(err.Error(), want.Error) {
			return fmt.Sprintf("error %q does not contain %q", err, want.Error)
		}
		return ""
	}
	if err != nil && !errors.Is(err, correlation.ErrCallError) {
		return fmt.Sprintf("unexpected error: %v", err)
	}
	if reply.Type.String() != want.Type {
		return fmt.Sprintf("expected %s, got %s %s", want.Type, reply.Type, reply.ErrorCode)
	}
	if want.ErrorCode != "" && string(reply.ErrorCode) != want.ErrorCode {
		return fmt.Sprintf("expected error code %s, got %s", want.ErrorCode, reply.ErrorCode)
	}
	if want.Payload != "" && !jsonEqual(want.Payload, reply.Payload) {
		return fmt.Sprintf("expected payload %s, got %s", want.Payload, reply.Payload)
	}
	return ""
}

func jsonEqual(a string, b []byte) bool {
	var va, vb any
	if json.Unmarshal([]byte(a), &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
