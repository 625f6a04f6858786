package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ocppcore/core/correlation"
	"github.com/kilianp07/ocppcore/core/model"
	"github.com/kilianp07/ocppcore/core/node"
	"github.com/kilianp07/ocppcore/infra/auth"
	"github.com/kilianp07/ocppcore/infra/websocket"
)

type callOptions struct {
	url      string
	identity string
	upstream string
	dest     string
	kind     string
	timeout  time.Duration
	tokenURL string
	clientID string
	secret   string
}

var callOpts callOptions

var callCmd = &cobra.Command{
	Use:   "call ACTION [PAYLOAD]",
	Short: "Send one Call through a websocket endpoint and print the reply",
	Example: `  ocppcore call --url ws://localhost:8887/ocpp --as CP-1 --upstream CSMS Heartbeat
  ocppcore call --url ws://lc:8887/ocpp --as OPS --upstream LC-1 --dest CP-7 Reset '{"type":"Soft"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := "{}"
		if len(args) == 2 {
			payload = args[1]
		}
		return runCall(cmd.Context(), cmd.OutOrStdout(), callOpts, args[0], payload)
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&callOpts.url, "url", "ws://localhost:8887/ocpp", "endpoint URL without the identity suffix")
	f.StringVar(&callOpts.identity, "as", "ocppcore-cli", "identity presented to the endpoint")
	f.StringVar(&callOpts.upstream, "upstream", "CSMS", "identity of the node behind the endpoint")
	f.StringVar(&callOpts.dest, "dest", "", "final destination when it is not the upstream node")
	f.StringVar(&callOpts.kind, "kind", "json", "frame encoding: json or binary")
	f.DurationVar(&callOpts.timeout, "timeout", 30*time.Second, "reply timeout")
	f.StringVar(&callOpts.tokenURL, "token-url", "", "OAuth2 token endpoint")
	f.StringVar(&callOpts.clientID, "client-id", "", "OAuth2 client id")
	f.StringVar(&callOpts.secret, "client-secret", "", "OAuth2 client secret")
	rootCmd.AddCommand(callCmd)
}

func runCall(ctx context.Context, out io.Writer, o callOptions, action, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	n := node.New(model.NodeIdentity(o.identity), nil, node.WithCallTimeout(o.timeout))
	defer func() { _ = n.Close() }()

	client, err := websocket.NewClient(websocket.Config{Upstream: websocket.UpstreamConfig{
		URL:      o.url,
		Identity: o.upstream,
		Kind:     o.kind,
		Auth:     auth.Conf{ClientID: o.clientID, ClientSecret: o.secret, TokenURL: o.tokenURL},
	}}, n)
	if err != nil {
		return err
	}
	if _, err := client.Dial(ctx); err != nil {
		return err
	}

	dest := o.dest
	if dest == "" {
		dest = o.upstream
	}
	reply, err := n.Call(ctx, model.NodeIdentity(dest), action, []byte(payload))
	if err != nil && !errors.Is(err, correlation.ErrCallError) {
		return err
	}
	return printReply(out, reply)
}

func printReply(out io.Writer, reply model.Message) error {
	if reply.Type == model.TypeCallError {
		_, err := fmt.Fprintf(out, "%s: %s %s\n", reply.ErrorCode, reply.ErrorDescription, reply.ErrorDetails)
		return err
	}
	_, err := fmt.Fprintf(out, "%s\n", reply.Payload)
	return err
}
