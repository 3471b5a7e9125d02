package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaystack/relaystack/client/internal/relayclient"
)

// DeliverOptions holds flags for the deliver command.
type DeliverOptions struct {
	*RootOptions
	API      string
	Identity string
	Message  string
	JSON     bool
	Timeout  time.Duration
}

// NewDeliverCommand creates the deliver command.
func NewDeliverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeliverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Route a message to an identity",
		Long: `Route a message to an identity through POST /api/v1/deliver.

Example:
  relay-client deliver --api http://localhost:3000 --identity abcd --message 你好
  relay-client deliver --identity abcd --json --message '{"text":"hi"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deliver(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.API, "api", "http://localhost:3000", "relay HTTP base URL")
	cmd.Flags().StringVar(&opts.Identity, "identity", "abcd", "target identity")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "你好", "message to deliver")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "send --message as raw JSON instead of a string")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

func deliver(cmd *cobra.Command, opts *DeliverOptions) error {
	var payload any = opts.Message
	if opts.JSON {
		if !json.Valid([]byte(opts.Message)) {
			return fmt.Errorf("invalid --message JSON")
		}
		payload = json.RawMessage(opts.Message)
	}

	hc := &http.Client{Timeout: opts.Timeout}
	res, err := relayclient.Deliver(cmd.Context(), hc, opts.API, opts.Identity, payload)
	if err != nil {
		return err
	}

	if res.ConnectionID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (connection %s)\n", res.Outcome, res.ConnectionID)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), res.Outcome)
	}
	if !res.Delivered() {
		return fmt.Errorf("message to %q not delivered: %s", opts.Identity, res.Outcome)
	}
	return nil
}
