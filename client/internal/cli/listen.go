package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaystack/relaystack/client/internal/relayclient"
	"github.com/relaystack/relaystack/pkg/events"
)

// ListenOptions holds flags for the listen command.
type ListenOptions struct {
	*RootOptions
	URL      string
	Identity string
}

// NewListenCommand creates the listen command.
func NewListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Bind an identity and print routed messages",
		Long: `Connect to relay-server, bind an identity and print every event.

The connection is re-established with exponential backoff when it drops, and
the identity is bound again after each reconnect.

Example:
  relay-client listen --url ws://localhost:3000/socket --identity abcd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return listen(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:3000/socket", "relay WebSocket endpoint")
	cmd.Flags().StringVar(&opts.Identity, "identity", "abcd", "identity to bind")

	return cmd
}

func listen(ctx context.Context, opts *ListenOptions, out io.Writer) error {
	client := relayclient.New(relayclient.Options{
		URL:    opts.URL,
		Logger: opts.logger(),
	})
	return client.Run(ctx, opts.Identity, func(env events.Envelope) {
		fmt.Fprintln(out, formatEvent(env))
	})
}

// formatEvent renders an event as "<event> <data>", unquoting string data.
func formatEvent(env events.Envelope) string {
	var text string
	if err := json.Unmarshal(env.Data, &text); err == nil {
		return env.Event + " " + text
	}
	return env.Event + " " + string(env.Data)
}
