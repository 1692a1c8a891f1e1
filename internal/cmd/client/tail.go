package clientcmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpserver "github.com/rzbill/mcptap/internal/server/http"
	"github.com/rzbill/mcptap/internal/sse"
	"github.com/rzbill/mcptap/internal/stream"
)

// NewTailCommand builds `mcptap tail`: follow a session's event stream from
// the relay, reconnecting with the same resume semantics the relay itself
// uses against its upstream.
func NewTailCommand(apiURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a session's event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			from, _ := cmd.Flags().GetString("from")
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			headers := http.Header{}
			headers.Set(httpserver.SessionHeader, sessionID)
			connector := sse.Connector(apiURL()+"/mcp/stream", sse.ClientOptions{Headers: headers})

			st := stream.NewStream(sessionID, connector, stream.StreamOptions{})
			defer st.Close()
			if from != "" {
				st.SeedCursor(from)
			}

			out := cmd.OutOrStdout()
			for {
				ev, err := st.Next(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					var term *stream.TerminalError
					if errors.As(err, &term) {
						fmt.Fprintf(out, "-- stream terminated: %s (resumable=%v)\n",
							term.Reason, term.Resumable())
						return nil
					}
					return err
				}
				if ev.ID != "" {
					fmt.Fprintf(out, "[%s] %s\n", ev.ID, ev.Data)
				} else {
					fmt.Fprintf(out, "%s\n", ev.Data)
				}
			}
		},
	}
	cmd.Flags().String("session", "", "Session id to follow")
	cmd.Flags().String("from", "", "Resume after this event id")
	return cmd
}
