package clientcmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// NewSessionsCommand builds `mcptap sessions` with list/get/delete
// subcommands against the relay's admin API.
func NewSessionsCommand(apiURL func() string) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect relay sessions"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Sessions []struct {
					ID           string `json:"id"`
					CreatedAt    string `json:"created_at"`
					LastEventID  string `json:"last_event_id"`
					LastActivity string `json:"last_activity"`
					Idle         bool   `json:"idle"`
				} `json:"sessions"`
			}
			if err := getJSON(apiURL()+"/v1/sessions", &body); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range body.Sessions {
				state := "active"
				if s.Idle {
					state = "idle"
				}
				fmt.Fprintf(out, "%s\t%s\tcursor=%s\tlast_activity=%s\n",
					s.ID, state, orDash(s.LastEventID), orDash(s.LastActivity))
			}
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v map[string]any
			if err := getJSON(apiURL()+"/v1/sessions/"+args[0], &v); err != nil {
				return err
			}
			b, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, apiURL()+"/v1/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("delete failed: %s", resp.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}

	cmd.AddCommand(listCmd, getCmd, deleteCmd)
	return cmd
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
