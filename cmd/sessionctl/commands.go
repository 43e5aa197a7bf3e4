package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/internal/api"
	ws "github.com/satriahrh/parley/internal/websocket"
)

func newRootCmd() *cobra.Command {
	c := &client{http: http.DefaultClient}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Drive a parley interview session from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.server, "server", envOr("PARLEY_SERVER", "http://localhost:8080"), "parley server base URL")
	flags.StringVar(&c.token, "token", os.Getenv("PARLEY_TOKEN"), "bearer token from 'sessionctl token'")

	root.AddCommand(
		newTokenCmd(c),
		newStartCmd(c),
		newSimpleCmd(c, "connect", "Open the live connection and start streaming", http.MethodPost, "/api/v1/session/connect"),
		newSimpleCmd(c, "disconnect", "Close the connection without a report", http.MethodPost, "/api/v1/session/disconnect"),
		newSimpleCmd(c, "mic", "Toggle the microphone", http.MethodPost, "/api/v1/session/mic"),
		newSimpleCmd(c, "camera", "Toggle the camera", http.MethodPost, "/api/v1/session/camera"),
		newSimpleCmd(c, "screen", "Toggle screen sharing", http.MethodPost, "/api/v1/session/screen"),
		newSimpleCmd(c, "status", "Show the session status", http.MethodGet, "/api/v1/session/status"),
		newSayCmd(c),
		newVolumeCmd(c),
		newEndCmd(c),
		newReportsCmd(c),
		newWatchCmd(c),
	)
	return root
}

func newTokenCmd(c *client) *cobra.Command {
	var (
		clientID string
		secret   string
		scope    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Request a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.TokenResponse
			err := c.do(cmd.Context(), http.MethodPost, "/api/v1/auth/token", api.TokenRequest{
				ClientID: clientID,
				Secret:   secret,
				Scope:    scope,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&clientID, "client-id", "sessionctl", "client identifier recorded in the token")
	flags.StringVar(&secret, "secret", os.Getenv("PARLEY_CONTROL_SECRET"), "server control secret")
	flags.StringVar(&scope, "scope", "control", "control or watch")
	return cmd
}

func newStartCmd(c *client) *cobra.Command {
	var req api.StartSessionRequest
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create a session for a role and level",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.SessionResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/session", req, &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&req.Role, "role", "", "target job role")
	cmd.Flags().StringVar(&req.Level, "level", "", "seniority level")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("level")
	return cmd
}

func newSimpleCmd(c *client, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var snapshot entities.SessionSnapshot
			if err := c.do(cmd.Context(), method, path, nil, &snapshot); err != nil {
				return err
			}
			printSnapshot(cmd, snapshot)
			return nil
		},
	}
}

func newSayCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: "Send a typed turn to the interviewer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return c.do(cmd.Context(), http.MethodPost, "/api/v1/session/text", api.SendTextRequest{Text: text}, nil)
		},
	}
}

func newVolumeCmd(c *client) *cobra.Command {
	var gain float64
	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Set the playback gain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(cmd.Context(), http.MethodPut, "/api/v1/session/volume", api.VolumeRequest{Gain: &gain}, nil)
		},
	}
	cmd.Flags().Float64Var(&gain, "gain", 1, "gain between 0 and 2")
	return cmd
}

func newEndCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the interview and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.EndSessionResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/session/end", nil, &resp); err != nil {
				return err
			}
			if resp.SaveError != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: report was not saved: %s\n", resp.SaveError)
			}
			return printJSON(cmd, resp)
		},
	}
}

func newReportsCmd(c *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reports [id]",
		Short: "List recent reports or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var record entities.SessionRecord
				if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/reports/"+args[0], nil, &record); err != nil {
					return err
				}
				return printJSON(cmd, record)
			}

			var records []entities.SessionRecord
			if err := c.do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/v1/reports?limit=%d", limit), nil, &records); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s\t%s\t%s\t%.1f\t%s\n", r.ID, r.Role, r.Level, r.OverallScore, r.EndedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of reports to list")
	return cmd
}

func newWatchCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream status updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			header := http.Header{}
			if c.token != "" {
				header.Set("Authorization", "Bearer "+c.token)
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL(), header)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
			}()

			return watchLoop(cmd, conn)
		},
	}
}

// watchLoop prints a line per status change and stops at a terminal state
func watchLoop(cmd *cobra.Command, conn *websocket.Conn) error {
	seen := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var msg ws.StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != ws.MessageTypeStatus {
			continue
		}
		snapshot := msg.Snapshot
		out := cmd.OutOrStdout()
		for _, entry := range snapshot.Transcript[min(seen, len(snapshot.Transcript)):] {
			fmt.Fprintf(out, "%-8s %s\n", entry.Speaker+":", entry.Text)
		}
		seen = len(snapshot.Transcript)
		printSnapshot(cmd, snapshot)

		if snapshot.State == entities.SessionStateEnded || snapshot.State == entities.SessionStateError {
			return nil
		}
	}
}

func printSnapshot(cmd *cobra.Command, s entities.SessionSnapshot) {
	line := fmt.Sprintf("[%s] connection=%s speaking=%s mic=%t camera=%t screen=%t",
		s.State, s.Connection, s.Speaking, s.MicActive, s.CameraActive, s.ScreenActive)
	if s.Error != "" {
		line += " error=" + s.Error
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
