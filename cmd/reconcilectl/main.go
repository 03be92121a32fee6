// Command reconcilectl is a thin CLI client for the reconciliation engine's
// admin HTTP surface: one subcommand per verb, talking JSON over HTTP to a
// running reconciled instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpClient = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	root := &cobra.Command{
		Use:   "reconcilectl",
		Short: "Control client for the reconciliation engine's admin API",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8089", "base URL of the reconciled admin API")

	root.AddCommand(
		triggerCycleCmd(),
		statusCmd(),
		metricsCmd(),
		startCmd(),
		stopCmd(),
		rematchEmailCmd(),
		cleanupOldAuditsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func triggerCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger-cycle",
		Short: "Run one fetch-poll-match cycle immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/trigger-cycle", nil)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the engine is running and the last completed cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/status", nil)
		},
	}
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print rolling-window cycle metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/metrics", nil)
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the engine's background ticker loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/start", nil)
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the engine's background ticker loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/stop", nil)
		},
	}
}

func rematchEmailCmd() *cobra.Command {
	var messageID string
	var skipActions bool
	cmd := &cobra.Command{
		Use:   "rematch-email",
		Short: "Re-run matching for a single email outside the normal cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/rematch-email", map[string]interface{}{
				"messageId":   messageID,
				"skipActions": skipActions,
			})
		},
	}
	cmd.Flags().StringVar(&messageID, "message-id", "", "message ID of the email to rematch (required)")
	cmd.Flags().BoolVar(&skipActions, "skip-actions", false, "skip re-running post-match actions")
	_ = cmd.MarkFlagRequired("message-id")
	return cmd
}

func cleanupOldAuditsCmd() *cobra.Command {
	var retentionDays int
	cmd := &cobra.Command{
		Use:   "cleanup-old-audits",
		Short: "Purge action-audit rows older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/cleanup-old-audits", map[string]interface{}{
				"retentionDays": retentionDays,
			})
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "retention window in days (0 uses the server default)")
	return cmd
}

func call(method, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("reconcilectl: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, serverAddr+path, body)
	if err != nil {
		return fmt.Errorf("reconcilectl: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reconcilectl: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reconcilectl: read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("reconcilectl: server returned %s", resp.Status)
	}
	return nil
}
