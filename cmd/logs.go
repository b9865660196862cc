package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/cloudvoice/internal/models"
	"github.com/joescharf/cloudvoice/internal/output"
	"github.com/joescharf/cloudvoice/internal/store"
)

var (
	logsSession   string
	logsSource    string
	logsStatus    string
	logsLimit     int
	logsFormat    string
	logsOlderThan time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show archived event-log entries",
	Long: `Show event-log entries archived by chat and ask sessions, oldest first.

Use --session latest for the most recent session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return logsRun()
	},
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived entries older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return logsPruneRun()
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsSession, "session", "", "Filter by session ID (or \"latest\")")
	logsCmd.Flags().StringVar(&logsSource, "source", "", "Filter by source (MCP, LLM, RAG, SYSTEM)")
	logsCmd.Flags().StringVar(&logsStatus, "status", "", "Filter by status (info, success, warning)")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "Maximum number of entries (0 for all)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "table", "Output format: table, json, csv")

	logsPruneCmd.Flags().DurationVar(&logsOlderThan, "older-than", 30*24*time.Hour, "Prune entries older than this")

	logsCmd.AddCommand(logsPruneCmd)
	rootCmd.AddCommand(logsCmd)
}

func parseLogSource(s string) (models.LogSource, error) {
	if s == "" {
		return "", nil
	}
	src := models.LogSource(strings.ToUpper(s))
	switch src {
	case models.LogSourceMCP, models.LogSourceLLM, models.LogSourceRAG, models.LogSourceSystem:
		return src, nil
	}
	return "", fmt.Errorf("invalid source %q (want MCP, LLM, RAG or SYSTEM)", s)
}

func parseLogStatus(s string) (models.LogStatus, error) {
	if s == "" {
		return "", nil
	}
	st := models.LogStatus(strings.ToLower(s))
	switch st {
	case models.LogStatusInfo, models.LogStatusSuccess, models.LogStatusWarning:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q (want info, success or warning)", s)
}

func logsRun() error {
	switch logsFormat {
	case "table", "json", "csv":
	default:
		return fmt.Errorf("unknown format: %s (use: table, json, csv)", logsFormat)
	}
	source, err := parseLogSource(logsSource)
	if err != nil {
		return err
	}
	status, err := parseLogStatus(logsStatus)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	sessionID := logsSession
	if sessionID == "latest" {
		sessions, err := s.ListSessions(ctx, 1)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ui.Info("No sessions recorded yet")
			return nil
		}
		sessionID = sessions[0].ID
	}

	entries, err := s.ListLogEntries(ctx, store.LogListFilter{
		SessionID: sessionID,
		Source:    source,
		Status:    status,
		Limit:     logsLimit,
	})
	if err != nil {
		return err
	}

	switch logsFormat {
	case "json":
		if entries == nil {
			entries = []models.LogEntry{}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Timestamp", "Source", "Status", "Message"})
		for _, e := range entries {
			w.Write([]string{e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Source), string(e.Status), e.Message})
		}
		w.Flush()
		return w.Error()
	}

	if len(entries) == 0 {
		ui.Info("No log entries found")
		return nil
	}

	table := ui.Table([]string{"Time", "Source", "Status", "Message"})
	for _, e := range entries {
		_ = table.Append([]string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(e.Source),
			output.LogStatusColor(e.Status),
			e.Message,
		})
	}
	return table.Render()
}

func logsPruneRun() error {
	if logsOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	cutoff := time.Now().Add(-logsOlderThan)

	if dryRun {
		ui.DryRunMsg("Would prune log entries before %s", cutoff.Format(time.RFC3339))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	n, err := s.PruneLogEntries(cmdContext(), cutoff)
	if err != nil {
		return err
	}
	ui.Success("Pruned %d log entries older than %s", n, logsOlderThan)
	return nil
}
