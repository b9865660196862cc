package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsRun()
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions (0 for all)")
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sessions, err := s.ListSessions(cmdContext(), sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions recorded yet")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Ended", "Messages", "Endpoint"})
	for _, rec := range sessions {
		ended := "-"
		if rec.EndedAt != nil {
			ended = rec.EndedAt.Local().Format("2006-01-02 15:04:05")
		}
		_ = table.Append([]string{
			rec.ID,
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			ended,
			fmt.Sprintf("%d", rec.MessageCount),
			rec.Endpoint,
		})
	}
	return table.Render()
}
