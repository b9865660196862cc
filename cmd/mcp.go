package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/cloudvoice/internal/knowledge"
	"github.com/joescharf/cloudvoice/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing the sustainability tools",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Agents can call the same tools the development backend uses. Configure an
MCP client with:

  {
    "mcpServers": {
      "cloudvoice": { "command": "cloudvoice", "args": ["mcp"] }
    }
  }

Available tools: calculate_carbon_footprint, deploy_instance, search_knowledge`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(), interruptSignals()...)
		defer stop()

		var kb mcp.Searcher
		base, err := knowledge.Open(ctx, viper.GetString("knowledge.persist_path"))
		if err != nil {
			ui.Warning("Knowledge base unavailable: %v", err)
		} else {
			kb = base
		}

		return mcp.NewServer(kb, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
