package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wrathagom/ai-discord-bot/logging"
	"github.com/wrathagom/ai-discord-bot/mcp"
	"github.com/wrathagom/ai-discord-bot/relay"
)

var (
	mcpChannel string
	mcpURL     string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the approvals MCP server over stdio",
	Long: `Mcp speaks MCP over stdin/stdout for the provider CLI that spawned it.
Its approve and ask_question tools forward each call through the bridge's
relay listener and return the human's decision. Logs go to stderr; stdout
carries only protocol frames.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.SetDebug(debug)
		log := logging.WithComponent("mcp")

		client := &relay.Client{BaseURL: mcpURL, Channel: mcpChannel}
		registry := mcp.NewApprovalRegistry(client)
		server := mcp.NewServer(mcp.ApprovalServerName, registry, log)
		return server.Serve(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpChannel, "channel", "", "Channel the approvals belong to")
	mcpCmd.Flags().StringVar(&mcpURL, "relay-url", "http://127.0.0.1:8377", "Bridge relay base URL")
	_ = mcpCmd.MarkFlagRequired("channel")
}
