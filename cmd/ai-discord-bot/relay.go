package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wrathagom/ai-discord-bot/logging"
	"github.com/wrathagom/ai-discord-bot/relay"
)

var (
	relayChannel string
	relayURL     string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward one approval request to the bridge",
	Long: `Relay reads a single JSON approval request from stdin, posts it to the
bridge's relay listener, and writes the decision to stdout as one JSON line.
Provider-side hooks invoke it once per approval; it holds no state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.SetDebug(debug)
		client := &relay.Client{BaseURL: relayURL, Channel: relayChannel}
		return client.Run(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayChannel, "channel", "", "Channel the approval belongs to")
	relayCmd.Flags().StringVar(&relayURL, "relay-url", "http://127.0.0.1:8377", "Bridge relay base URL")
	_ = relayCmd.MarkFlagRequired("channel")
}
