// Command ai-discord-bot bridges chat channels to coding-agent CLIs. The
// serve command runs the bridge daemon; relay and mcp are the provider-side
// hops that carry approval traffic back to it.
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wrathagom/ai-discord-bot/config"
	"github.com/wrathagom/ai-discord-bot/logging"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "ai-discord-bot",
	Short: "Bridge chat channels to coding-agent CLIs",
	Long: `ai-discord-bot runs coding-agent CLIs (Claude Code, Codex) on behalf of
chat channels: one process per channel, streamed progress rendered as status
messages, and risky tool calls held for human approval in the channel.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bridge.yaml"
	}
	return filepath.Join(home, ".ai-discord-bot", "bridge.yaml")
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if debug {
		cfg.Debug = true
	}
	logging.SetDebug(cfg.Debug)
	return cfg, nil
}
