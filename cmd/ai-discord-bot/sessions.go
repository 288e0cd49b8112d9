package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrathagom/ai-discord-bot/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored channel sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer db.Close()

		states, err := db.List()
		if err != nil {
			return err
		}
		if len(states) == 0 {
			fmt.Println("no stored sessions")
			return nil
		}
		for _, st := range states {
			fmt.Printf("%-20s provider=%-7s mode=%-8s session=%-40s updated=%s\n",
				st.Channel, st.Provider, st.PermissionMode, st.SessionID,
				st.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stored channel state past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Purge(purgeOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d channel(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Retention window")
}
