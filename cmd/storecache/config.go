package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/storecache/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration loaded from STORECACHE_* variables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		c.Redis.Password = redact(c.Redis.Password)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
