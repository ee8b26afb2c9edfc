package main

import (
	"errors"

	"github.com/spf13/cobra"

	appLogger "github.com/brand-assistant/backend/pkg/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the embedding cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached embedding",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		defer appLogger.Sync()

		if a.Redis == nil {
			return errors.New("embedding cache is not configured")
		}
		n, err := a.Redis.PurgeEmbeddings(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Purged %d cached embeddings\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
