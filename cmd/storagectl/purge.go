package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	storage "github.com/apify/storage-local-go"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Empty the default dataset, request queue, and key-value store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg))

		client, err := storage.NewClient(cfg, storage.Options{})
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Purge(cmd.Context()); err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]bool{"purged": true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "default dataset, request queue, and key-value store purged")
		return nil
	},
}
