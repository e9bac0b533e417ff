package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	storage "github.com/apify/storage-local-go"
)

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Inspect a key-value store",
}

var kvGetCmd = &cobra.Command{
	Use:   "get <name> <key>",
	Short: "Print a key-value record",
	Args:  cobra.ExactArgs(2),
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

		store, err := client.OpenKeyValueStore(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rec, err := store.GetRecord(cmd.Context(), args[1])
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n", rec.Key, rec.ContentType, humanize.Bytes(uint64(len(rec.Value))))
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", rec.Value)
		return nil
	},
}

func init() {
	kvCmd.AddCommand(kvGetCmd)
}
