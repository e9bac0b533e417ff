package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	storage "github.com/apify/storage-local-go"
)

var datasetListOffset, datasetListLimit int

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect a dataset",
}

var datasetListCmd = &cobra.Command{
	Use:   "list <name>",
	Short: "List items in a dataset",
	Args:  cobra.ExactArgs(1),
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

		ds, err := client.OpenDataset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		items, err := ds.GetItems(cmd.Context(), datasetListOffset, datasetListLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(items)
		}
		for _, item := range items {
			fmt.Fprintln(cmd.OutOrStdout(), string(item))
		}
		return nil
	},
}

func init() {
	datasetListCmd.Flags().IntVar(&datasetListOffset, "offset", 0, "0-based starting index")
	datasetListCmd.Flags().IntVar(&datasetListLimit, "limit", 0, "maximum number of items (0 = no limit)")
	datasetCmd.AddCommand(datasetListCmd)
}
