package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	storage "github.com/apify/storage-local-go"
)

var queueHeadLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manipulate a request queue",
}

var queueGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a queue's counters and timestamps",
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

		q, err := client.OpenRequestQueue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		info, err := q.Get(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d total, %d handled, %d pending (age %s)\n",
			info.Name, info.TotalRequestCount, info.HandledRequestCount, info.PendingRequestCount,
			humanize.Time(info.CreatedAt))
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <name> <url> <uniqueKey>",
	Short: "Add a request to a queue",
	Args:  cobra.ExactArgs(3),
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

		q, err := client.OpenRequestQueue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res, err := q.AddRequest(cmd.Context(), &storage.Request{URL: args[1], UniqueKey: args[2]}, storage.AddRequestOptions{})
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requestId=%s alreadyPresent=%v alreadyHandled=%v\n",
			res.RequestID, res.WasAlreadyPresent, res.WasAlreadyHandled)
		return nil
	},
}

var queueHeadCmd = &cobra.Command{
	Use:   "head <name>",
	Short: "List the current head of a queue without locking it",
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

		q, err := client.OpenRequestQueue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res, err := q.ListHead(cmd.Context(), queueHeadLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		}
		for _, item := range res.Items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", item.ID, item.URL)
		}
		return nil
	},
}

func init() {
	queueHeadCmd.Flags().IntVar(&queueHeadLimit, "limit", 10, "maximum number of requests to list")
	queueCmd.AddCommand(queueGetCmd, queueAddCmd, queueHeadCmd)
}
