// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	kvcli set mykey "hello world"   --server http://localhost:8080
//	kvcli get mykey                 --server http://localhost:8080
//	kvcli delete mykey              --server http://localhost:8080
//	kvcli snapshot                  --server http://localhost:8080
//	kvcli debug-info                --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kvreplica/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for the replicated key-value store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "KV store server address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(setCmd(), getCmd(), deleteCmd(), bulkCmd(), snapshotCmd(), debugInfoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Store a key-value pair; value is parsed as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseJSONArg(args[1])
			if err != nil {
				return err
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.Set(context.Background(), args[0], v, debug)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "request the server's simulated-failure injection for this write")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

func bulkCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "bulk <json-array-of-items>",
		Short: `Apply a batch of writes atomically, e.g. '[{"key":"a","value":1}]'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []client.BulkItem
			if err := json.Unmarshal([]byte(args[0]), &items); err != nil {
				return fmt.Errorf("parse items: %w", err)
			}
			c := client.New(serverAddr, timeout)
			if err := c.Bulk(context.Background(), items, debug); err != nil {
				return err
			}
			fmt.Printf("applied %d items\n", len(items))
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "request the server's simulated-failure injection for this batch")
	return cmd
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Ask the node to persist a snapshot and truncate its log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.Snapshot(context.Background()); err != nil {
				return err
			}
			fmt.Println("snapshot complete")
			return nil
		},
	}
}

func debugInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug-info",
		Short: "Show this node's id, role, term, believed leader, and peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			info, err := c.DebugInfo(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(info)
			return nil
		},
	}
}

func parseJSONArg(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		// Fall back to treating the argument as a bare string, so
		// `kvcli set k hello` works without quoting.
		return s, nil
	}
	return v, nil
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
