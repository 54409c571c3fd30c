package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/airheartdev/replicache/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	kvCmd = &cobra.Command{
		Use:   "kv",
		Short: "Read and write entries of a store",
	}

	kvGetCmd = &cobra.Command{
		Use:   "get key",
		Short: "Print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE:  kvGetRun,
	}

	kvPutCmd = &cobra.Command{
		Use:   "put key json",
		Short: "Set a key to a JSON value",
		Args:  cobra.ExactArgs(2),
		RunE:  kvPutRun,
	}

	kvDelCmd = &cobra.Command{
		Use:   "del key...",
		Short: "Delete keys",
		Args:  cobra.MinimumNArgs(1),
		RunE:  kvDelRun,
	}

	kvScanCmd = &cobra.Command{
		Use:   "scan",
		Short: "List entries in key order",
		Args:  cobra.NoArgs,
		RunE:  kvScanRun,
	}

	scanPrefix    = ""
	scanStart     = ""
	scanExclusive = false
	scanLimit     = 0
)

var errKeyNotFound = errors.New("key not found")

func init() {
	fs := kvScanCmd.Flags()
	fs.StringVar(&scanPrefix, "prefix", scanPrefix, "only list keys starting with `prefix`")
	fs.StringVar(&scanStart, "start", scanStart, "start listing at `key`")
	fs.BoolVar(&scanExclusive, "exclusive", scanExclusive, "skip the start key itself")
	fs.IntVar(&scanLimit, "limit", scanLimit, "list at most `n` entries; 0 for no limit")

	kvCmd.AddCommand(kvGetCmd, kvPutCmd, kvDelCmd, kvScanCmd)
	rootCmd.AddCommand(kvCmd)
}

func kvGetRun(cmd *cobra.Command, args []string) error {
	return withTransaction(func(tx *replicache.Transaction[json.RawMessage]) error {
		val, err := tx.Get(args[0])
		if err != nil {
			return err
		}
		if val == nil {
			return fmt.Errorf("%s: %w", args[0], errKeyNotFound)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(*val))
		return nil
	})
}

func kvPutRun(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(args[1])) {
		return fmt.Errorf("%s: value is not valid JSON", args[0])
	}
	return withTransaction(func(tx *replicache.Transaction[json.RawMessage]) error {
		return tx.Put(args[0], json.RawMessage(args[1]))
	})
}

func kvDelRun(cmd *cobra.Command, args []string) error {
	return withTransaction(func(tx *replicache.Transaction[json.RawMessage]) error {
		for _, key := range args {
			existed, err := tx.Del(key)
			if err != nil {
				return err
			}
			if !existed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", key)
			}
		}
		return nil
	})
}

func scanOptions() replicache.ScanOptions {
	opts := replicache.ScanOptions{
		Prefix: scanPrefix,
		Limit:  scanLimit,
	}
	if scanStart != "" {
		opts.Start = &replicache.ScanStart{Key: scanStart, Exclusive: scanExclusive}
	}
	return opts
}

func kvScanRun(cmd *cobra.Command, args []string) error {
	return withTransaction(func(tx *replicache.Transaction[json.RawMessage]) error {
		res, err := tx.Scan(scanOptions())
		if err != nil {
			return err
		}
		entries, err := res.Entries()
		if err != nil {
			return err
		}
		renderEntries(cmd.OutOrStdout(), entries)
		return nil
	})
}

func renderEntries(w io.Writer, entries []replicache.Entry[json.RawMessage]) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "Value"})
	table.SetAutoWrapText(false)
	for _, e := range entries {
		table.Append([]string{e.Key, string(e.Value)})
	}
	table.SetFooter([]string{"", fmt.Sprintf("%d entries", len(entries))})
	table.Render()
}
