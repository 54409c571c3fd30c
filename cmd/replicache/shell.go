package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/airheartdev/replicache/v2"
	"github.com/peterh/liner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	shellHistory = ".replicache_history"
	shellHelp    = `commands:
  get key              print the value of key
  has key              print whether key exists
  put key json         stage a write
  del key              stage a delete
  scan [prefix [limit]] list visible entries
  empty                print whether the transaction sees no entries
  flush                persist staged writes
  reset                drop every staged write and cached read
  quit                 leave without flushing`
)

var (
	shellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Run a transaction interactively",
		Args:  cobra.NoArgs,
		RunE:  shellRun,
	}

	errQuit = errors.New("quit")
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

func shellRun(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	tx := replicache.NewTransaction(store, clientID, 0)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(shellHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(shellHistory); err != nil {
			log.WithError(err).Warn("writing history file")
		} else {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "client %s on %s store; type help for commands\n", tx.ClientID(), storeName)
	for {
		s, err := line.Prompt("replicache> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		line.AppendHistory(s)

		err = evalLine(tx, s, out)
		if errors.Is(err, errQuit) {
			return nil
		} else if err != nil {
			fmt.Fprintf(out, "error: %s\n", err)
		}
	}
}

// evalLine runs a single shell command against tx.
func evalLine(tx *replicache.Transaction[json.RawMessage], s string, w io.Writer) error {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}

	cmd, args := fields[0], fields[1:]
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s: expected %d arguments; got %d", cmd, n, len(args))
		}
		return nil
	}

	switch cmd {
	case "help":
		fmt.Fprintln(w, shellHelp)
	case "get":
		if err := need(1); err != nil {
			return err
		}
		val, err := tx.Get(args[0])
		if err != nil {
			return err
		}
		if val == nil {
			fmt.Fprintln(w, "(absent)")
		} else {
			fmt.Fprintln(w, string(*val))
		}
	case "has":
		if err := need(1); err != nil {
			return err
		}
		has, err := tx.Has(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, has)
	case "put":
		if len(args) < 2 {
			return fmt.Errorf("put: expected key and value")
		}
		// The value may contain spaces.
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), cmd))
		key, val, _ := strings.Cut(rest, " ")
		val = strings.TrimSpace(val)
		if !json.Valid([]byte(val)) {
			return fmt.Errorf("put: value is not valid JSON: %s", val)
		}
		return tx.Put(key, json.RawMessage(val))
	case "del":
		if err := need(1); err != nil {
			return err
		}
		existed, err := tx.Del(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, existed)
	case "scan":
		opts := replicache.ScanOptions{}
		if len(args) > 0 {
			opts.Prefix = args[0]
		}
		if len(args) > 1 {
			limit, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("scan: limit: %s", err)
			}
			opts.Limit = limit
		}
		res, err := tx.Scan(opts)
		if err != nil {
			return err
		}
		entries, err := res.Entries()
		if err != nil {
			return err
		}
		renderEntries(w, entries)
	case "empty":
		empty, err := tx.IsEmpty()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, empty)
	case "flush":
		return tx.Flush()
	case "reset":
		tx.Reset(tx.ClientID(), tx.MutationID()+1)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s; type help for commands", cmd)
	}
	return nil
}
