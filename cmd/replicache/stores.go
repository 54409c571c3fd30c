package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/airheartdev/replicache/v2"
	"github.com/airheartdev/replicache/v2/badger"
	"github.com/airheartdev/replicache/v2/bbolt"
	"github.com/airheartdev/replicache/v2/memory"
	"github.com/airheartdev/replicache/v2/pebble"
	log "github.com/sirupsen/logrus"
)

// openStore opens the store selected with --store. Values are kept as raw
// JSON so any document can be inspected.
func openStore() (replicache.Store[json.RawMessage], func() error, error) {
	nop := func() error { return nil }

	switch storeName {
	case "memory":
		return memory.New[json.RawMessage]().Space(spaceID, 1), nop, nil
	case "pebble":
		s, err := pebble.Open[json.RawMessage](filepath.Join(dataDir, "pebble"), log.StandardLogger())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "bbolt":
		s, err := bbolt.Open[json.RawMessage](filepath.Join(dataDir, "bbolt"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "badger":
		s, err := badger.Open[json.RawMessage](filepath.Join(dataDir, "badger"), log.StandardLogger())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("replicache: unknown store: %s", storeName)
}

func withTransaction(fn func(tx *replicache.Transaction[json.RawMessage]) error) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.WithError(err).WithField("store", storeName).Error("closing store")
		}
	}()

	tx := replicache.NewTransaction(store, clientID, 0)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Flush()
}
