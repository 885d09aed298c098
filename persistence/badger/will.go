// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/solderzzc/aedes/persistence"
)

const willPrefix = "will:"

func putWill(db *badgerdb.DB, will persistence.Will) error {
	data, err := json.Marshal(will)
	if err != nil {
		return fmt.Errorf("badger: marshal will: %w", err)
	}
	return db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(willPrefix+will.ClientID), data)
	})
}

func delWill(db *badgerdb.DB, clientID string) error {
	return db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(willPrefix + clientID))
	})
}

// streamWill snapshots every will whose owning broker is absent from
// liveBrokers, under a single read transaction.
func streamWill(db *badgerdb.DB, liveBrokers map[string]time.Time) (*willIterator, error) {
	var out []persistence.Will

	err := db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(willPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !strings.HasPrefix(string(item.Key()), willPrefix) {
				continue
			}

			err := item.Value(func(val []byte) error {
				var w persistence.Will
				if err := json.Unmarshal(val, &w); err != nil {
					return err
				}
				if _, alive := liveBrokers[w.BrokerID]; !alive {
					out = append(out, w)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("badger: unmarshal will: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &willIterator{items: out}, nil
}

type willIterator struct {
	items []persistence.Will
	pos   int
}

func (it *willIterator) Next(ctx context.Context) (persistence.Will, bool, error) {
	if it.pos >= len(it.items) {
		return persistence.Will{}, false, nil
	}
	w := it.items[it.pos]
	it.pos++
	return w, true, nil
}

func (it *willIterator) Close() error { return nil }
