// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/solderzzc/aedes/pkg/packet"
	"github.com/solderzzc/aedes/topics"
)

const retainedPrefix = "retained:"

// putRetained upserts by topic; an empty payload deletes.
func putRetained(db *badgerdb.DB, pkt packet.Packet) error {
	if len(pkt.Payload) == 0 {
		return db.Update(func(txn *badgerdb.Txn) error {
			return txn.Delete([]byte(retainedPrefix + pkt.Topic))
		})
	}

	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("badger: marshal retained packet: %w", err)
	}
	return db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(retainedPrefix+pkt.Topic), data)
	})
}

// matchRetained scans every retained key and returns the ones whose topic
// matches filter. BadgerDB has no native wildcard index, so this walks
// the whole retained keyspace under a single read transaction.
func matchRetained(db *badgerdb.DB, filter string) (*retainedIterator, error) {
	var matched []packet.Packet

	err := db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(retainedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			topic := strings.TrimPrefix(string(item.Key()), retainedPrefix)

			if !topics.TopicMatch(filter, topic) {
				continue
			}

			err := item.Value(func(val []byte) error {
				var pkt packet.Packet
				if err := json.Unmarshal(val, &pkt); err != nil {
					return err
				}
				matched = append(matched, pkt)
				return nil
			})
			if err != nil {
				return fmt.Errorf("badger: unmarshal retained packet: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &retainedIterator{items: matched}, nil
}

type retainedIterator struct {
	items []packet.Packet
	pos   int
}

func (it *retainedIterator) Next(ctx context.Context) (packet.Packet, bool, error) {
	if it.pos >= len(it.items) {
		return packet.Packet{}, false, nil
	}
	p := it.items[it.pos]
	it.pos++
	return p, true, nil
}

func (it *retainedIterator) Close() error { return nil }
