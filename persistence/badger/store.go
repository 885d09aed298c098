// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badger is the durable persistence.Store backend: retained
// messages and last-will records survive a broker restart, backed by
// BadgerDB. Subscriptions and outgoing queues are treated as rebuildable
// session state (spec: "opaque to the dispatcher") and are kept in the
// in-memory implementation even here.
package badger

import (
	"context"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/solderzzc/aedes/pkg/packet"
	"github.com/solderzzc/aedes/persistence"
	"github.com/solderzzc/aedes/persistence/memory"
)

var _ persistence.Store = (*Store)(nil)

// Config holds BadgerDB configuration.
type Config struct {
	// Dir is the directory BadgerDB persists its data files to.
	Dir string
}

// Store is the BadgerDB-backed composite store. Retained and will state
// live in db; everything else delegates to an in-memory persistence.Store.
type Store struct {
	db *badgerdb.DB

	mem *memory.Store // subscriptions + outgoing queues

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

// New opens (or creates) a BadgerDB store at cfg.Dir.
func New(cfg Config) (*Store, error) {
	opts := badgerdb.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	opts.EncryptionKey = nil
	opts.EncryptionKeyRotationDuration = 0
	// MQTT retained/will state is small and re-derivable from the
	// publishing clients; async writes trade fsync-per-write durability
	// for throughput.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		mem:      memory.New(),
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runValueLogGC()
	return s, nil
}

func (s *Store) StoreRetained(ctx context.Context, pkt packet.Packet) error {
	return putRetained(s.db, pkt)
}

func (s *Store) RetainedStream(ctx context.Context, filter string) (persistence.RetainedIterator, error) {
	return matchRetained(s.db, filter)
}

func (s *Store) AddSubscriptions(ctx context.Context, clientID string, subs []persistence.Subscription) error {
	return s.mem.AddSubscriptions(ctx, clientID, subs)
}

func (s *Store) RemoveSubscriptions(ctx context.Context, clientID string, filters []string) error {
	return s.mem.RemoveSubscriptions(ctx, clientID, filters)
}

func (s *Store) SubscriptionsByClient(ctx context.Context, clientID string) ([]persistence.Subscription, error) {
	return s.mem.SubscriptionsByClient(ctx, clientID)
}

func (s *Store) SubscriptionsByTopic(ctx context.Context, topic string) ([]persistence.Subscription, error) {
	return s.mem.SubscriptionsByTopic(ctx, topic)
}

func (s *Store) OutgoingEnqueue(ctx context.Context, sub persistence.Subscription, pkt packet.Packet) error {
	return s.mem.OutgoingEnqueue(ctx, sub, pkt)
}

func (s *Store) OutgoingUpdate(ctx context.Context, clientID string, messageID uint16, pkt packet.Packet) error {
	return s.mem.OutgoingUpdate(ctx, clientID, messageID, pkt)
}

func (s *Store) OutgoingClearMessageID(ctx context.Context, clientID string, messageID uint16) error {
	return s.mem.OutgoingClearMessageID(ctx, clientID, messageID)
}

func (s *Store) OutgoingStream(ctx context.Context, clientID string) (persistence.RetainedIterator, error) {
	return s.mem.OutgoingStream(ctx, clientID)
}

func (s *Store) PutWill(ctx context.Context, will persistence.Will) error {
	return putWill(s.db, will)
}

func (s *Store) DelWill(ctx context.Context, clientID string) error {
	return delWill(s.db, clientID)
}

func (s *Store) StreamWill(ctx context.Context, liveBrokers map[string]time.Time) (persistence.WillIterator, error) {
	return streamWill(s.db, liveBrokers)
}

// Close stops the value log GC loop, closes the memory backend, and
// closes the database.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	_ = s.mem.Close()
	return s.db.Close()
}

func (s *Store) runValueLogGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
