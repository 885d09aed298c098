// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/solderzzc/aedes/persistence"
)

// willStore holds one pending last-will per client, keyed by clientID so
// a reconnect (or an explicit normal DISCONNECT) can delete it before the
// sweep ever sees it.
type willStore struct {
	mu   sync.RWMutex
	data map[string]persistence.Will
}

func newWillStore() *willStore {
	return &willStore{data: make(map[string]persistence.Will)}
}

func (s *willStore) put(will persistence.Will) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[will.ClientID] = will
	return nil
}

func (s *willStore) del(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, clientID)
	return nil
}

// stream snapshots every will whose owning broker is absent from
// liveBrokers. The snapshot is taken under the read lock and then walked
// without it, so a concurrent put/del during iteration is invisible to
// the returned iterator: a caller sees the state as of the StreamWill
// call, not a live view.
func (s *willStore) stream(liveBrokers map[string]time.Time) *willSliceIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.Will
	for _, w := range s.data {
		if _, alive := liveBrokers[w.BrokerID]; !alive {
			out = append(out, w)
		}
	}
	return &willSliceIterator{items: out}
}

type willSliceIterator struct {
	items []persistence.Will
	pos   int
}

func (it *willSliceIterator) Next(ctx context.Context) (persistence.Will, bool, error) {
	if it.pos >= len(it.items) {
		return persistence.Will{}, false, nil
	}
	w := it.items[it.pos]
	it.pos++
	return w, true, nil
}

func (it *willSliceIterator) Close() error { return nil }
