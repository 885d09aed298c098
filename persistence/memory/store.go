// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory is the default persistence.Store backend: everything
// lives in process memory and is lost on restart. It is the backend
// cmd/aedes wires up when no durable store is configured.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/solderzzc/aedes/pkg/packet"
	"github.com/solderzzc/aedes/persistence"
	"github.com/solderzzc/aedes/topics"
)

var _ persistence.Store = (*Store)(nil)

// Store is the in-memory composite implementation of persistence.Store.
// Each concern (retained, subscriptions, outgoing, wills) owns its own
// lock; there is no store-wide mutex.
type Store struct {
	retained *retainedStore
	subs     *subscriptionStore
	outgoing *outgoingStore
	wills    *willStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		retained: newRetainedStore(),
		subs:     newSubscriptionStore(),
		outgoing: newOutgoingStore(),
		wills:    newWillStore(),
	}
}

func (s *Store) StoreRetained(ctx context.Context, pkt packet.Packet) error {
	return s.retained.set(pkt)
}

func (s *Store) RetainedStream(ctx context.Context, filter string) (persistence.RetainedIterator, error) {
	return s.retained.match(filter), nil
}

func (s *Store) AddSubscriptions(ctx context.Context, clientID string, subs []persistence.Subscription) error {
	s.subs.add(clientID, subs)
	return nil
}

func (s *Store) RemoveSubscriptions(ctx context.Context, clientID string, filters []string) error {
	s.subs.remove(clientID, filters)
	return nil
}

func (s *Store) SubscriptionsByClient(ctx context.Context, clientID string) ([]persistence.Subscription, error) {
	return s.subs.byClient(clientID), nil
}

func (s *Store) SubscriptionsByTopic(ctx context.Context, topic string) ([]persistence.Subscription, error) {
	return s.subs.byTopic(topic), nil
}

func (s *Store) OutgoingEnqueue(ctx context.Context, sub persistence.Subscription, pkt packet.Packet) error {
	s.outgoing.enqueue(sub.ClientID, pkt)
	return nil
}

func (s *Store) OutgoingUpdate(ctx context.Context, clientID string, messageID uint16, pkt packet.Packet) error {
	return s.outgoing.update(clientID, messageID, pkt)
}

func (s *Store) OutgoingClearMessageID(ctx context.Context, clientID string, messageID uint16) error {
	return s.outgoing.clear(clientID, messageID)
}

func (s *Store) OutgoingStream(ctx context.Context, clientID string) (persistence.RetainedIterator, error) {
	return s.outgoing.stream(clientID), nil
}

func (s *Store) PutWill(ctx context.Context, will persistence.Will) error {
	return s.wills.put(will)
}

func (s *Store) DelWill(ctx context.Context, clientID string) error {
	return s.wills.del(clientID)
}

func (s *Store) StreamWill(ctx context.Context, liveBrokers map[string]time.Time) (persistence.WillIterator, error) {
	return s.wills.stream(liveBrokers), nil
}

func (s *Store) Close() error { return nil }

// sliceRetainedIterator adapts a pre-matched slice of packets to
// persistence.RetainedIterator; used by both retained and outgoing
// queues, which have no need for a cursor-based stream.
type sliceRetainedIterator struct {
	items []packet.Packet
	pos   int
}

func (it *sliceRetainedIterator) Next(ctx context.Context) (packet.Packet, bool, error) {
	if it.pos >= len(it.items) {
		return packet.Packet{}, false, nil
	}
	p := it.items[it.pos]
	it.pos++
	return p, true, nil
}

func (it *sliceRetainedIterator) Close() error { return nil }

// --- retained ---

type retainedStore struct {
	mu   sync.RWMutex
	data map[string]packet.Packet
}

func newRetainedStore() *retainedStore {
	return &retainedStore{data: make(map[string]packet.Packet)}
}

func (s *retainedStore) set(pkt packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pkt.Payload) == 0 {
		delete(s.data, pkt.Topic)
		return nil
	}
	s.data[pkt.Topic] = pkt
	return nil
}

func (s *retainedStore) match(filter string) *sliceRetainedIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []packet.Packet
	if filter == "#" {
		for topic, pkt := range s.data {
			if !strings.HasPrefix(topic, topics.SysPrefix) {
				out = append(out, pkt)
			}
		}
		return &sliceRetainedIterator{items: out}
	}

	for topic, pkt := range s.data {
		if topics.TopicMatch(filter, topic) {
			out = append(out, pkt)
		}
	}
	return &sliceRetainedIterator{items: out}
}

// --- subscriptions: trie keyed by filter level, indexed by client for O(1) teardown ---

type trieNode struct {
	children map[string]*trieNode
	subs     map[string]persistence.Subscription
}

func newTrieNode() *trieNode {
	return &trieNode{
		children: make(map[string]*trieNode),
		subs:     make(map[string]persistence.Subscription),
	}
}

type subscriptionStore struct {
	mu       sync.RWMutex
	root     *trieNode
	byClientMap map[string]map[string]persistence.Subscription // clientID -> filter -> sub
}

func newSubscriptionStore() *subscriptionStore {
	return &subscriptionStore{
		root:     newTrieNode(),
		byClientMap: make(map[string]map[string]persistence.Subscription),
	}
}

func (s *subscriptionStore) add(clientID string, subs []persistence.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range subs {
		sub.ClientID = clientID
		levels := strings.Split(sub.Filter, "/")
		node := s.root
		for _, level := range levels {
			child, ok := node.children[level]
			if !ok {
				child = newTrieNode()
				node.children[level] = child
			}
			node = child
		}
		node.subs[clientID] = sub

		if s.byClientMap[clientID] == nil {
			s.byClientMap[clientID] = make(map[string]persistence.Subscription)
		}
		s.byClientMap[clientID][sub.Filter] = sub
	}
}

func (s *subscriptionStore) remove(clientID string, filters []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientSubs, ok := s.byClientMap[clientID]
	if !ok {
		return
	}
	for _, filter := range filters {
		if _, exists := clientSubs[filter]; !exists {
			continue
		}
		levels := strings.Split(filter, "/")
		node := s.root
		for _, level := range levels {
			child, ok := node.children[level]
			if !ok {
				node = nil
				break
			}
			node = child
		}
		if node != nil {
			delete(node.subs, clientID)
		}
		delete(clientSubs, filter)
	}
	if len(clientSubs) == 0 {
		delete(s.byClientMap, clientID)
	}
}

func (s *subscriptionStore) byClientFn(clientID string) []persistence.Subscription {
	clientSubs, ok := s.byClientMap[clientID]
	if !ok {
		return nil
	}
	out := make([]persistence.Subscription, 0, len(clientSubs))
	for _, sub := range clientSubs {
		out = append(out, sub)
	}
	return out
}

func (s *subscriptionStore) byClient(clientID string) []persistence.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byClientFn(clientID)
}

func (s *subscriptionStore) byTopic(topic string) []persistence.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := strings.Split(topic, "/")
	var matched []persistence.Subscription
	s.matchLevel(s.root, levels, 0, &matched)
	return dedupeByClient(matched)
}

func (s *subscriptionStore) matchLevel(node *trieNode, levels []string, index int, matched *[]persistence.Subscription) {
	if index == len(levels) {
		for _, sub := range node.subs {
			*matched = append(*matched, sub)
		}
		if wild, ok := node.children["#"]; ok {
			for _, sub := range wild.subs {
				*matched = append(*matched, sub)
			}
		}
		return
	}

	level := levels[index]

	if child, ok := node.children[level]; ok {
		s.matchLevel(child, levels, index+1, matched)
	}
	if child, ok := node.children["+"]; ok {
		s.matchLevel(child, levels, index+1, matched)
	}
	if child, ok := node.children["#"]; ok {
		for _, sub := range child.subs {
			*matched = append(*matched, sub)
		}
	}
}

func dedupeByClient(subs []persistence.Subscription) []persistence.Subscription {
	seen := make(map[string]persistence.Subscription, len(subs))
	for _, sub := range subs {
		if existing, ok := seen[sub.ClientID]; !ok || sub.QoS > existing.QoS {
			seen[sub.ClientID] = sub
		}
	}
	out := make([]persistence.Subscription, 0, len(seen))
	for _, sub := range seen {
		out = append(out, sub)
	}
	return out
}
