// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package persistence defines the storage contract consumed by the broker
// core. Concrete backends (in-memory, Badger-backed, or otherwise) live in
// sub-packages and are never imported by the broker package directly.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/solderzzc/aedes/pkg/packet"
)

// Common errors returned by every backend.
var (
	ErrNotFound      = errors.New("persistence: not found")
	ErrAlreadyExists = errors.New("persistence: already exists")
)

// Subscription is a durable subscriber's topic filter, as persisted by
// addSubscriptions/removeSubscriptions.
type Subscription struct {
	ClientID string
	Filter   string
	QoS      byte
}

// Will is the last-will record owned by one broker, per spec §3.
type Will struct {
	ClientID string
	BrokerID string
	Packet   packet.Packet
}

// RetainedIterator yields retained packets matching a filter. It is finite
// and non-restartable: once exhausted (Next returns false), a new call to
// Store.RetainedStream is required to see fresh state.
type RetainedIterator interface {
	Next(ctx context.Context) (packet.Packet, bool, error)
	Close() error
}

// WillIterator yields wills whose owning broker is not a key of the
// liveBrokers set passed to Store.StreamWill. It is finite and
// non-restartable. The backends in this module snapshot the matching
// wills when StreamWill is called: a PutWill/DelWill that lands after
// that call is not visible to the returned iterator.
type WillIterator interface {
	Next(ctx context.Context) (Will, bool, error)
	Close() error
}

// Store is the full persistence contract the broker core is built
// against. A backend need not be clustered or durable; the in-memory
// implementation in persistence/memory satisfies this interface with
// plain maps.
type Store interface {
	// StoreRetained upserts by topic; an empty payload deletes.
	StoreRetained(ctx context.Context, pkt packet.Packet) error

	// RetainedStream returns a lazy stream of retained packets matching
	// an MQTT topic filter.
	RetainedStream(ctx context.Context, filter string) (RetainedIterator, error)

	// AddSubscriptions persists durable subscriptions for a client.
	AddSubscriptions(ctx context.Context, clientID string, subs []Subscription) error

	// RemoveSubscriptions removes durable subscriptions for a client.
	RemoveSubscriptions(ctx context.Context, clientID string, filters []string) error

	// SubscriptionsByClient returns all subscriptions persisted for a client.
	SubscriptionsByClient(ctx context.Context, clientID string) ([]Subscription, error)

	// SubscriptionsByTopic returns subscriptions whose filter matches
	// topic under MQTT wildcard rules. This is the lookup enqueueOffline
	// uses to find durable subscribers for a publish.
	SubscriptionsByTopic(ctx context.Context, topic string) ([]Subscription, error)

	// OutgoingEnqueue appends a packet to a subscriber's durable outbound
	// queue.
	OutgoingEnqueue(ctx context.Context, sub Subscription, pkt packet.Packet) error

	// OutgoingUpdate, OutgoingClearMessageID, and OutgoingStream are QoS
	// retransmission bookkeeping; opaque to the dispatcher, which never
	// calls them. They exist so a backend has somewhere to keep
	// per-message delivery state across reconnects.
	OutgoingUpdate(ctx context.Context, clientID string, messageID uint16, pkt packet.Packet) error
	OutgoingClearMessageID(ctx context.Context, clientID string, messageID uint16) error
	OutgoingStream(ctx context.Context, clientID string) (RetainedIterator, error)

	// PutWill stores a will message owned by the connecting broker.
	PutWill(ctx context.Context, will Will) error

	// DelWill deletes a client's will. Idempotent.
	DelWill(ctx context.Context, clientID string) error

	// StreamWill returns a lazy stream of wills whose BrokerID is not a
	// key of liveBrokers.
	StreamWill(ctx context.Context, liveBrokers map[string]time.Time) (WillIterator, error)

	// Close releases backend resources.
	Close() error
}
