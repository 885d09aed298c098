// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bus defines the live fan-out contract: the in-process or
// cluster-wide channel the publish pipeline emits a Packet onto after
// persistence, and that connected sessions and cluster peers listen on.
// Unlike persistence, the bus carries no durability guarantee — a
// listener that isn't registered when Emit runs never sees the packet.
package bus

import "github.com/solderzzc/aedes/pkg/packet"

// Listener receives packets emitted for topics it is subscribed to.
// Implementations must not block: a slow listener stalls Emit for every
// other listener on the same topic.
type Listener func(pkt packet.Packet)

// Bus is the contract the broker core is built against. A backend need
// not be distributed; the in-memory implementation in bus/memory
// satisfies this interface with a topic trie in one process.
type Bus interface {
	// On registers a listener under a topic filter, returning a
	// subscription id used to remove it later.
	On(filter string, fn Listener) (id uint64)

	// RemoveListener unregisters a listener previously returned by On.
	// Removing an id that doesn't exist is a no-op.
	RemoveListener(id uint64)

	// Emit delivers pkt to every listener whose filter matches
	// pkt.Topic under MQTT wildcard rules.
	Emit(pkt packet.Packet)

	// Close releases bus resources. Listeners are not notified.
	Close() error
}
