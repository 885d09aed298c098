// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"github.com/solderzzc/aedes/events"
)

// RegisterClient installs session under session.ID() in the client
// registry. If a session with the same id is already present, that prior
// session is closed first; the map entry refers to the outgoing session
// for the duration of that close. Any error from the outgoing session's
// close is dropped: it is already being replaced.
//
// After installation, RegisterClient emits a client event and publishes
// $SYS/<brokerId>/new/clients with payload = client id, the mechanism
// peer brokers use to enforce single-session-per-id across the cluster.
func (b *Broker) RegisterClient(session ClientSession) error {
	if b.isClosed() {
		return ErrClosed
	}

	id := session.ID()

	b.mu.Lock()
	prior, exists := b.clients[id]
	b.mu.Unlock()

	if exists {
		done := make(chan struct{})
		prior.Close(func(error) { close(done) })
		<-done
	}

	b.mu.Lock()
	b.clients[id] = session
	b.mu.Unlock()

	b.emit(events.Client{ClientID: id})

	payload := []byte(id)
	b.Publish(backgroundCtx(), sysTopicNewClients(b.id), payload, 0, false, nil, nil)

	return nil
}

// UnregisterClient removes session from the registry if it is still the
// one installed under its id, and emits a clientDisconnect event.
// Unregistering a session already absent (or superseded by a takeover) is
// a no-op.
func (b *Broker) UnregisterClient(session ClientSession) {
	id := session.ID()

	b.mu.Lock()
	current, exists := b.clients[id]
	if exists && current == session {
		delete(b.clients, id)
	} else {
		exists = false
	}
	b.mu.Unlock()

	if !exists {
		return
	}

	b.emit(events.ClientDisconnect{ClientID: id})
}

// unregisterClientByID is used internally by the cross-broker takeover
// handler, which observes only a client id on the wire, never a session
// value.
func (b *Broker) unregisterClientByID(id string) {
	b.mu.Lock()
	session, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if !exists {
		return
	}

	session.Close(func(error) {})
	b.emit(events.ClientDisconnect{ClientID: id})
}
