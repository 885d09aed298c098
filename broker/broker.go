// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the MQTT broker dispatcher: the publish
// pipeline, the client registry with cross-broker takeover, and the
// cluster heartbeat / will-recovery loop. The wire codec and per-connection
// protocol state machine are external collaborators; this package consumes
// decoded packets and emits packets to be encoded.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solderzzc/aedes/bus"
	busmemory "github.com/solderzzc/aedes/bus/memory"
	"github.com/solderzzc/aedes/config"
	"github.com/solderzzc/aedes/events"
	"github.com/solderzzc/aedes/persistence"
	persistencebadger "github.com/solderzzc/aedes/persistence/badger"
	persistencememory "github.com/solderzzc/aedes/persistence/memory"
	"github.com/solderzzc/aedes/pkg/packet"
)

// Broker is the process-wide dispatcher. It owns the client registry, the
// cluster presence timers, and the publish pipeline. The zero value is not
// usable; construct with New.
type Broker struct {
	id  string
	cfg *config.Config

	bus   bus.Bus
	store persistence.Store

	mu      sync.RWMutex
	clients map[string]ClientSession
	brokers map[string]time.Time
	counter uint64

	listenersMu sync.Mutex
	listeners   map[string][]EventListener

	enqueuerPool sync.Pool

	heartbeatListenerID uint64
	takeoverListenerID  uint64

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool
}

// New constructs a Broker from cfg. A nil cfg is equivalent to
// config.Default(). Fields left zero on cfg are filled by ApplyDefaults;
// a nil Bus gets an in-memory default, and a nil Persistence gets the
// backend selected by cfg.Store (see newStore). New starts the
// heartbeat and will-sweep timers before returning.
func New(cfg *config.Config) (*Broker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("broker: invalid config: %w", err)
	}

	b := &Broker{
		id:      uuid.New().String(),
		cfg:     cfg,
		bus:     cfg.Bus,
		store:   cfg.Persistence,
		clients:   make(map[string]ClientSession),
		brokers:   make(map[string]time.Time),
		listeners: make(map[string][]EventListener),
		stopCh:    make(chan struct{}),
	}
	if b.bus == nil {
		b.bus = busmemory.New()
	}
	if b.store == nil {
		store, err := newStore(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}
		b.store = store
	}
	b.enqueuerPool.New = func() any { return &offlineEnqueuer{} }

	b.startPresence()

	return b, nil
}

// newStore builds the persistence.Store selected by cfg. An empty or
// "memory" backend yields an in-memory store; "badger" opens (or
// creates) a durable BadgerDB store rooted at cfg.Dir.
func newStore(cfg config.StoreConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case "badger":
		return persistencebadger.New(persistencebadger.Config{Dir: cfg.Dir})
	default:
		return persistencememory.New(), nil
	}
}

// ID returns this broker's cluster-unique id.
func (b *Broker) ID() string { return b.id }

// ConnectedClients returns the number of locally registered sessions.
func (b *Broker) ConnectedClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// nextPacket allocates a fresh (brokerID, counter) pair and freezes it into
// a packet.Packet. counter assignment is synchronous and establishes a
// per-broker total order.
func (b *Broker) nextPacket(topic string, payload []byte, qos byte, retain bool) (packet.Packet, error) {
	b.mu.Lock()
	b.counter++
	counter := b.counter
	b.mu.Unlock()

	return packet.New(topic, payload, qos, retain, b.id, counter)
}

// EventListener receives a typed event, synchronously with its emission.
type EventListener func(events.Event)

// On registers fn to be invoked, synchronously and in registration order,
// every time an event of eventType is emitted. eventType is one of the
// events.Type* constants.
func (b *Broker) On(eventType string, fn EventListener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], fn)
}

// emit invokes every listener registered for e.Type(), in registration
// order, synchronously with the event source.
func (b *Broker) emit(e events.Event) {
	b.listenersMu.Lock()
	fns := append([]EventListener(nil), b.listeners[e.Type()]...)
	b.listenersMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Close clears both cluster-presence timers, then closes every registered
// session in parallel, then returns. After Close returns the broker is
// terminal: Publish, RegisterClient and the rest are not defined.
func (b *Broker) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	b.closeMu.Unlock()

	close(b.stopCh)
	b.wg.Wait()

	b.bus.RemoveListener(b.heartbeatListenerID)
	b.bus.RemoveListener(b.takeoverListenerID)

	b.mu.RLock()
	sessions := make([]ClientSession, 0, len(b.clients))
	for _, s := range b.clients {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(sessions))
	for _, s := range sessions {
		s := s
		s.Close(func(error) { wg.Done() })
	}
	wg.Wait()

	return b.store.Close()
}

func (b *Broker) isClosed() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	return b.closed
}

// backgroundCtx is used for persistence/bus calls made from timer-driven
// loops, which have no natural caller context to inherit.
func backgroundCtx() context.Context { return context.Background() }
