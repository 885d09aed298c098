// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solderzzc/aedes/config"
	"github.com/solderzzc/aedes/events"
	persistencebadger "github.com/solderzzc/aedes/persistence/badger"
)

func newTestBroker(t *testing.T, mutate func(*config.Config)) *Broker {
	t.Helper()
	cfg := config.Default()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConnectedClientsMatchesClientMap(t *testing.T) {
	b := newTestBroker(t, nil)

	require.NoError(t, b.RegisterClient(newNopSession("c1")))
	require.NoError(t, b.RegisterClient(newNopSession("c2")))
	assert.Equal(t, 2, b.ConnectedClients())

	b.UnregisterClient(b.clients["c1"])
	assert.Equal(t, 1, b.ConnectedClients())
}

func TestBrokerCounterStrictlyIncreasing(t *testing.T) {
	b := newTestBroker(t, nil)

	p1, err := b.nextPacket("a", nil, 0, false)
	require.NoError(t, err)
	p2, err := b.nextPacket("a", nil, 0, false)
	require.NoError(t, err)

	assert.Less(t, p1.BrokerCounter, p2.BrokerCounter)
	assert.Equal(t, b.id, p1.BrokerID)
	assert.NotEqual(t, p1.ID(), p2.ID())
}

func TestCloseStopsTimersAndClosesSessions(t *testing.T) {
	cfg := config.Default()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	b, err := New(cfg)
	require.NoError(t, err)

	session := newNopSession("c1")
	require.NoError(t, b.RegisterClient(session))

	require.NoError(t, b.Close())
	assert.True(t, session.closed)

	// Close is idempotent.
	require.NoError(t, b.Close())
}

func TestPublishAfterCloseReturnsErrClosed(t *testing.T) {
	b := newTestBroker(t, nil)
	require.NoError(t, b.Close())

	errc := make(chan error, 1)
	b.Publish(nil, "a/b", []byte("x"), 0, false, nil, func(err error) { errc <- err })
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestNewSelectsBadgerBackend(t *testing.T) {
	cfg := config.Default()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.Store = config.StoreConfig{Backend: "badger", Dir: t.TempDir()}

	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.IsType(t, &persistencebadger.Store{}, b.store)

	done := make(chan error, 1)
	b.Publish(nil, "a/b", []byte("retained"), 0, true, nil, func(err error) { done <- err })
	require.NoError(t, <-done)

	it, err := b.store.RetainedStream(context.Background(), "a/+")
	require.NoError(t, err)
	pkt, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a/b", pkt.Topic)
	require.NoError(t, it.Close())
}

func TestOnDeliversEventsInRegistrationOrder(t *testing.T) {
	b := newTestBroker(t, nil)

	var order []int
	b.On("client", func(events.Event) { order = append(order, 1) })
	b.On("client", func(events.Event) { order = append(order, 2) })

	require.NoError(t, b.RegisterClient(newNopSession("c1")))
	assert.Equal(t, []int{1, 2}, order)
}
