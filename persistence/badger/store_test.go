// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solderzzc/aedes/pkg/packet"
	"github.com/solderzzc/aedes/persistence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func drainRetained(t *testing.T, it persistence.RetainedIterator) []packet.Packet {
	t.Helper()
	var out []packet.Packet
	for {
		pkt, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, pkt)
	}
	require.NoError(t, it.Close())
	return out
}

func TestStoreRetainedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Config{Dir: dir})
	require.NoError(t, err)

	p, err := packet.New("a/b", []byte("hi"), 0, true, "broker-1", 1)
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained(ctx, p))
	require.NoError(t, s.Close())

	reopened, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	it, err := reopened.RetainedStream(ctx, "a/+")
	require.NoError(t, err)
	got := drainRetained(t, it)
	require.Len(t, got, 1)
	assert.Equal(t, "a/b", got[0].Topic)
	assert.Equal(t, []byte("hi"), got[0].Payload)
}

func TestStoreRetainedEmptyPayloadClears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := packet.New("a/b", []byte("hi"), 0, true, "broker-1", 1)
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained(ctx, p))

	cleared, err := packet.New("a/b", nil, 0, true, "broker-1", 2)
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained(ctx, cleared))

	it, err := s.RetainedStream(ctx, "a/+")
	require.NoError(t, err)
	assert.Empty(t, drainRetained(t, it))
}

func TestStoreRetainedStreamExcludesSys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pub, err := packet.New("a/b", []byte("x"), 0, true, "broker-1", 1)
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained(ctx, pub))

	sys, err := packet.New("$SYS/clients", []byte("1"), 0, true, "broker-1", 2)
	require.NoError(t, err)
	require.NoError(t, s.StoreRetained(ctx, sys))

	it, err := s.RetainedStream(ctx, "#")
	require.NoError(t, err)
	got := drainRetained(t, it)
	require.Len(t, got, 1)
	assert.Equal(t, "a/b", got[0].Topic)
}

func TestStoreWillPutStreamDelSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Config{Dir: dir})
	require.NoError(t, err)

	p, err := packet.New("clients/1/lwt", []byte("bye"), 1, false, "broker-1", 1)
	require.NoError(t, err)
	require.NoError(t, s.PutWill(ctx, persistence.Will{ClientID: "client-1", BrokerID: "broker-1", Packet: p}))
	require.NoError(t, s.Close())

	reopened, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	live := map[string]time.Time{"broker-2": time.Now()}
	it, err := reopened.StreamWill(ctx, live)
	require.NoError(t, err)

	w, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "client-1", w.ClientID)
	require.NoError(t, it.Close())

	require.NoError(t, reopened.DelWill(ctx, "client-1"))

	it, err = reopened.StreamWill(ctx, map[string]time.Time{})
	require.NoError(t, err)
	_, ok, err = it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreWillStreamSkipsLiveBroker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := packet.New("clients/1/lwt", []byte("bye"), 1, false, "broker-1", 1)
	require.NoError(t, err)
	require.NoError(t, s.PutWill(ctx, persistence.Will{ClientID: "client-1", BrokerID: "broker-1", Packet: p}))

	live := map[string]time.Time{"broker-1": time.Now()}
	it, err := s.StreamWill(ctx, live)
	require.NoError(t, err)
	_, ok, err := it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreSubscriptionsDelegateToMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddSubscriptions(ctx, "client-1", []persistence.Subscription{
		{Filter: "a/+", QoS: 1},
	}))

	byTopic, err := s.SubscriptionsByTopic(ctx, "a/b")
	require.NoError(t, err)
	require.Len(t, byTopic, 1)
	assert.Equal(t, "client-1", byTopic[0].ClientID)

	require.NoError(t, s.RemoveSubscriptions(ctx, "client-1", []string{"a/+"}))
	byTopic, err = s.SubscriptionsByTopic(ctx, "a/b")
	require.NoError(t, err)
	assert.Empty(t, byTopic)
}
