// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solderzzc/aedes/config"
	busmemory "github.com/solderzzc/aedes/bus/memory"
)

// TestRegisterClientTakeoverIsIdempotent covers the round-trip property:
// registering two distinct sessions under the same id closes the first
// and leaves the second installed.
func TestRegisterClientTakeoverIsIdempotent(t *testing.T) {
	b := newTestBroker(t, nil)

	first := newNopSession("c1")
	second := newNopSession("c1")

	require.NoError(t, b.RegisterClient(first))
	require.NoError(t, b.RegisterClient(second))

	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.Equal(t, 1, b.ConnectedClients())
	assert.Same(t, second, b.clients["c1"])
}

// TestCrossBrokerTakeover is end-to-end scenario 2: two brokers sharing a
// bus, registering the same client id, must converge to exactly one live
// session for that id, held by the broker that registered last.
func TestCrossBrokerTakeover(t *testing.T) {
	sharedBus := busmemory.New()
	t.Cleanup(func() { _ = sharedBus.Close() })

	cfgA := config.Default()
	cfgA.HeartbeatInterval = 20 * time.Millisecond
	cfgA.Bus = sharedBus
	a, err := New(cfgA)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	cfgB := config.Default()
	cfgB.HeartbeatInterval = 20 * time.Millisecond
	cfgB.Bus = sharedBus
	b, err := New(cfgB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	sessionA := newNopSession("c1")
	require.NoError(t, a.RegisterClient(sessionA))

	sessionB := newNopSession("c1")
	require.NoError(t, b.RegisterClient(sessionB))

	require.Eventually(t, func() bool {
		a.mu.RLock()
		_, stillOnA := a.clients["c1"]
		a.mu.RUnlock()
		return !stillOnA
	}, time.Second, time.Millisecond)

	assert.True(t, sessionA.closed)
	assert.Equal(t, 0, a.ConnectedClients())
	assert.Equal(t, 1, b.ConnectedClients())
}
