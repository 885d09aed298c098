// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapStampsEnvelope(t *testing.T) {
	e := Publish{ClientID: "c1", Topic: "a/b", QoS: 1}
	env := e.Wrap("broker-1")

	assert.Equal(t, TypePublish, env.EventType)
	assert.Equal(t, "broker-1", env.BrokerID)
	assert.NotEmpty(t, env.EventID)
	assert.NotEmpty(t, env.Timestamp)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"topic":"a/b"`)
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, TypeClient, Client{}.Type())
	assert.Equal(t, TypeClientDisconnect, ClientDisconnect{}.Type())
	assert.Equal(t, TypePublish, Publish{}.Type())
	assert.Equal(t, TypeError, Error{}.Type())
}
