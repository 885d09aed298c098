// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)

	ok, err := cfg.Authenticate("client-1", "u", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().HeartbeatInterval, cfg.HeartbeatInterval)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aedes.yaml")

	cfg := Default()
	cfg.HeartbeatInterval = 5 * time.Second
	cfg.Log.Level = "debug"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, loaded.HeartbeatInterval)
	assert.Equal(t, "debug", loaded.Log.Level)
}

func TestValidateRejectsBadFields(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cluster.SweepJitter = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Backend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Backend = "badger"
	cfg.Store.Dir = ""
	assert.Error(t, cfg.Validate())
}

func TestApplyDefaultsFillsStoreBackend(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	require.NotNil(t, cfg.Authenticate)
	require.NotNil(t, cfg.AuthorizeSubscribe)
	assert.Equal(t, Default().HeartbeatInterval, cfg.HeartbeatInterval)

	filter, qos, err := cfg.AuthorizeSubscribe("c1", "a/b", 1)
	require.NoError(t, err)
	assert.Equal(t, "a/b", filter)
	assert.Equal(t, byte(1), qos)
}
