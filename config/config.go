// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config holds the broker's configuration: hook defaults, timer
// intervals, and the pluggable persistence/bus backends.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solderzzc/aedes/bus"
	"github.com/solderzzc/aedes/pkg/packet"
	"github.com/solderzzc/aedes/persistence"
)

// AuthenticateFunc gates CONNECT.
type AuthenticateFunc func(sessionID, username string, password []byte) (ok bool, err error)

// AuthorizePublishFunc gates an incoming PUBLISH before it enters the pipeline.
type AuthorizePublishFunc func(sessionID string, pkt packet.Packet) error

// AuthorizeSubscribeFunc may downgrade or deny a subscription request. An
// empty returned filter denies the subscription.
type AuthorizeSubscribeFunc func(sessionID, filter string, qos byte) (allowedFilter string, allowedQoS byte, err error)

// AuthorizeForwardFunc runs synchronously immediately before an outbound
// PUBLISH is written; it may rewrite or drop (nil) the packet.
type AuthorizeForwardFunc func(sessionID string, pkt packet.Packet) *packet.Packet

// PublishedFunc is invoked after the pipeline for pkt has completed, with
// the originating client id ("" for broker-generated system publishes). An
// error return is surfaced to the publish callback as the pipeline's
// result.
type PublishedFunc func(pkt packet.Packet, clientID string) error

// Config is the broker's construction-time configuration. Every field has
// a usable zero value produced by Default; broker.New validates cfg
// before building a Broker.
type Config struct {
	// Concurrency hints the maximum number of parallel per-connection
	// operations; the core never reads it directly, but exposes it for
	// the protocol layer.
	Concurrency int `yaml:"concurrency"`

	// HeartbeatInterval is the period between $SYS heartbeat publishes.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ConnectTimeout bounds the CONNECT handshake; the core never reads
	// it directly, but exposes it for the protocol layer.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Cluster ClusterConfig `yaml:"cluster"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`

	Authenticate       AuthenticateFunc       `yaml:"-"`
	AuthorizePublish   AuthorizePublishFunc   `yaml:"-"`
	AuthorizeSubscribe AuthorizeSubscribeFunc `yaml:"-"`
	AuthorizeForward   AuthorizeForwardFunc   `yaml:"-"`
	Published          PublishedFunc          `yaml:"-"`

	// Bus is the message bus the broker publishes and subscribes
	// through. Nil selects an in-memory default at construction.
	Bus bus.Bus `yaml:"-"`

	// Persistence is the durable store the broker reads and writes
	// through. Nil selects the backend named by Store at construction.
	Persistence persistence.Store `yaml:"-"`
}

// ClusterConfig controls the will-sweep loop.
type ClusterConfig struct {
	// SweepJitter, if non-zero, adds a random delay up to this duration
	// before each will-sweep tick, to reduce duplicate wills across
	// brokers recovering from the same partition heal.
	SweepJitter time.Duration `yaml:"sweep_jitter"`
}

// LogConfig controls the broker's structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StoreConfig selects the persistence.Store backend broker.New builds
// when Config.Persistence is left nil. It has no effect if Persistence
// is set programmatically.
type StoreConfig struct {
	// Backend is "memory" (default) or "badger".
	Backend string `yaml:"backend"`
	// Dir is the BadgerDB data directory. Required when Backend is
	// "badger".
	Dir string `yaml:"dir"`
}

// Default returns a Config with sensible defaults and permit-all hooks.
// Bus and Persistence are left nil; broker.New fills in in-memory
// defaults for either field left unset.
func Default() *Config {
	return &Config{
		Concurrency:       100,
		HeartbeatInterval: 60 * time.Second,
		ConnectTimeout:    30 * time.Second,
		Cluster:           ClusterConfig{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Authenticate:     func(string, string, []byte) (bool, error) { return true, nil },
		AuthorizePublish: func(string, packet.Packet) error { return nil },
		AuthorizeSubscribe: func(_, filter string, qos byte) (string, byte, error) {
			return filter, qos, nil
		},
		AuthorizeForward: func(_ string, pkt packet.Packet) *packet.Packet { return &pkt },
		Published:        func(packet.Packet, string) error { return nil },
	}
}

// Load reads YAML configuration from filename and applies it over
// Default(). A missing file is not an error: Default() is returned
// unchanged. Bus, Persistence, and the hook functions are never
// populated from YAML; callers set them programmatically after Load.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

// Save writes the YAML-serializable subset of cfg to filename. Hooks and
// the Bus/Persistence backends are not serializable and are omitted.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", filename, err)
	}
	return nil
}

// Validate checks that cfg's scalar fields are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat_interval cannot be negative")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout cannot be negative")
	}
	if c.Cluster.SweepJitter < 0 {
		return fmt.Errorf("cluster.sweep_jitter cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if c.Log.Format != "" && !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	validBackends := map[string]bool{"": true, "memory": true, "badger": true}
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("store.backend must be one of: memory, badger")
	}
	if c.Store.Backend == "badger" && c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required when store.backend is badger")
	}

	return nil
}

// ApplyDefaults fills any zero-valued hook or interval field on c with
// Default()'s value. It never overwrites a caller-supplied Bus or
// Persistence: that substitution happens in broker.New, which owns
// construction of the in-memory fallback.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.Authenticate == nil {
		c.Authenticate = d.Authenticate
	}
	if c.AuthorizePublish == nil {
		c.AuthorizePublish = d.AuthorizePublish
	}
	if c.AuthorizeSubscribe == nil {
		c.AuthorizeSubscribe = d.AuthorizeSubscribe
	}
	if c.AuthorizeForward == nil {
		c.AuthorizeForward = d.AuthorizeForward
	}
	if c.Published == nil {
		c.Published = d.Published
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
}
