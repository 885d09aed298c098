// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the broker's typed observable events. Every
// event is delivered synchronously to registered listeners via
// broker.On, and can additionally be wrapped in an Envelope for anything
// that wants to serialize or forward it (a future webhook layer, an
// audit log).
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants, matching the broker's observable event names.
const (
	TypeClient           = "client"
	TypeClientDisconnect = "clientDisconnect"
	TypePublish          = "publish"
	TypeError            = "error"
)

// Event is the common interface satisfied by every typed event.
type Event interface {
	// Type returns the event type identifier.
	Type() string

	// Wrap wraps the event in an envelope stamped with the emitting
	// broker's id and a fresh event id.
	Wrap(brokerID string) *Envelope
}

// Envelope is the serializable wrapper for any Event.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	BrokerID  string `json:"broker_id"`
	Data      any    `json:"data"`
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(*e)
}

func wrap(e Event, brokerID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrokerID:  brokerID,
		Data:      e,
	}
}

// Client is emitted after registerClient installs a session.
type Client struct {
	ClientID string `json:"client_id"`
}

func (e Client) Type() string                   { return TypeClient }
func (e Client) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// ClientDisconnect is emitted after unregisterClient removes a session.
type ClientDisconnect struct {
	ClientID string `json:"client_id"`
}

func (e ClientDisconnect) Type() string                   { return TypeClientDisconnect }
func (e ClientDisconnect) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// Publish is emitted synchronously, immediately before the published hook
// is invoked. ClientID is empty for broker-generated
// system publishes (heartbeats, will republication).
type Publish struct {
	ClientID string `json:"client_id,omitempty"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	Retain   bool   `json:"retain"`
}

func (e Publish) Type() string                   { return TypePublish }
func (e Publish) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// Error is emitted for a broker-fatal failure (a persistence error
// during offline-enqueue subscriber lookup, per spec §7) and for a
// failure of the will sweep (streaming wills or deleting a republished
// will).
type Error struct {
	Message string `json:"message"`
}

func (e Error) Type() string                   { return TypeError }
func (e Error) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }
