// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package packet defines the broker's wire-agnostic publication envelope.
package packet

import "fmt"

// Packet is an envelope around a user publication, stamped with the
// owning broker's id and a per-broker monotonic sequence number. The pair
// (BrokerID, BrokerCounter) uniquely identifies a packet within the
// cluster for the purpose of persisted outgoing queues.
//
// A Packet is immutable once constructed: nothing in this package or in
// broker mutates a Packet's fields after New returns it.
type Packet struct {
	Topic         string
	Payload       []byte
	QoS           byte
	Retain        bool
	BrokerID      string
	BrokerCounter uint64
}

// New builds a Packet for a broker-local publish. topic must be non-empty;
// qos must be 0, 1, or 2. counter is the broker's freshly incremented
// sequence number.
func New(topic string, payload []byte, qos byte, retain bool, brokerID string, counter uint64) (Packet, error) {
	if topic == "" {
		return Packet{}, fmt.Errorf("packet: empty topic")
	}
	if qos > 2 {
		return Packet{}, fmt.Errorf("packet: invalid qos %d", qos)
	}
	return Packet{
		Topic:         topic,
		Payload:       payload,
		QoS:           qos,
		Retain:        retain,
		BrokerID:      brokerID,
		BrokerCounter: counter,
	}, nil
}

// ID returns the cluster-unique identifier for this packet.
func (p Packet) ID() string {
	return fmt.Sprintf("%s:%d", p.BrokerID, p.BrokerCounter)
}
