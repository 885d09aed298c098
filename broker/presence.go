// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/solderzzc/aedes/events"
	"github.com/solderzzc/aedes/persistence"
	"github.com/solderzzc/aedes/pkg/packet"
)

func sysTopicHeartbeat(brokerID string) string  { return "$SYS/" + brokerID + "/heartbeat" }
func sysTopicNewClients(brokerID string) string { return "$SYS/" + brokerID + "/new/clients" }

// startPresence self-subscribes the broker to the reserved cluster topics
// and starts the heartbeat and will-sweep timers. Called once from New.
func (b *Broker) startPresence() {
	b.heartbeatListenerID = b.bus.On("$SYS/+/heartbeat", b.onHeartbeat)
	b.takeoverListenerID = b.bus.On("$SYS/+/new/clients", b.onNewClient)

	b.wg.Add(2)
	go b.heartbeatLoop()
	go b.sweepLoop()
}

// onHeartbeat records the emitting peer's liveness, including this
// broker's own heartbeats: self-liveness is harmless.
func (b *Broker) onHeartbeat(pkt packet.Packet) {
	peerID := string(pkt.Payload)
	if peerID == "" {
		return
	}
	b.mu.Lock()
	b.brokers[peerID] = time.Now()
	b.mu.Unlock()
}

// onNewClient is the cross-broker single-session enforcement hook: a peer
// broker's new/clients notification for a client id this broker still
// holds locally closes the local copy.
func (b *Broker) onNewClient(pkt packet.Packet) {
	parts := strings.SplitN(pkt.Topic, "/", 3)
	if len(parts) < 2 {
		return
	}
	origin := parts[1]
	if origin == b.id {
		return
	}

	clientID := string(pkt.Payload)
	if clientID == "" {
		return
	}
	b.unregisterClientByID(clientID)
}

func (b *Broker) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Publish(backgroundCtx(), sysTopicHeartbeat(b.id), []byte(b.id), 0, false, nil, nil)
		}
	}
}

func (b *Broker) sweepLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(4 * b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if !b.sweepJitter() {
				return
			}
			b.sweepOnce()
		}
	}
}

// sweepJitter optionally delays the sweep by a random duration up to
// cfg.Cluster.SweepJitter, to reduce duplicate wills across brokers
// recovering from the same partition heal. It reports false if stopCh
// fired while waiting, signaling the caller to exit.
func (b *Broker) sweepJitter() bool {
	if b.cfg.Cluster.SweepJitter <= 0 {
		return true
	}
	d := time.Duration(rand.Int63n(int64(b.cfg.Cluster.SweepJitter)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-b.stopCh:
		return false
	}
}

// sweepOnce garbage-collects stale peer entries, then streams and
// redelivers every will owned by a broker absent from the resulting live
// set.
func (b *Broker) sweepOnce() {
	staleness := 3 * b.cfg.HeartbeatInterval
	cutoff := time.Now().Add(-staleness)

	b.mu.Lock()
	for peer, lastSeen := range b.brokers {
		if lastSeen.Before(cutoff) {
			delete(b.brokers, peer)
		}
	}
	live := make(map[string]time.Time, len(b.brokers))
	for k, v := range b.brokers {
		live[k] = v
	}
	b.mu.Unlock()

	ctx := backgroundCtx()
	it, err := b.store.StreamWill(ctx, live)
	if err != nil {
		b.emit(events.Error{Message: fmt.Errorf("broker: will sweep: stream: %w", err).Error()})
		return
	}
	defer it.Close()

	err = drainWillBatches(ctx, it, func(batch []persistence.Will) error {
		for _, w := range batch {
			b.recheckAndRepublishWill(ctx, w)
		}
		return nil
	})
	if err != nil {
		b.emit(events.Error{Message: fmt.Errorf("broker: will sweep: %w", err).Error()})
	}
}

// recheckAndRepublishWill re-checks the owning broker's liveness (it may
// have been repopulated mid-stream) before republishing; on a successful
// publish it deletes the will so it is not redelivered again.
func (b *Broker) recheckAndRepublishWill(ctx context.Context, w persistence.Will) {
	b.mu.RLock()
	lastSeen, stillLive := b.brokers[w.BrokerID]
	b.mu.RUnlock()

	if stillLive && time.Since(lastSeen) <= 3*b.cfg.HeartbeatInterval {
		return
	}

	result := make(chan error, 1)
	b.Publish(ctx, w.Packet.Topic, w.Packet.Payload, w.Packet.QoS, w.Packet.Retain, nil, func(err error) {
		result <- err
	})
	if err := <-result; err != nil {
		return
	}

	if err := b.store.DelWill(ctx, w.ClientID); err != nil {
		b.emit(events.Error{Message: fmt.Errorf("broker: will sweep: delWill: %w", err).Error()})
	}
}
