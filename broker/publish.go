// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/solderzzc/aedes/events"
	"github.com/solderzzc/aedes/persistence"
	"github.com/solderzzc/aedes/pkg/packet"
	"github.com/solderzzc/aedes/topics"
)

// publishCtx is the shared per-publish context threaded through the stage
// list. It replaces the callback-chain the pipeline is conceptually built
// from: the contract is the stage sequence and its completion semantics,
// not the mechanism.
type publishCtx struct {
	ctx    context.Context
	broker *Broker
	pkt    packet.Packet
	client ClientSession
}

type stage func(pc *publishCtx) error

// simplePipeline and durablePipeline are built once, not per publish, and
// selected by qos in Publish.
var (
	simplePipeline  = []stage{storeRetainedStage, emitOnBusStage, callPublishedStage}
	durablePipeline = []stage{storeRetainedStage, enqueueOfflineStage, emitOnBusStage, callPublishedStage}
)

// offlineEnqueuer is the reusable object enqueueOfflineStage draws from
// Broker.enqueuerPool, grounded on the teacher's message-pool pattern: a
// slice reused across calls, reset before use and returned after the
// stage's fan-out has completed.
type offlineEnqueuer struct {
	subs []persistence.Subscription
}

func (e *offlineEnqueuer) reset() {
	e.subs = e.subs[:0]
}

// Publish wraps (topic, payload, qos, retain) in a freshly numbered
// Packet and runs it through the simple (qos 0) or durable (qos > 0)
// pipeline. client is nil for broker-generated system publishes
// (heartbeats, will republication). done, if non-nil, is invoked exactly
// once: after the final stage completes, or as soon as any stage reports
// an error.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool, client ClientSession, done func(error)) {
	if b.isClosed() {
		if done != nil {
			done(ErrClosed)
		}
		return
	}
	if err := topics.ValidateTopicName(topic); err != nil {
		if done != nil {
			done(fmt.Errorf("%w: %v", ErrInvalidTopic, err))
		}
		return
	}
	if qos > 2 {
		if done != nil {
			done(ErrInvalidQoS)
		}
		return
	}

	pkt, err := b.nextPacket(topic, payload, qos, retain)
	if err != nil {
		if done != nil {
			done(fmt.Errorf("broker: publish: %w", err))
		}
		return
	}

	if ctx == nil {
		ctx = backgroundCtx()
	}
	pc := &publishCtx{ctx: ctx, broker: b, pkt: pkt, client: client}

	stages := simplePipeline
	if qos > 0 {
		stages = durablePipeline
	}

	for _, st := range stages {
		if err := st(pc); err != nil {
			if done != nil {
				done(err)
			}
			return
		}
	}
	if done != nil {
		done(nil)
	}
}

// storeRetainedStage upserts the packet into persistence's retained store
// when retain is set; a no-op otherwise. An empty payload is a delete,
// handled by the persistence backend.
func storeRetainedStage(pc *publishCtx) error {
	if !pc.pkt.Retain {
		return nil
	}
	if err := pc.broker.store.StoreRetained(pc.ctx, pc.pkt); err != nil {
		return fmt.Errorf("broker: storeRetained: %w", err)
	}
	return nil
}

// enqueueOfflineStage looks up persisted subscribers matching the
// packet's topic, guards $SYS topics against the bare "#" filter, and
// enqueues the packet into each remaining subscriber's durable outbound
// queue in parallel. A failure during the subscriber lookup itself is
// fatal to the broker and raised as an error event, per the dispatcher's
// at-least-once obligation; a failure during an individual enqueue is
// aggregated and surfaced to the publish callback without emitting an
// error event.
func enqueueOfflineStage(pc *publishCtx) error {
	b := pc.broker

	subs, err := b.store.SubscriptionsByTopic(pc.ctx, pc.pkt.Topic)
	if err != nil {
		wrapped := fmt.Errorf("broker: enqueueOffline: subscriber lookup: %w", err)
		b.emit(events.Error{Message: wrapped.Error()})
		return wrapped
	}

	enq := b.enqueuerPool.Get().(*offlineEnqueuer)
	enq.reset()
	defer b.enqueuerPool.Put(enq)

	sysTopic := strings.HasPrefix(pc.pkt.Topic, topics.SysPrefix)
	for _, sub := range subs {
		if sysTopic && sub.Filter == "#" {
			continue
		}
		enq.subs = append(enq.subs, sub)
	}
	if len(enq.subs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(pc.ctx)
	for _, sub := range enq.subs {
		sub := sub
		g.Go(func() error {
			return b.store.OutgoingEnqueue(gctx, sub, pc.pkt)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("broker: enqueueOffline: %w", err)
	}
	return nil
}

// emitOnBusStage hands the packet to the live fan-out bus. Listeners in
// this design never return an error (bus.Listener fires callbacks, it
// does not call back with a result); a listener that needs to report a
// failure does so through the error event instead.
func emitOnBusStage(pc *publishCtx) error {
	pc.broker.bus.Emit(pc.pkt)
	return nil
}

// callPublishedStage emits the publish event synchronously, before
// invoking the user-configured published hook, per the resolved open
// question on hook/event ordering: observers must not assume the publish
// has been user-acknowledged. An error from the hook is the pipeline's
// result, surfaced to the publish callback.
func callPublishedStage(pc *publishCtx) error {
	clientID := ""
	if pc.client != nil {
		clientID = pc.client.ID()
	}

	pc.broker.emit(events.Publish{
		ClientID: clientID,
		Topic:    pc.pkt.Topic,
		QoS:      pc.pkt.QoS,
		Retain:   pc.pkt.Retain,
	})

	if err := pc.broker.cfg.Published(pc.pkt, clientID); err != nil {
		return fmt.Errorf("broker: published hook: %w", err)
	}
	return nil
}
