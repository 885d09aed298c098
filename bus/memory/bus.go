// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory is the default bus.Bus backend: a topic trie shared by
// every listener registered in this process. It carries no cluster
// awareness of its own; ClusterPresence layers heartbeat and will-sweep
// semantics on top by publishing to reserved $SYS topics through it.
package memory

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/solderzzc/aedes/bus"
	"github.com/solderzzc/aedes/pkg/packet"
)

var _ bus.Bus = (*Bus)(nil)

const separator = "/"
const sysPrefix = "$SYS"

type node struct {
	children map[string]*node
	subs     map[uint64]bus.Listener
}

func newNode() *node {
	return &node{
		children: make(map[string]*node),
		subs:     make(map[uint64]bus.Listener),
	}
}

// Bus is the in-memory trie-based implementation of bus.Bus.
type Bus struct {
	mu        sync.RWMutex
	root      *node
	byID      map[uint64]string // id -> filter, for RemoveListener
	nextID    uint64
	slicePool sync.Pool
}

// New returns an empty in-process bus.
func New() *Bus {
	b := &Bus{
		root: newNode(),
		byID: make(map[uint64]string),
	}
	b.slicePool.New = func() interface{} {
		s := make([]bus.Listener, 0, 8)
		return &s
	}
	return b
}

func (b *Bus) On(filter string, fn bus.Listener) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := atomic.AddUint64(&b.nextID, 1)

	levels := strings.Split(filter, separator)
	n := b.root
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}
	n.subs[id] = fn
	b.byID[id] = filter
	return id
}

func (b *Bus) RemoveListener(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filter, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	levels := strings.Split(filter, separator)
	n := b.root
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			return
		}
		n = child
	}
	delete(n.subs, id)
}

func (b *Bus) Emit(pkt packet.Packet) {
	levels := strings.Split(pkt.Topic, separator)
	sysTopic := strings.HasPrefix(pkt.Topic, sysPrefix)

	b.mu.RLock()
	listeners := b.slicePool.Get().(*[]bus.Listener)
	*listeners = (*listeners)[:0]
	matchLevel(b.root, levels, 0, sysTopic, listeners)
	fns := append([]bus.Listener(nil), (*listeners)...)
	b.slicePool.Put(listeners)
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(pkt)
	}
}

// matchLevel walks the trie in lockstep with the topic's levels. sysTopic
// disables the wildcard branches at level 0, matching MQTT's rule that a
// bare '+' or '#' filter never reaches into the $SYS namespace.
func matchLevel(n *node, levels []string, index int, sysTopic bool, matched *[]bus.Listener) {
	guarded := sysTopic && index == 0

	if index == len(levels) {
		for _, fn := range n.subs {
			*matched = append(*matched, fn)
		}
		if !guarded {
			if wild, ok := n.children["#"]; ok {
				for _, fn := range wild.subs {
					*matched = append(*matched, fn)
				}
			}
		}
		return
	}

	level := levels[index]

	if child, ok := n.children[level]; ok {
		matchLevel(child, levels, index+1, sysTopic, matched)
	}
	if !guarded {
		if child, ok := n.children["+"]; ok {
			matchLevel(child, levels, index+1, sysTopic, matched)
		}
		if child, ok := n.children["#"]; ok {
			for _, fn := range child.subs {
				*matched = append(*matched, fn)
			}
		}
	}
}

func (b *Bus) Close() error { return nil }
