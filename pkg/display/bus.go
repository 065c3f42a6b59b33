// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package display

import (
	"log/slog"
	"sync/atomic"

	"github.com/cskr/pubsub"
)

const topicDisplay = "display"

// Subscription delivers Event values
type Subscription chan interface{}

// Bus fans display events out to subscribers
type Bus struct {
	ps     *pubsub.PubSub
	closed atomic.Bool
	logger *slog.Logger
}

// NewBus creates a bus buffering up to capacity events per subscriber
func NewBus(capacity int, logger *slog.Logger) *Bus {
	return &Bus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

// Publish sends an event to every subscriber without waiting. A
// subscriber whose buffer is full misses the event; the manager loop
// never stalls on a slow display client.
func (b *Bus) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	b.logger.Debug("publish", "event", e.Type.String())
	b.ps.TryPub(e, topicDisplay)
}

// Subscribe registers a new subscriber
func (b *Bus) Subscribe() Subscription {
	if b.closed.Load() {
		sub := make(Subscription)
		close(sub)
		return sub
	}
	b.logger.Debug("subscribe")
	return b.ps.Sub(topicDisplay)
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(sub Subscription) {
	if b.closed.Load() {
		return
	}
	b.logger.Debug("unsubscribe")
	// Drain concurrently, pubsub delivers to the channel until Unsub is processed
	go func() {
		for range sub {
		}
	}()
	b.ps.Unsub(sub, topicDisplay)
}

// Close shuts the bus down and closes every subscription
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.ps.Shutdown()
}
