// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import "sync"

// =============================================================================
// SUBSCRIPTION REGISTRY
// =============================================================================

// registry holds the subscribers of one event channel. Dispatch happens in
// registration order; unsubscribing is safe at any time, including from
// inside a handler.
type registry[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// subscribe registers a handler and returns its disposer. The disposer is
// idempotent.
func (r *registry[T]) subscribe(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs = append(r.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// publish delivers an event to every current subscriber, synchronously.
func (r *registry[T]) publish(ev T) {
	r.mu.Lock()
	subs := make([]subscriber[T], len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	// Handlers run outside the lock so they may unsubscribe or resubscribe.
	for _, s := range subs {
		s.fn(ev)
	}
}

// =============================================================================
// EVENT HUB
// =============================================================================

// Hub fans stream events out to per-channel subscribers. Events within one
// channel are delivered in the order they were published; ordering across
// channels follows the order of the underlying stream reads.
type Hub struct {
	tokens    registry[TokenEvent]
	reasoning registry[TokenEvent]
	sources   registry[SourcesEvent]
	status    registry[StatusEvent]
	complete  registry[CompleteEvent]
	failures  registry[ErrorEvent]
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{}
}

// OnToken subscribes to answer tokens.
func (h *Hub) OnToken(fn func(TokenEvent)) func() {
	return h.tokens.subscribe(fn)
}

// OnReasoning subscribes to reasoning tokens.
func (h *Hub) OnReasoning(fn func(TokenEvent)) func() {
	return h.reasoning.subscribe(fn)
}

// OnSources subscribes to citation batches.
func (h *Hub) OnSources(fn func(SourcesEvent)) func() {
	return h.sources.subscribe(fn)
}

// OnStatus subscribes to pipeline stage announcements.
func (h *Hub) OnStatus(fn func(StatusEvent)) func() {
	return h.status.subscribe(fn)
}

// OnComplete subscribes to stream completion markers.
func (h *Hub) OnComplete(fn func(CompleteEvent)) func() {
	return h.complete.subscribe(fn)
}

// OnError subscribes to mid-stream failures.
func (h *Hub) OnError(fn func(ErrorEvent)) func() {
	return h.failures.subscribe(fn)
}

// Publish methods are called by the stream reader goroutine.

func (h *Hub) publishToken(ev TokenEvent)       { h.tokens.publish(ev) }
func (h *Hub) publishReasoning(ev TokenEvent)   { h.reasoning.publish(ev) }
func (h *Hub) publishSources(ev SourcesEvent)   { h.sources.publish(ev) }
func (h *Hub) publishStatus(ev StatusEvent)     { h.status.publish(ev) }
func (h *Hub) publishComplete(ev CompleteEvent) { h.complete.publish(ev) }
func (h *Hub) publishError(ev ErrorEvent)       { h.failures.publish(ev) }
