// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub implements the identity lifecycle event feed.
//
// The identity provider publishes auth lifecycle events (sign-in completed,
// hosted-UI redirect resolved or failed, sign-out) and the session manager
// subscribes to them. Subscriptions are explicit objects with an explicit
// Unsubscribe, so a consumer being torn down never leaves a dangling global
// listener behind.
package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/liftcv/liftcv/pkg/logger"
)

// EventKind identifies a class of identity lifecycle event.
type EventKind string

// Lifecycle event kinds published by identity providers.
const (
	// SignedIn is published after an explicit credential sign-in completes.
	SignedIn EventKind = "signedIn"

	// SignInWithRedirect is published after a hosted-UI redirect resolves to a session.
	SignInWithRedirect EventKind = "signInWithRedirect"

	// SignInWithRedirectFailure is published when resolving a hosted-UI redirect fails.
	SignInWithRedirectFailure EventKind = "signInWithRedirect_failure"

	// SignedOut is published after the provider's session is terminated.
	SignedOut EventKind = "signedOut"
)

// Event is a single identity lifecycle notification.
type Event struct {
	Kind EventKind

	// Message carries a human-readable detail for failure events.
	Message string
}

// subscriberBuffer bounds each subscriber's channel. Lifecycle events are
// rare; a full buffer indicates an abandoned subscriber, and publishes to it
// are dropped rather than blocking the provider.
const subscriberBuffer = 16

// Hub is an in-process fan-out of identity lifecycle events.
// The zero value is not usable; construct with New.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]*Subscription)}
}

// Subscription is a handle to a Hub subscription. Receive events from C and
// call Unsubscribe when the owning component is torn down.
type Subscription struct {
	id    string
	kinds map[EventKind]bool
	ch    chan Event
	hub   *Hub
	once  sync.Once
}

// C returns the channel delivering the subscribed events.
// The channel is closed by Unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Unsubscribe removes the subscription from the hub and closes its channel.
// It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers interest in the given event kinds. With no kinds, the
// subscription receives every event.
func (h *Hub) Subscribe(kinds ...EventKind) *Subscription {
	sub := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan Event, subscriberBuffer),
		hub: h,
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every matching subscriber without blocking.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.kinds != nil && !sub.kinds[event.Kind] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logger.Warnw("dropping identity event for slow subscriber", "kind", event.Kind)
		}
	}
}
