////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package realtime is the in-process row-change bus. The conversation store
// publishes every INSERT, UPDATE and DELETE; each open conversation holds one
// subscription that receives the changes it may see, one at a time and in
// publish order.
package realtime

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
)

// Bus fans published changes out to the subscriptions of their conversation.
type Bus struct {
	subs   map[conversation.Ref]map[uint64]*Subscription
	nextID uint64
	mux    sync.RWMutex
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[conversation.Ref]map[uint64]*Subscription)}
}

// Publish delivers a row change to every subscription on the row's
// conversation that may see it. It never blocks on a subscriber.
func (b *Bus) Publish(c Change) {
	ref := c.Ref()
	b.mux.RLock()
	defer b.mux.RUnlock()

	delivered := 0
	for _, s := range b.subs[ref] {
		if evt, ok := filter(c, s.viewer); ok {
			s.enqueue(evt)
			delivered++
		}
	}
	jww.TRACE.Printf("[BUS] %s %s delivered to %d of %d subscribers",
		c.Op, c.Row, delivered, len(b.subs[ref]))
}

// PublishTyping delivers a typing signal to every subscription on the
// conversation other than the typer's own.
func (b *Bus) PublishTyping(ref conversation.Ref, signal TypingSignal) {
	b.mux.RLock()
	defer b.mux.RUnlock()

	for _, s := range b.subs[ref] {
		if s.viewer == signal.UserID {
			continue
		}
		sig := signal
		s.enqueue(Event{Op: Typing, Typing: &sig})
	}
}

// Subscribe opens a subscription to the conversation as seen by viewer. The
// caller must Close it when the conversation closes.
func (b *Bus) Subscribe(ref conversation.Ref, viewer string) *Subscription {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.nextID++
	s := newSubscription(b, b.nextID, ref, viewer)
	if b.subs[ref] == nil {
		b.subs[ref] = make(map[uint64]*Subscription)
	}
	b.subs[ref][s.id] = s

	jww.DEBUG.Printf("[BUS] %s subscribed to %s", viewer, ref)
	return s
}

// Subscribers returns the number of open subscriptions on the conversation.
func (b *Bus) Subscribers(ref conversation.Ref) int {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return len(b.subs[ref])
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mux.Lock()
	defer b.mux.Unlock()

	delete(b.subs[s.ref], s.id)
	if len(b.subs[s.ref]) == 0 {
		delete(b.subs, s.ref)
	}
	jww.DEBUG.Printf("[BUS] %s unsubscribed from %s", s.viewer, s.ref)
}
