////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package realtime

import (
	"strconv"
	"sync"

	"github.com/golang-collections/collections/queue"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/stoppable"
)

// Subscription is one viewer's stream of events for one conversation.
// Publishing never waits on the reader: events are held in an unbounded FIFO
// and handed to Events by a pump goroutine in the order they were published.
type Subscription struct {
	id     uint64
	ref    conversation.Ref
	viewer string
	bus    *Bus

	pending *queue.Queue
	mux     sync.Mutex
	signal  chan struct{}
	out     chan Event
	stop    *stoppable.Single
	once    sync.Once
}

func newSubscription(b *Bus, id uint64, ref conversation.Ref,
	viewer string) *Subscription {
	s := &Subscription{
		id:      id,
		ref:     ref,
		viewer:  viewer,
		bus:     b,
		pending: queue.New(),
		signal:  make(chan struct{}, 1),
		out:     make(chan Event),
		stop: stoppable.NewSingle(
			"Subscription:" + ref.String() + ":" + strconv.FormatUint(id, 10)),
	}
	go s.pump()
	return s
}

// Ref returns the subscribed conversation.
func (s *Subscription) Ref() conversation.Ref { return s.ref }

// Viewer returns the user the events are filtered for.
func (s *Subscription) Viewer() string { return s.viewer }

// Events returns the channel events are delivered on. It is closed after the
// subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.out }

// Stoppable returns the pump goroutine's stoppable.
func (s *Subscription) Stoppable() stoppable.Stoppable { return s.stop }

// Close unsubscribes from the bus and stops delivery. Events still queued are
// dropped.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		err = s.stop.Close()
	})
	return err
}

func (s *Subscription) enqueue(evt Event) {
	s.mux.Lock()
	s.pending.Enqueue(evt)
	s.mux.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) dequeue() (Event, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.pending.Len() == 0 {
		return Event{}, false
	}
	return s.pending.Dequeue().(Event), true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		evt, ok := s.dequeue()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.stop.Quit():
				s.stop.ToStopped()
				return
			}
		}

		select {
		case s.out <- evt:
			jww.TRACE.Printf("[BUS] Delivered %s to %s on %s",
				evt, s.viewer, s.ref)
		case <-s.stop.Quit():
			s.stop.ToStopped()
			return
		}
	}
}
