////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package pipeline is the per-conversation message pipeline of one user. It
// shows sends optimistically, persists them, hands them to moderation and
// reconciles everything the realtime bus reports back into a single ordered
// timeline.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/realtime"
	"gitlab.com/elixxir/parley/stoppable"
	"gitlab.com/elixxir/parley/store"
	"gitlab.com/elixxir/parley/typing"
)

// Determines how long background receipt writes may take.
const receiptTimeout = 5 * time.Second

// Page is the result of a history fetch.
type Page struct {
	// Messages is the whole timeline after the fetch, in display order.
	Messages []conversation.Message

	HasMore bool

	// Fetched is the number of messages the fetch returned.
	Fetched int

	// Skipped is true when an identical fetch was already running and this
	// call did nothing.
	Skipped bool
}

// Pipeline is one user's view of one conversation.
type Pipeline struct {
	ref    conversation.Ref
	userID string
	params Params
	deps   Deps
	model  EventModel

	timeline *Timeline
	mux      sync.Mutex

	// notifyMux is held from a timeline change until the model has been told
	// about it, so model calls are serialized and follow timeline order.
	notifyMux sync.Mutex

	sending  atomic.Bool
	loading  map[store.Cursor]struct{}
	loadMux  sync.Mutex
	visible  bool
	focused  bool
	stateMux sync.Mutex

	sub       *realtime.Subscription
	loop      *stoppable.Single
	stop      *stoppable.Multi
	typingOut *typing.Broadcaster
	typingIn  *typing.Tracker
	receipts  sync.WaitGroup
	closed    atomic.Bool
}

// Open subscribes to the conversation, starts its event loop and loads the
// latest page of history. model may be nil.
func Open(ctx context.Context, ref conversation.Ref, userID string, deps Deps,
	params Params, model EventModel) (*Pipeline, error) {
	if !ref.Kind.IsValid() {
		return nil, errors.Errorf("cannot open %s", ref)
	}
	if model == nil {
		model = NoopEventModel{}
	}
	if params.PageSize < 1 {
		params.PageSize = DefaultPageSize
	}

	p := &Pipeline{
		ref:      ref,
		userID:   userID,
		params:   params,
		deps:     deps,
		model:    model,
		timeline: NewTimeline(userID),
		loading:  make(map[store.Cursor]struct{}),
	}
	p.typingOut = typing.NewBroadcaster(
		ref, userID, deps.Bus, deps.Clock, params.Typing)
	p.typingIn = typing.NewTracker(deps.Clock, params.Typing,
		func(peer string, isTyping bool) {
			p.notifyMux.Lock()
			defer p.notifyMux.Unlock()
			p.model.TypingChanged(peer, isTyping)
		})

	// Subscribe before the first fetch so that no change between the two is
	// lost; the timeline drops duplicates.
	p.sub = deps.Bus.Subscribe(ref, userID)
	p.loop = stoppable.NewSingle("Pipeline:" + ref.String() + ":" + userID)
	p.stop = stoppable.NewMulti("Pipeline:" + ref.String())
	p.stop.Add(p.sub.Stoppable())
	p.stop.Add(p.loop)
	go p.eventLoop(p.loop)

	// With nothing cached a failed first fetch leaves the timeline empty;
	// LoadMessages can be retried.
	if _, err := p.LoadMessages(ctx); err != nil {
		jww.WARN.Printf("[PIPELINE] Opened %s without history: %+v", ref, err)
	}

	jww.INFO.Printf("[PIPELINE] Opened %s for %s", ref, userID)
	return p, nil
}

// Ref returns the conversation.
func (p *Pipeline) Ref() conversation.Ref {
	return p.ref
}

// Messages returns the timeline in display order.
func (p *Pipeline) Messages() []conversation.Message {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.timeline.Messages()
}

// HasMore is true if older messages can be loaded.
func (p *Pipeline) HasMore() bool {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.timeline.HasMore()
}

// Stoppable reports the status of the subscription and the event loop. Use
// Close, not the Stoppable, to shut the pipeline down.
func (p *Pipeline) Stoppable() stoppable.Stoppable {
	return p.stop
}

// Close unsubscribes, stops the event loop, clears the typing state and drops
// the conversation's cache entry.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.typingOut.Stop()
	p.typingIn.Close()

	err := p.sub.Close()
	if loopErr := p.loop.Close(); loopErr != nil && err == nil {
		err = loopErr
	}
	p.receipts.Wait()
	if p.deps.Cache != nil {
		p.deps.Cache.Invalidate(p.ref)
	}

	jww.INFO.Printf("[PIPELINE] Closed %s for %s", p.ref, p.userID)
	return err
}

// apply runs an action through the timeline and hands its effects out. The
// callback is invoked with the timeline lock released but before any later
// action is notified.
func (p *Pipeline) apply(a Action, notify func(Effect)) Effect {
	p.notifyMux.Lock()
	eff := p.applyLocked(a, notify)
	p.notifyMux.Unlock()

	p.deliver(eff)
	return eff
}

// applyLocked is apply without delivery receipts. The caller holds notifyMux.
func (p *Pipeline) applyLocked(a Action, notify func(Effect)) Effect {
	p.mux.Lock()
	eff := p.timeline.Apply(a)
	p.mux.Unlock()

	if notify != nil && eff.Changed {
		notify(eff)
	}
	return eff
}

// deliver marks the messages the effect received as delivered.
func (p *Pipeline) deliver(eff Effect) {
	if len(eff.Deliver) > 0 {
		p.markDelivered(eff.Deliver)
	}
}

// markDelivered writes delivery receipts in the background.
func (p *Pipeline) markDelivered(messages []conversation.Message) {
	if p.closed.Load() {
		return
	}
	p.receipts.Add(1)
	go func() {
		defer p.receipts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
		defer cancel()

		at := p.deps.Clock.Now()
		for _, m := range messages {
			if _, err := p.deps.Store.MarkDelivered(
				ctx, m.Kind, m.ID, at); err != nil {
				jww.WARN.Printf("[PIPELINE] Failed to mark %s delivered: %+v",
					m, err)
			}
		}
	}()
}

// Keystroke reports that the local user typed in the composer.
func (p *Pipeline) Keystroke() {
	p.typingOut.Keystroke()
}

// Typing returns the users currently shown as typing.
func (p *Pipeline) Typing() []string {
	return p.typingIn.Typing()
}
