////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package typing

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/realtime"
)

// Publisher sends typing signals to the other participants.
type Publisher interface {
	PublishTyping(ref conversation.Ref, signal realtime.TypingSignal)
}

// Broadcaster turns the local user's keystrokes into typing signals.
type Broadcaster struct {
	ref    conversation.Ref
	userID string
	pub    Publisher
	clock  clock.Clock
	params Params

	typing   bool
	lastSent time.Time
	idle     *clock.Timer
	gen      uint64
	mux      sync.Mutex
}

// NewBroadcaster builds a Broadcaster for the user in the conversation.
func NewBroadcaster(ref conversation.Ref, userID string, pub Publisher,
	clk clock.Clock, p Params) *Broadcaster {
	return &Broadcaster{
		ref:    ref,
		userID: userID,
		pub:    pub,
		clock:  clk,
		params: p,
	}
}

// Keystroke records that the user typed. A "typing" signal is sent at most
// once per Throttle, and a "stopped" signal follows after Idle without
// keystrokes.
func (b *Broadcaster) Keystroke() {
	b.mux.Lock()
	defer b.mux.Unlock()

	now := b.clock.Now()
	if !b.typing || now.Sub(b.lastSent) >= b.params.Throttle {
		b.typing = true
		b.lastSent = now
		b.send(true, now)
	}

	if b.idle != nil {
		b.idle.Stop()
	}
	b.gen++
	gen := b.gen
	b.idle = b.clock.AfterFunc(b.params.Idle, func() { b.expire(gen) })
}

// Stop sends a "stopped" signal if the user was typing. It is called when a
// message is sent and when the conversation is closed.
func (b *Broadcaster) Stop() {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.stop()
}

func (b *Broadcaster) expire(gen uint64) {
	b.mux.Lock()
	defer b.mux.Unlock()
	if gen != b.gen {
		return
	}
	b.stop()
}

func (b *Broadcaster) stop() {
	if b.idle != nil {
		b.idle.Stop()
		b.idle = nil
	}
	b.gen++
	if !b.typing {
		return
	}
	b.typing = false
	b.send(false, b.clock.Now())
}

func (b *Broadcaster) send(isTyping bool, at time.Time) {
	jww.TRACE.Printf("[TYPING] %s typing=%t in %s", b.userID, isTyping, b.ref)
	b.pub.PublishTyping(b.ref, realtime.TypingSignal{
		UserID:   b.userID,
		IsTyping: isTyping,
		At:       at,
	})
}
