////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/realtime"
)

// ChangeFunc is called whenever a user starts or stops being shown as typing.
type ChangeFunc func(userID string, isTyping bool)

type indicator struct {
	timer     *clock.Timer
	gen       uint64
	updatedAt time.Time
}

// Tracker is the receiving side of the indicator. A user shown as typing is
// cleared Timeout after the last "typing" signal, whether or not a "stopped"
// signal ever arrives.
type Tracker struct {
	clock    clock.Clock
	timeout  time.Duration
	onChange ChangeFunc

	typing map[string]*indicator
	gen    uint64
	mux    sync.Mutex
}

// NewTracker builds a Tracker. onChange may be nil.
func NewTracker(clk clock.Clock, p Params, onChange ChangeFunc) *Tracker {
	return &Tracker{
		clock:    clk,
		timeout:  p.Timeout,
		onChange: onChange,
		typing:   make(map[string]*indicator),
	}
}

// Observe applies a signal received from the bus.
func (t *Tracker) Observe(signal realtime.TypingSignal) {
	t.mux.Lock()
	ind, shown := t.typing[signal.UserID]

	if !signal.IsTyping {
		if !shown {
			t.mux.Unlock()
			return
		}
		ind.timer.Stop()
		delete(t.typing, signal.UserID)
		t.mux.Unlock()
		t.notify(signal.UserID, false)
		return
	}

	if shown {
		ind.timer.Stop()
	}
	t.gen++
	gen := t.gen
	userID := signal.UserID
	t.typing[userID] = &indicator{
		timer:     t.clock.AfterFunc(t.timeout, func() { t.expire(userID, gen) }),
		gen:       gen,
		updatedAt: t.clock.Now(),
	}
	t.mux.Unlock()

	if !shown {
		t.notify(userID, true)
	}
}

func (t *Tracker) expire(userID string, gen uint64) {
	t.mux.Lock()
	ind, ok := t.typing[userID]
	if !ok || ind.gen != gen {
		t.mux.Unlock()
		return
	}
	delete(t.typing, userID)
	t.mux.Unlock()

	jww.TRACE.Printf("[TYPING] Indicator for %s expired", userID)
	t.notify(userID, false)
}

func (t *Tracker) notify(userID string, isTyping bool) {
	if t.onChange != nil {
		t.onChange(userID, isTyping)
	}
}

// IsTyping returns true if the user is currently shown as typing.
func (t *Tracker) IsTyping(userID string) bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	_, ok := t.typing[userID]
	return ok
}

// Typing returns the users currently shown as typing, sorted.
func (t *Tracker) Typing() []string {
	t.mux.Lock()
	users := make([]string, 0, len(t.typing))
	for userID := range t.typing {
		users = append(users, userID)
	}
	t.mux.Unlock()
	sort.Strings(users)
	return users
}

// Close stops every pending expiry timer without notifying.
func (t *Tracker) Close() {
	t.mux.Lock()
	defer t.mux.Unlock()
	for userID, ind := range t.typing {
		ind.timer.Stop()
		delete(t.typing, userID)
	}
}
