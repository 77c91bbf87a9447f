////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package typing

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/realtime"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

var testRef = conversation.NewRef(conversation.Proposal, "p-3")

type signalRecorder struct {
	signals []realtime.TypingSignal
	mux     sync.Mutex
}

func (s *signalRecorder) PublishTyping(_ conversation.Ref,
	signal realtime.TypingSignal) {
	s.mux.Lock()
	s.signals = append(s.signals, signal)
	s.mux.Unlock()
}

func (s *signalRecorder) states() []bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := make([]bool, len(s.signals))
	for i, sig := range s.signals {
		out[i] = sig.IsTyping
	}
	return out
}

func newMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 2, 2, 14, 0, 0, 0, time.UTC))
	return clk
}

// Tests that keystrokes are throttled to one signal per second and that a
// stop signal follows after the idle period.
func TestBroadcaster_Keystroke(t *testing.T) {
	clk := newMockClock()
	rec := &signalRecorder{}
	b := NewBroadcaster(testRef, "alice", rec, clk, GetDefaultParams())

	b.Keystroke()
	clk.Add(300 * time.Millisecond)
	b.Keystroke()
	clk.Add(300 * time.Millisecond)
	b.Keystroke()
	require.Equal(t, []bool{true}, rec.states())

	clk.Add(500 * time.Millisecond)
	b.Keystroke()
	require.Equal(t, []bool{true, true}, rec.states())

	clk.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		return len(rec.states()) == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true, true, false}, rec.states())
}

// Tests that Stop sends a single stop signal and is a no-op when idle.
func TestBroadcaster_Stop(t *testing.T) {
	clk := newMockClock()
	rec := &signalRecorder{}
	b := NewBroadcaster(testRef, "alice", rec, clk, GetDefaultParams())

	b.Stop()
	require.Empty(t, rec.states())

	b.Keystroke()
	b.Stop()
	b.Stop()
	require.Equal(t, []bool{true, false}, rec.states())

	clk.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []bool{true, false}, rec.states())
}

type changeRecorder struct {
	changes []bool
	mux     sync.Mutex
}

func (c *changeRecorder) onChange(_ string, isTyping bool) {
	c.mux.Lock()
	c.changes = append(c.changes, isTyping)
	c.mux.Unlock()
}

func (c *changeRecorder) get() []bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return append([]bool{}, c.changes...)
}

// Tests that the indicator clears three seconds after the last typing signal
// even when no stop signal arrives.
func TestTracker_Expiry(t *testing.T) {
	clk := newMockClock()
	rec := &changeRecorder{}
	tr := NewTracker(clk, GetDefaultParams(), rec.onChange)

	tr.Observe(realtime.TypingSignal{UserID: "bob", IsTyping: true})
	require.True(t, tr.IsTyping("bob"))

	clk.Add(2 * time.Second)
	tr.Observe(realtime.TypingSignal{UserID: "bob", IsTyping: true})
	clk.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.True(t, tr.IsTyping("bob"))
	require.Equal(t, []string{"bob"}, tr.Typing())

	clk.Add(1500 * time.Millisecond)
	require.Eventually(t, func() bool { return !tr.IsTyping("bob") },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rec.get()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true, false}, rec.get())
}

// Tests that a stop signal clears the indicator at once.
func TestTracker_StopSignal(t *testing.T) {
	clk := newMockClock()
	rec := &changeRecorder{}
	tr := NewTracker(clk, GetDefaultParams(), rec.onChange)

	tr.Observe(realtime.TypingSignal{UserID: "bob", IsTyping: false})
	require.Empty(t, rec.get())

	tr.Observe(realtime.TypingSignal{UserID: "bob", IsTyping: true})
	tr.Observe(realtime.TypingSignal{UserID: "bob", IsTyping: false})
	require.False(t, tr.IsTyping("bob"))
	require.Equal(t, []bool{true, false}, rec.get())

	clk.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []bool{true, false}, rec.get())

	tr.Observe(realtime.TypingSignal{UserID: "carol", IsTyping: true})
	tr.Close()
	require.Empty(t, tr.Typing())
}
