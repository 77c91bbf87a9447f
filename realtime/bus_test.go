////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package realtime

import (
	"os"
	"testing"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/stoppable"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

var testRef = conversation.NewRef(conversation.Negotiation, "n-1")

func newRow(id conversation.MessageID, sender string,
	ms conversation.ModerationStatus) conversation.Message {
	return conversation.Message{
		ID:               id,
		ConversationID:   testRef.ID,
		Kind:             testRef.Kind,
		SenderID:         sender,
		Content:          "hi",
		ModerationStatus: ms,
	}
}

func receive(t *testing.T, s *Subscription) Event {
	select {
	case evt, ok := <-s.Events():
		require.True(t, ok, "events channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return Event{}
}

func requireNoEvent(t *testing.T, s *Subscription) {
	select {
	case evt := <-s.Events():
		t.Fatalf("Unexpected event %s", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

// Consistency test of Op.String.
func TestOp_String(t *testing.T) {
	require.Equal(t, "INSERT", Insert.String())
	require.Equal(t, "UPDATE", Update.String())
	require.Equal(t, "DELETE", Delete.String())
	require.Equal(t, "TYPING", Typing.String())
	require.Equal(t, "Invalid Op: 0", Op(0).String())
}

// Tests the visibility projection of every op for the sender and the peer.
func TestFilter(t *testing.T) {
	pending := newRow(1, "alice", conversation.ModerationPending)
	approved := newRow(1, "alice", conversation.ModerationApproved)
	rejected := newRow(1, "alice", conversation.ModerationRejected)

	tests := []struct {
		name   string
		change Change
		viewer string
		ok     bool
		op     Op
	}{
		{"pending insert to sender", Change{Op: Insert, Row: pending}, "alice", true, Insert},
		{"pending insert to peer", Change{Op: Insert, Row: pending}, "bob", false, 0},
		{"approve to sender", Change{Op: Update, Row: approved, Old: &pending}, "alice", true, Update},
		{"approve to peer", Change{Op: Update, Row: approved, Old: &pending}, "bob", true, Insert},
		{"reject to peer", Change{Op: Update, Row: rejected, Old: &pending}, "bob", false, 0},
		{"reject to sender", Change{Op: Update, Row: rejected, Old: &pending}, "alice", true, Update},
		{"hide from peer", Change{Op: Update, Row: rejected, Old: &approved}, "bob", true, Delete},
		{"delete approved to peer", Change{Op: Delete, Row: approved}, "bob", true, Delete},
		{"delete pending to peer", Change{Op: Delete, Row: pending}, "bob", false, 0},
	}

	for _, tt := range tests {
		evt, ok := filter(tt.change, tt.viewer)
		require.Equal(t, tt.ok, ok, tt.name)
		if ok {
			require.Equal(t, tt.op, evt.Op, tt.name)
			require.Equal(t, tt.change.Row.ID, evt.Row.ID, tt.name)
		}
	}
}

// Tests that a subscriber receives visible changes in publish order, even
// when many are published before it reads.
func TestBus_Publish_Order(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(testRef, "bob")
	defer sub.Close()

	const n = 50
	for i := 1; i <= n; i++ {
		bus.Publish(Change{Op: Insert,
			Row: newRow(conversation.MessageID(i), "alice",
				conversation.ModerationApproved)})
	}
	for i := 1; i <= n; i++ {
		evt := receive(t, sub)
		require.Equal(t, conversation.MessageID(i), evt.Row.ID)
	}
}

// Tests that changes on another conversation or hidden from the viewer are
// not delivered.
func TestBus_Publish_Filtered(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(testRef, "bob")
	defer sub.Close()

	other := newRow(1, "alice", conversation.ModerationApproved)
	other.ConversationID = "n-2"
	bus.Publish(Change{Op: Insert, Row: other})
	bus.Publish(Change{Op: Insert,
		Row: newRow(2, "alice", conversation.ModerationPending)})
	requireNoEvent(t, sub)
}

// Tests that typing signals skip the typer's own subscription.
func TestBus_PublishTyping(t *testing.T) {
	bus := NewBus()
	alice := bus.Subscribe(testRef, "alice")
	bob := bus.Subscribe(testRef, "bob")
	defer alice.Close()
	defer bob.Close()

	bus.PublishTyping(testRef, TypingSignal{UserID: "alice", IsTyping: true})
	evt := receive(t, bob)
	require.Equal(t, Typing, evt.Op)
	require.True(t, evt.Typing.IsTyping)
	requireNoEvent(t, alice)
}

// Tests that closing a subscription removes it from the bus and closes its
// channel.
func TestSubscription_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(testRef, "bob")
	require.Equal(t, 1, bus.Subscribers(testRef))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.Equal(t, 0, bus.Subscribers(testRef))
	require.NoError(t, stoppable.WaitForStopped(sub.Stoppable(), time.Second))

	_, ok := <-sub.Events()
	require.False(t, ok)

	// Publishing after close is harmless.
	bus.Publish(Change{Op: Insert,
		Row: newRow(1, "alice", conversation.ModerationApproved)})
}
