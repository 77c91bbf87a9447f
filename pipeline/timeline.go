////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"github.com/golang-collections/collections/set"
	"github.com/google/uuid"

	"gitlab.com/elixxir/parley/conversation"
)

// Action is one input to a Timeline. Local actions come from the pipeline's
// own send path; remote actions come from the realtime bus and from fetches.
type Action interface {
	isAction()
}

// LocalSend adds an optimistic message.
type LocalSend struct {
	Message conversation.Message
}

// LocalConfirm replaces the optimistic message with its persisted row.
type LocalConfirm struct {
	TempID  uuid.UUID
	Message conversation.Message
}

// LocalDiscard removes an optimistic message whose send failed.
type LocalDiscard struct {
	TempID uuid.UUID
}

// RemoteInsert is an INSERT observed on the bus.
type RemoteInsert struct {
	Message conversation.Message
}

// RemoteUpdate is an UPDATE observed on the bus.
type RemoteUpdate struct {
	Message conversation.Message
}

// RemoteDelete is a DELETE observed on the bus.
type RemoteDelete struct {
	ID conversation.MessageID
}

// PageLoaded merges a fetched page. With Older unset the page replaces every
// persisted message; with Older set it is prepended.
type PageLoaded struct {
	Messages []conversation.Message
	HasMore  bool
	Older    bool
}

func (LocalSend) isAction()    {}
func (LocalConfirm) isAction() {}
func (LocalDiscard) isAction() {}
func (RemoteInsert) isAction() {}
func (RemoteUpdate) isAction() {}
func (RemoteDelete) isAction() {}
func (PageLoaded) isAction()   {}

// Effect reports what applying an Action did and which side effects it asks
// for.
type Effect struct {
	// Changed is true if the visible timeline changed.
	Changed bool

	// Deliver lists received messages that still need a delivery receipt.
	Deliver []conversation.Message

	// Rejected is set when a message of the local user was rejected.
	Rejected *conversation.Message

	// Received is set when a new message from the peer was appended.
	Received bool
}

// Timeline is the local, ordered state of one conversation as seen by one
// user. It is not safe for concurrent use; the pipeline serialises access.
type Timeline struct {
	userID   string
	messages []conversation.Message
	durable  *set.Set
	hasMore  bool
}

// NewTimeline returns an empty Timeline for the user.
func NewTimeline(userID string) *Timeline {
	return &Timeline{userID: userID, durable: set.New()}
}

// Apply merges the action into the timeline.
func (t *Timeline) Apply(a Action) Effect {
	switch a := a.(type) {
	case LocalSend:
		t.messages = append(t.messages, a.Message.Clone())
		return Effect{Changed: true}

	case LocalConfirm:
		i := t.indexOfTemp(a.TempID)
		if t.durable.Has(a.Message.ID) {
			// A reload already brought the row in.
			if i >= 0 {
				t.remove(i)
			}
			return Effect{Changed: i >= 0}
		}
		t.durable.Insert(a.Message.ID)
		if i < 0 {
			t.messages = append(t.messages, a.Message.Clone())
		} else {
			t.messages[i] = a.Message.Clone()
		}
		return Effect{Changed: true}

	case LocalDiscard:
		i := t.indexOfTemp(a.TempID)
		if i < 0 {
			return Effect{}
		}
		t.remove(i)
		return Effect{Changed: true}

	case RemoteInsert:
		return t.insert(a.Message)

	case RemoteUpdate:
		return t.update(a.Message)

	case RemoteDelete:
		if !t.durable.Has(a.ID) {
			return Effect{}
		}
		t.remove(t.indexOf(a.ID))
		t.durable.Remove(a.ID)
		return Effect{Changed: true}

	case PageLoaded:
		return t.load(a)
	}
	return Effect{}
}

// insert appends a remote row. The local user's own rows are dropped because
// the send path already holds them.
func (t *Timeline) insert(m conversation.Message) Effect {
	if m.SenderID == t.userID || t.durable.Has(m.ID) {
		return Effect{}
	}
	t.durable.Insert(m.ID)
	t.messages = append(t.messages, m.Clone())

	eff := Effect{Changed: true, Received: true}
	if t.needsReceipt(m) {
		eff.Deliver = []conversation.Message{m}
	}
	return eff
}

// update merges a remote row into the loaded copy. Rows outside the loaded
// window are ignored; a later fetch picks them up.
func (t *Timeline) update(m conversation.Message) Effect {
	if !t.durable.Has(m.ID) {
		return Effect{}
	}
	i := t.indexOf(m.ID)
	old := t.messages[i]
	merged := m.Clone()
	eff := Effect{Changed: true}

	// Receipts only move forward; a stale row does not clear them.
	if merged.DeliveredAt == nil && old.DeliveredAt != nil {
		at := *old.DeliveredAt
		merged.DeliveredAt = &at
	}
	if merged.ReadAt == nil && old.ReadAt != nil {
		at := *old.ReadAt
		merged.ReadAt = &at
	}

	switch {
	case m.ModerationStatus == conversation.ModerationRejected &&
		old.ModerationStatus != conversation.ModerationRejected:
		merged.DeliveryStatus = conversation.Rejected
		if m.SenderID == t.userID {
			rejected := merged.Clone()
			eff.Rejected = &rejected
		}
	case m.ModerationStatus == conversation.ModerationApproved &&
		old.ModerationStatus != conversation.ModerationApproved:
		merged.DeliveryStatus = old.DeliveryStatus.
			Advance(conversation.Sent).Advance(m.DeliveryStatus)
	default:
		merged.DeliveryStatus = old.DeliveryStatus.Advance(m.DeliveryStatus)
	}

	t.messages[i] = merged
	return eff
}

func (t *Timeline) load(a PageLoaded) Effect {
	eff := Effect{Changed: true}
	page := make([]conversation.Message, 0, len(a.Messages))

	if a.Older {
		for _, m := range a.Messages {
			if !t.durable.Has(m.ID) {
				t.durable.Insert(m.ID)
				page = append(page, m.Clone())
			}
		}
		t.messages = append(page, t.messages...)
	} else {
		t.durable = set.New()
		var optimistic []conversation.Message
		for _, m := range t.messages {
			if m.IsOptimistic() {
				optimistic = append(optimistic, m)
			}
		}
		for _, m := range a.Messages {
			if !t.durable.Has(m.ID) {
				t.durable.Insert(m.ID)
				page = append(page, m.Clone())
			}
		}
		t.messages = append(page, optimistic...)
	}
	t.hasMore = a.HasMore

	for _, m := range page {
		if t.needsReceipt(m) {
			eff.Deliver = append(eff.Deliver, m)
		}
	}
	return eff
}

func (t *Timeline) needsReceipt(m conversation.Message) bool {
	return m.SenderID != t.userID &&
		m.ModerationStatus == conversation.ModerationApproved &&
		m.DeliveredAt == nil
}

func (t *Timeline) indexOf(id conversation.MessageID) int {
	for i := range t.messages {
		if !t.messages[i].IsOptimistic() && t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOfTemp(tempID uuid.UUID) int {
	for i := range t.messages {
		if t.messages[i].IsOptimistic() && t.messages[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Timeline) remove(i int) {
	t.messages = append(t.messages[:i:i], t.messages[i+1:]...)
}

// Messages returns a copy of the timeline in display order.
func (t *Timeline) Messages() []conversation.Message {
	out := make([]conversation.Message, len(t.messages))
	for i := range t.messages {
		out[i] = t.messages[i].Clone()
	}
	return out
}

// Len returns the number of messages, optimistic ones included.
func (t *Timeline) Len() int {
	return len(t.messages)
}

// HasMore is true if the last page fetch was full.
func (t *Timeline) HasMore() bool {
	return t.hasMore
}

// Oldest returns the oldest persisted message.
func (t *Timeline) Oldest() (conversation.Message, bool) {
	for _, m := range t.messages {
		if !m.IsOptimistic() {
			return m, true
		}
	}
	return conversation.Message{}, false
}

// Newest returns the newest persisted message.
func (t *Timeline) Newest() (conversation.Message, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if !t.messages[i].IsOptimistic() {
			return t.messages[i], true
		}
	}
	return conversation.Message{}, false
}
