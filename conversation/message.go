////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MessageID is the durable identifier assigned by the conversation store when
// a message is persisted. The zero value means the message is not durable.
type MessageID uint64

// String returns the decimal form of the ID.
func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

// Message is a single chat message as seen by one participant.
//
// Exactly one of ID and TempID identifies the message at any time: an
// optimistic message carries only a TempID and a persisted message carries only
// an ID.
type Message struct {
	ID     MessageID `json:"id,omitempty"`
	TempID uuid.UUID `json:"tempId,omitempty"`

	ConversationID string `json:"conversationId"`
	Kind           Kind   `json:"kind"`
	SenderID       string `json:"senderId"`

	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`

	// CreatedAt is assigned at persistence time and is the sole ordering key.
	CreatedAt time.Time `json:"createdAt"`

	DeliveryStatus   DeliveryStatus   `json:"deliveryStatus"`
	ModerationStatus ModerationStatus `json:"moderationStatus"`

	// RejectionReason is present iff ModerationStatus is ModerationRejected.
	RejectionReason string `json:"rejectionReason,omitempty"`

	ReadAt      *time.Time `json:"readAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// Ref returns the conversation the message belongs to.
func (m Message) Ref() Ref {
	return Ref{Kind: m.Kind, ID: m.ConversationID}
}

// IsOptimistic returns true if the message has not been persisted.
func (m Message) IsOptimistic() bool {
	return m.ID == 0
}

// VisibleTo returns true if the given user may see the message. Messages are
// visible to their sender always and to everyone else only once approved.
func (m Message) VisibleTo(userID string) bool {
	return m.SenderID == userID || m.ModerationStatus == ModerationApproved
}

// CountsAsUnreadFor returns true if the message counts toward the unread total
// of the given user.
func (m Message) CountsAsUnreadFor(userID string) bool {
	return m.SenderID != userID &&
		m.ModerationStatus == ModerationApproved && m.ReadAt == nil
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		m.ReadAt = &t
	}
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		m.DeliveredAt = &t
	}
	return m
}

// String returns a short description of the message for logging. Content is
// deliberately omitted.
func (m Message) String() string {
	key := "temp:" + m.TempID.String()
	if !m.IsOptimistic() {
		key = "id:" + m.ID.String()
	}
	return fmt.Sprintf("Message{%s %s from %s %s/%s}", key,
		m.Ref(), m.SenderID, m.DeliveryStatus, m.ModerationStatus)
}
