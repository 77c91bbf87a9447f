////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/store"
)

// EventModel is implemented by whatever renders a conversation. Every call is
// made with the pipeline's state already updated and must not block or call
// back into the pipeline. Calls for one pipeline are never concurrent and
// arrive in the order the timeline changed.
type EventModel interface {
	// MessageAdded is called for an optimistic send and for every message
	// received from the peer.
	MessageAdded(m conversation.Message)

	// MessageConfirmed is called when the optimistic message with tempID has
	// been persisted as m.
	MessageConfirmed(tempID uuid.UUID, m conversation.Message)

	// MessageUpdated is called when the status or receipts of a message
	// change.
	MessageUpdated(m conversation.Message)

	// MessageRemoved is called when an optimistic message is rolled back or a
	// message is deleted.
	MessageRemoved(m conversation.Message)

	// HistoryLoaded is called after every page fetch with the full timeline.
	HistoryLoaded(messages []conversation.Message, hasMore bool)

	// TypingChanged is called when the peer starts or stops being shown as
	// typing.
	TypingChanged(userID string, isTyping bool)
}

// MessageStore is the conversation store as used by the pipeline.
type MessageStore interface {
	Append(ctx context.Context, m conversation.Message) (
		conversation.Message, error)
	Query(ctx context.Context, ref conversation.Ref, viewer string,
		before *store.Cursor, limit int) ([]conversation.Message, error)
	MarkDelivered(ctx context.Context, kind conversation.Kind,
		id conversation.MessageID, at time.Time) (conversation.Message, error)
	MarkRead(ctx context.Context, ref conversation.Ref, reader string,
		upTo, at time.Time) (int, error)
	CountUnread(ctx context.Context, ref conversation.Ref,
		userID string) (int64, error)
	UpsertUnread(ctx context.Context, kind conversation.Kind,
		u store.Unread) error
	GetUnread(ctx context.Context, ref conversation.Ref,
		userID string) (store.Unread, error)
}

// Moderator accepts persisted messages for moderation without waiting for
// the verdict.
type Moderator interface {
	Submit(kind conversation.Kind, id conversation.MessageID) error
}

// BlockChecker refuses senders that are blocked. The returned error is a
// *conversation.BlockedError.
type BlockChecker interface {
	CheckBlocked(ctx context.Context, userID string) error
}

// Compressor prepares attachment bytes for upload.
type Compressor interface {
	Compress(data []byte, contentType string) ([]byte, error)
}

// Upload is an attachment handed to Send.
type Upload struct {
	Data        []byte
	ContentType string
	Name        string
}

// NoopEventModel ignores every event.
type NoopEventModel struct{}

func (NoopEventModel) MessageAdded(conversation.Message)                {}
func (NoopEventModel) MessageConfirmed(uuid.UUID, conversation.Message) {}
func (NoopEventModel) MessageUpdated(conversation.Message)              {}
func (NoopEventModel) MessageRemoved(conversation.Message)              {}
func (NoopEventModel) HistoryLoaded([]conversation.Message, bool)       {}
func (NoopEventModel) TypingChanged(string, bool)                       {}
