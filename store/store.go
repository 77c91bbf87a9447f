////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package store is the durable conversation store. Every write publishes the
// resulting row change so that subscribers converge on the stored state.
package store

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/realtime"
)

// Determines maximum runtime of DB queries.
const dbTimeout = 3 * time.Second

// ErrNotFound is returned when no row has the requested id.
var ErrNotFound = errors.New("message not found")

// Publisher receives every committed row change.
type Publisher interface {
	Publish(c realtime.Change)
}

// Cursor addresses a position in a conversation's history. A page fetched
// with a Cursor holds only messages strictly older than it.
type Cursor struct {
	CreatedAt time.Time
	ID        conversation.MessageID
}

// CursorOf returns the Cursor positioned at m.
func CursorOf(m conversation.Message) *Cursor {
	return &Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Store persists messages and unread aggregates for both conversation kinds.
type Store struct {
	db    *gorm.DB
	pub   Publisher
	clock clock.Clock
}

// New migrates the tables of every conversation kind and returns a Store. pub
// may be nil.
func New(db *gorm.DB, pub Publisher, clk clock.Clock) (*Store, error) {
	for _, kind := range conversation.Kinds {
		tables := kind.Tables()
		if err := db.Table(tables.Messages).AutoMigrate(&Row{}); err != nil {
			return nil, errors.Wrapf(err, "failed to migrate %s",
				tables.Messages)
		}
		if err := db.Table(tables.Unread).AutoMigrate(&Unread{}); err != nil {
			return nil, errors.Wrapf(err, "failed to migrate %s",
				tables.Unread)
		}
	}

	jww.INFO.Print("[STORE] Conversation store initialized")
	return &Store{db: db, pub: pub, clock: clk}, nil
}

// Open opens the database described by p and returns a Store over it.
func Open(p Params, pub Publisher, clk clock.Clock) (*Store, error) {
	db, err := OpenDB(p)
	if err != nil {
		return nil, err
	}
	return New(db, pub, clk)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// newContext bounds a database operation by dbTimeout and by the parent.
func newContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, dbTimeout)
}

func (s *Store) messages(ctx context.Context, kind conversation.Kind) *gorm.DB {
	return s.db.WithContext(ctx).Table(kind.Tables().Messages)
}

func (s *Store) publish(op realtime.Op, row conversation.Message,
	old *conversation.Message) {
	if s.pub != nil {
		s.pub.Publish(realtime.Change{Op: op, Row: row, Old: old})
	}
}

// Append persists a new message. The store assigns the durable id and
// createdAt; the row starts pending moderation with deliveryStatus
// moderating. The temporary id of m is not stored.
func (s *Store) Append(ctx context.Context, m conversation.Message) (
	conversation.Message, error) {
	if !m.Kind.IsValid() {
		return conversation.Message{}, errors.Errorf(
			"cannot append to %s", m.Kind)
	}

	m.ID = 0
	m.CreatedAt = s.clock.Now().UTC()
	m.ModerationStatus = conversation.ModerationPending
	m.DeliveryStatus = conversation.Moderating
	m.RejectionReason = ""
	row := rowFromMessage(m)

	ctx, cancel := newContext(ctx)
	err := s.messages(ctx, m.Kind).Create(row).Error
	cancel()
	if err != nil {
		return conversation.Message{}, errors.Wrapf(err,
			"failed to append message to %s", m.Ref())
	}

	stored := row.toMessage(m.Kind)
	jww.DEBUG.Printf("[STORE] Appended %s", stored)
	s.publish(realtime.Insert, stored, nil)
	return stored, nil
}

// Get returns the stored message with the given id.
func (s *Store) Get(ctx context.Context, kind conversation.Kind,
	id conversation.MessageID) (conversation.Message, error) {
	ctx, cancel := newContext(ctx)
	defer cancel()
	return s.get(s.messages(ctx, kind), kind, id)
}

func (s *Store) get(tx *gorm.DB, kind conversation.Kind,
	id conversation.MessageID) (conversation.Message, error) {
	row := &Row{}
	err := tx.Where("id = ?", int64(id)).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conversation.Message{}, errors.Wrapf(ErrNotFound,
			"%s message %d", kind, id)
	} else if err != nil {
		return conversation.Message{}, errors.Wrapf(err,
			"failed to get %s message %d", kind, id)
	}
	return row.toMessage(kind), nil
}

// Update applies fn to the stored message inside a transaction and writes the
// result back. The id, conversation, sender and creation time cannot be
// changed. When fn leaves the message unchanged nothing is written or
// published.
func (s *Store) Update(ctx context.Context, kind conversation.Kind,
	id conversation.MessageID, fn func(m *conversation.Message)) (
	conversation.Message, error) {
	var old, updated conversation.Message

	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		table := tx.Table(kind.Tables().Messages)
		old, err = s.get(table, kind, id)
		if err != nil {
			return err
		}

		updated = old.Clone()
		fn(&updated)
		updated.ID = old.ID
		updated.Kind = old.Kind
		updated.ConversationID = old.ConversationID
		updated.SenderID = old.SenderID
		updated.CreatedAt = old.CreatedAt
		if rowEqual(old, updated) {
			return nil
		}

		return tx.Table(kind.Tables().Messages).
			Where("id = ?", int64(id)).
			Select("*").Updates(rowFromMessage(updated)).Error
	})
	cancel()
	if err != nil {
		return conversation.Message{}, errors.WithMessagef(err,
			"failed to update %s message %d", kind, id)
	}

	if rowEqual(old, updated) {
		return updated, nil
	}
	jww.DEBUG.Printf("[STORE] Updated %s", updated)
	s.publish(realtime.Update, updated, &old)
	return updated, nil
}

func rowEqual(a, b conversation.Message) bool {
	ra, rb := rowFromMessage(a), rowFromMessage(b)
	return ra.Content == rb.Content &&
		ra.AttachmentUrl == rb.AttachmentUrl &&
		ra.AttachmentMime == rb.AttachmentMime &&
		ra.AttachmentName == rb.AttachmentName &&
		ra.DeliveryStatus == rb.DeliveryStatus &&
		ra.ModerationStatus == rb.ModerationStatus &&
		ra.RejectionReason == rb.RejectionReason &&
		timePtrEqual(ra.ReadAt, rb.ReadAt) &&
		timePtrEqual(ra.DeliveredAt, rb.DeliveredAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Delete removes a message. Deleting a missing message is not an error.
func (s *Store) Delete(ctx context.Context, kind conversation.Kind,
	id conversation.MessageID) error {
	var (
		old   conversation.Message
		found bool
	)

	ctx, cancel := newContext(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		table := tx.Table(kind.Tables().Messages)
		old, err = s.get(table, kind, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		found = true
		return tx.Table(kind.Tables().Messages).
			Where("id = ?", int64(id)).Delete(&Row{}).Error
	})
	cancel()
	if err != nil {
		return errors.WithMessagef(err, "failed to delete %s message %d",
			kind, id)
	}

	if found {
		jww.DEBUG.Printf("[STORE] Deleted %s", old)
		s.publish(realtime.Delete, old, nil)
	}
	return nil
}

// visibleTo restricts a query to rows viewer may see: their own and approved
// ones.
func visibleTo(tx *gorm.DB, viewer string) *gorm.DB {
	return tx.Where("sender_id = ? OR moderation_status = ?",
		viewer, uint8(conversation.ModerationApproved))
}

// Query returns up to limit messages of the conversation visible to viewer,
// newest first. With a cursor, only messages strictly older than it are
// returned.
func (s *Store) Query(ctx context.Context, ref conversation.Ref,
	viewer string, before *Cursor, limit int) ([]conversation.Message, error) {
	ctx, cancel := newContext(ctx)
	defer cancel()

	tx := s.messages(ctx, ref.Kind).Where("conversation_id = ?", ref.ID)
	tx = visibleTo(tx, viewer)
	if before != nil {
		at := before.CreatedAt.UTC()
		tx = tx.Where("created_at < ? OR (created_at = ? AND id < ?)",
			at, at, int64(before.ID))
	}

	var rows []Row
	err := tx.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", ref)
	}

	messages := make([]conversation.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toMessage(ref.Kind)
	}
	jww.TRACE.Printf("[STORE] Query %s as %s returned %d",
		ref, viewer, len(messages))
	return messages, nil
}

// ListPending returns every message of the kind still awaiting moderation,
// oldest first.
func (s *Store) ListPending(ctx context.Context, kind conversation.Kind) (
	[]conversation.Message, error) {
	ctx, cancel := newContext(ctx)
	defer cancel()

	var rows []Row
	err := s.messages(ctx, kind).
		Where("moderation_status = ?", uint8(conversation.ModerationPending)).
		Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pending %s messages",
			kind)
	}

	messages := make([]conversation.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toMessage(kind)
	}
	return messages, nil
}

// MarkDelivered records that the recipient rendered the message.
func (s *Store) MarkDelivered(ctx context.Context, kind conversation.Kind,
	id conversation.MessageID, at time.Time) (conversation.Message, error) {
	return s.Update(ctx, kind, id, func(m *conversation.Message) {
		if m.DeliveredAt == nil {
			t := at.UTC()
			m.DeliveredAt = &t
		}
		m.DeliveryStatus = m.DeliveryStatus.Advance(conversation.Delivered)
	})
}

// MarkRead marks every approved message the reader received in the
// conversation up to and including upTo as read, and returns how many were
// marked.
func (s *Store) MarkRead(ctx context.Context, ref conversation.Ref,
	reader string, upTo, at time.Time) (int, error) {
	qctx, cancel := newContext(ctx)
	var ids []int64
	err := s.messages(qctx, ref.Kind).
		Where("conversation_id = ? AND sender_id <> ? AND "+
			"moderation_status = ? AND read_at IS NULL AND created_at <= ?",
			ref.ID, reader, uint8(conversation.ModerationApproved), upTo.UTC()).
		Order("created_at, id").Pluck("id", &ids).Error
	cancel()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to find unread in %s", ref)
	}

	readAt := at.UTC()
	for _, id := range ids {
		_, err = s.Update(ctx, ref.Kind, conversation.MessageID(id),
			func(m *conversation.Message) {
				m.ReadAt = &readAt
				if m.DeliveredAt == nil {
					m.DeliveredAt = &readAt
				}
				m.DeliveryStatus = m.DeliveryStatus.Advance(conversation.Read)
			})
		if err != nil {
			return 0, err
		}
	}

	if len(ids) > 0 {
		jww.DEBUG.Printf("[STORE] %s read %d messages in %s",
			reader, len(ids), ref)
	}
	return len(ids), nil
}

// CountUnread counts the approved, unread messages the user received in the
// conversation.
func (s *Store) CountUnread(ctx context.Context, ref conversation.Ref,
	userID string) (int64, error) {
	ctx, cancel := newContext(ctx)
	defer cancel()

	var count int64
	err := s.messages(ctx, ref.Kind).
		Where("conversation_id = ? AND sender_id <> ? AND "+
			"moderation_status = ? AND read_at IS NULL",
			ref.ID, userID, uint8(conversation.ModerationApproved)).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count unread in %s", ref)
	}
	return count, nil
}

// UpsertUnread writes the unread aggregate of a user in a conversation.
func (s *Store) UpsertUnread(ctx context.Context, kind conversation.Kind,
	u Unread) error {
	u.UpdatedAt = s.clock.Now().UTC()
	u.LastReadAt = utcPtr(u.LastReadAt)

	ctx, cancel := newContext(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Table(kind.Tables().Unread).
		Clauses(clause.OnConflict{UpdateAll: true}).Create(&u).Error
	if err != nil {
		return errors.Wrapf(err, "failed to upsert unread for %s in %s/%s",
			u.UserId, kind, u.ConversationId)
	}
	return nil
}

// GetUnread returns the unread aggregate of a user in a conversation.
func (s *Store) GetUnread(ctx context.Context, ref conversation.Ref,
	userID string) (Unread, error) {
	ctx, cancel := newContext(ctx)
	defer cancel()

	var u Unread
	err := s.db.WithContext(ctx).Table(ref.Kind.Tables().Unread).
		Where("user_id = ? AND conversation_id = ?", userID, ref.ID).
		Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Unread{UserId: userID, ConversationId: ref.ID}, nil
	} else if err != nil {
		return Unread{}, errors.Wrapf(err, "failed to get unread for %s in %s",
			userID, ref)
	}
	return u, nil
}
