////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package store

import (
	"time"

	"gitlab.com/elixxir/parley/conversation"
)

// Row is the database representation of a single message. Each conversation
// kind stores its rows in its own table; see conversation.Kind.Tables.
type Row struct {
	Id             int64     `gorm:"primaryKey;autoIncrement:true"`
	ConversationId string    `gorm:"index;not null"`
	SenderId       string    `gorm:"index;not null"`
	Content        string    `gorm:"not null"`
	AttachmentUrl  string
	AttachmentMime string
	AttachmentName string
	CreatedAt      time.Time `gorm:"index;not null;autoCreateTime:false"`

	DeliveryStatus   uint8 `gorm:"not null"`
	ModerationStatus uint8 `gorm:"index;not null"`
	RejectionReason  string

	ReadAt      *time.Time
	DeliveredAt *time.Time
}

// Unread is the denormalised unread aggregate of one user in one
// conversation.
type Unread struct {
	UserId         string `gorm:"primaryKey;not null"`
	ConversationId string `gorm:"primaryKey;not null"`
	Count          int64  `gorm:"not null"`
	LastReadAt     *time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func rowFromMessage(m conversation.Message) *Row {
	r := &Row{
		Id:               int64(m.ID),
		ConversationId:   m.ConversationID,
		SenderId:         m.SenderID,
		Content:          m.Content,
		CreatedAt:        m.CreatedAt.UTC(),
		DeliveryStatus:   uint8(m.DeliveryStatus),
		ModerationStatus: uint8(m.ModerationStatus),
		RejectionReason:  m.RejectionReason,
		ReadAt:           utcPtr(m.ReadAt),
		DeliveredAt:      utcPtr(m.DeliveredAt),
	}
	if m.Attachment != nil {
		r.AttachmentUrl = m.Attachment.URL
		r.AttachmentMime = m.Attachment.MimeType
		r.AttachmentName = m.Attachment.Name
	}
	return r
}

func (r *Row) toMessage(kind conversation.Kind) conversation.Message {
	m := conversation.Message{
		ID:               conversation.MessageID(r.Id),
		ConversationID:   r.ConversationId,
		Kind:             kind,
		SenderID:         r.SenderId,
		Content:          r.Content,
		CreatedAt:        r.CreatedAt.UTC(),
		DeliveryStatus:   conversation.DeliveryStatus(r.DeliveryStatus),
		ModerationStatus: conversation.ModerationStatus(r.ModerationStatus),
		RejectionReason:  r.RejectionReason,
		ReadAt:           utcPtr(r.ReadAt),
		DeliveredAt:      utcPtr(r.DeliveredAt),
	}
	if r.AttachmentUrl != "" {
		m.Attachment = &conversation.Attachment{
			URL:      r.AttachmentUrl,
			MimeType: r.AttachmentMime,
			Name:     r.AttachmentName,
		}
	}
	return m
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
