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

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/store"
)

// SetVisibility records whether the conversation is on screen and whether its
// window has focus. Becoming both visible and focused marks everything
// received so far as read; while hidden or unfocused no read receipts are
// written.
func (p *Pipeline) SetVisibility(ctx context.Context, visible,
	focused bool) error {
	p.stateMux.Lock()
	wasActive := p.visible && p.focused
	p.visible, p.focused = visible, focused
	p.stateMux.Unlock()

	if wasActive || !(visible && focused) {
		return nil
	}
	return p.markRead(ctx)
}

func (p *Pipeline) isActive() bool {
	p.stateMux.Lock()
	defer p.stateMux.Unlock()
	return p.visible && p.focused
}

// markRead marks every received message up to now as read and reconciles the
// unread aggregate.
func (p *Pipeline) markRead(ctx context.Context) error {
	now := p.deps.Clock.Now()
	n, err := p.deps.Store.MarkRead(ctx, p.ref, p.userID, now, now)
	if err != nil {
		jww.ERROR.Printf("[PIPELINE] Failed to mark %s read for %s: %+v",
			p.ref, p.userID, err)
		return err
	}
	if n > 0 {
		jww.DEBUG.Printf("[PIPELINE] %s read %d messages in %s",
			p.userID, n, p.ref)
	}
	return p.reconcileUnread(ctx, &now)
}

// reconcileUnread recounts the user's unread messages and writes the
// aggregate. lastReadAt is kept from the stored aggregate when nil.
func (p *Pipeline) reconcileUnread(ctx context.Context,
	lastReadAt *time.Time) error {
	count, err := p.deps.Store.CountUnread(ctx, p.ref, p.userID)
	if err != nil {
		return errors.WithMessage(err, "failed to reconcile unread count")
	}
	u := store.Unread{
		UserId:         p.userID,
		ConversationId: p.ref.ID,
		Count:          count,
		LastReadAt:     lastReadAt,
	}
	if lastReadAt == nil {
		prev, err := p.deps.Store.GetUnread(ctx, p.ref, p.userID)
		if err != nil {
			return errors.WithMessage(err, "failed to reconcile unread count")
		}
		u.LastReadAt = prev.LastReadAt
	}
	return p.deps.Store.UpsertUnread(ctx, p.ref.Kind, u)
}
