////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/cache"
	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/store"
)

// LoadMessages loads the latest page of the conversation, served from the
// conversation cache while it is fresh.
func (p *Pipeline) LoadMessages(ctx context.Context) (Page, error) {
	return p.load(ctx, nil)
}

// LoadMore loads the page of messages strictly older than the oldest loaded
// one and prepends it.
func (p *Pipeline) LoadMore(ctx context.Context) (Page, error) {
	p.mux.Lock()
	oldest, ok := p.timeline.Oldest()
	hasMore := p.timeline.HasMore()
	p.mux.Unlock()

	if !ok || !hasMore {
		return p.page(0, false), nil
	}
	return p.load(ctx, store.CursorOf(oldest))
}

// load fetches one page. A second call with the same cursor while the first
// is running returns at once with Skipped set.
func (p *Pipeline) load(ctx context.Context, before *store.Cursor) (
	Page, error) {
	key := store.Cursor{}
	if before != nil {
		key = *before
	}
	p.loadMux.Lock()
	if _, running := p.loading[key]; running {
		p.loadMux.Unlock()
		jww.TRACE.Printf("[PIPELINE] Skipped duplicate fetch of %s", p.ref)
		return p.page(0, true), nil
	}
	p.loading[key] = struct{}{}
	p.loadMux.Unlock()
	defer func() {
		p.loadMux.Lock()
		delete(p.loading, key)
		p.loadMux.Unlock()
	}()

	var (
		messages []conversation.Message
		hasMore  bool
		err      error
	)
	if before == nil && p.deps.Cache != nil {
		var e cache.Entry
		e, err = p.deps.Cache.Get(ctx, p.ref, p.fetchLatest)
		messages, hasMore = e.Messages, e.HasMore
	} else {
		messages, hasMore, err = p.fetch(ctx, before)
	}
	if err != nil {
		return p.page(0, false), err
	}

	p.notifyMux.Lock()
	eff := p.applyLocked(PageLoaded{
		Messages: messages,
		HasMore:  hasMore,
		Older:    before != nil,
	}, nil)
	page := p.page(len(messages), false)
	p.model.HistoryLoaded(page.Messages, page.HasMore)
	p.notifyMux.Unlock()
	p.deliver(eff)
	jww.DEBUG.Printf("[PIPELINE] Loaded %d messages of %s (more: %t)",
		len(messages), p.ref, hasMore)
	return page, nil
}

// fetchLatest is the cache's fetcher. Every full reload also reconciles the
// unread aggregate.
func (p *Pipeline) fetchLatest(ctx context.Context,
	_ conversation.Ref) (cache.Entry, error) {
	messages, hasMore, err := p.fetch(ctx, nil)
	if err != nil {
		return cache.Entry{}, err
	}
	if err = p.reconcileUnread(ctx, nil); err != nil {
		jww.WARN.Printf("[PIPELINE] %+v", err)
	}
	return cache.Entry{Messages: messages, HasMore: hasMore}, nil
}

// fetch queries one page and returns it in chronological order.
func (p *Pipeline) fetch(ctx context.Context, before *store.Cursor) (
	[]conversation.Message, bool, error) {
	newestFirst, err := p.deps.Store.Query(
		ctx, p.ref, p.userID, before, p.params.PageSize)
	if err != nil {
		return nil, false, errors.WithMessagef(err,
			"failed to load messages of %s", p.ref)
	}

	n := len(newestFirst)
	messages := make([]conversation.Message, n)
	for i, m := range newestFirst {
		messages[n-1-i] = m
	}
	return messages, n == p.params.PageSize, nil
}

func (p *Pipeline) page(fetched int, skipped bool) Page {
	p.mux.Lock()
	defer p.mux.Unlock()
	return Page{
		Messages: p.timeline.Messages(),
		HasMore:  p.timeline.HasMore(),
		Fetched:  fetched,
		Skipped:  skipped,
	}
}
