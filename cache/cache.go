////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cache is the process-wide conversation cache. It holds the last
// fetched message window of every conversation for a fixed TTL. Entries are
// immutable; writers build a new entry and swap it in, so readers never take a
// lock and never see a half-applied change.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/metrics"
)

// DefaultTTL is how long a fetched window is served without I/O.
const DefaultTTL = 5 * time.Minute

// Params configures a Cache.
type Params struct {
	TTL time.Duration
}

// GetDefaultParams returns the default cache parameters.
func GetDefaultParams() Params {
	return Params{TTL: DefaultTTL}
}

// Entry is the cached window of one conversation.
type Entry struct {
	// Messages is in chronological order. It must not be modified.
	Messages []conversation.Message

	// HasMore is true if older messages exist beyond the window.
	HasMore bool

	FetchedAt time.Time
}

// Fetcher loads the window of a conversation from the store. FetchedAt of the
// returned Entry is ignored.
type Fetcher func(ctx context.Context, ref conversation.Ref) (Entry, error)

// Cache maps conversations to their last fetched window.
type Cache struct {
	ttl     time.Duration
	clock   clock.Clock
	entries sync.Map // conversation.Ref -> *Entry
}

// New builds an empty Cache.
func New(p Params, clk clock.Clock) *Cache {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	return &Cache{ttl: p.TTL, clock: clk}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) load(ref conversation.Ref) (*Entry, bool) {
	v, ok := c.entries.Load(ref)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// fresh returns true while the entry is inside its TTL.
func (c *Cache) fresh(e *Entry) bool {
	return c.clock.Since(e.FetchedAt) < c.ttl
}

// Get returns the window of the conversation. A fresh entry is returned
// without calling fetch. Otherwise fetch is called and its result cached; if
// it fails the stale entry is returned instead. With neither, an empty Entry
// is returned along with the fetch error.
func (c *Cache) Get(ctx context.Context, ref conversation.Ref,
	fetch Fetcher) (Entry, error) {
	old, exists := c.load(ref)
	if exists && c.fresh(old) {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		jww.TRACE.Printf("[CACHE] Hit for %s", ref)
		return *old, nil
	}

	fetched, err := fetch(ctx, ref)
	if err != nil {
		if exists {
			metrics.CacheLookups.WithLabelValues("stale").Inc()
			jww.WARN.Printf("[CACHE] Refetch of %s failed, serving entry "+
				"from %s: %+v", ref, old.FetchedAt, err)
			return *old, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Entry{}, errors.WithMessagef(err, "failed to fetch %s", ref)
	}

	metrics.CacheLookups.WithLabelValues("miss").Inc()
	e := c.Put(ref, fetched.Messages, fetched.HasMore)
	return e, nil
}

// Peek returns the cached entry, fresh or stale, without fetching.
func (c *Cache) Peek(ref conversation.Ref) (Entry, bool) {
	e, ok := c.load(ref)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put replaces the entry of the conversation with a freshly fetched window.
func (c *Cache) Put(ref conversation.Ref, messages []conversation.Message,
	hasMore bool) Entry {
	e := &Entry{
		Messages:  cloneMessages(messages),
		HasMore:   hasMore,
		FetchedAt: c.clock.Now(),
	}
	c.entries.Store(ref, e)
	jww.TRACE.Printf("[CACHE] Stored %d messages for %s", len(messages), ref)
	return *e
}

// Update replaces the messages of an existing entry with the result of fn. fn
// receives a private copy it may modify. FetchedAt is kept so that local
// writes do not extend the life of the window. Returns false if there is no
// entry.
func (c *Cache) Update(ref conversation.Ref,
	fn func(messages []conversation.Message) []conversation.Message) bool {
	for {
		old, ok := c.load(ref)
		if !ok {
			return false
		}
		e := &Entry{
			Messages:  fn(cloneMessages(old.Messages)),
			HasMore:   old.HasMore,
			FetchedAt: old.FetchedAt,
		}
		if c.entries.CompareAndSwap(ref, old, e) {
			return true
		}
	}
}

// Append adds a persisted message to the end of an existing entry unless a
// message with the same id is already there.
func (c *Cache) Append(m conversation.Message) bool {
	return c.Update(m.Ref(), func(
		messages []conversation.Message) []conversation.Message {
		for _, existing := range messages {
			if existing.ID == m.ID {
				return messages
			}
		}
		return append(messages, m.Clone())
	})
}

// Invalidate drops the entries of the given conversations or, when none are
// given, every entry.
func (c *Cache) Invalidate(refs ...conversation.Ref) {
	if len(refs) == 0 {
		c.entries.Range(func(key, _ any) bool {
			c.entries.Delete(key)
			return true
		})
		jww.DEBUG.Print("[CACHE] Invalidated all entries")
		return
	}
	for _, ref := range refs {
		c.entries.Delete(ref)
		jww.DEBUG.Printf("[CACHE] Invalidated %s", ref)
	}
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func cloneMessages(messages []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, len(messages))
	for i := range messages {
		out[i] = messages[i].Clone()
	}
	return out
}
