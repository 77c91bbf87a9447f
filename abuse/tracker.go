////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package abuse

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/metrics"
)

// Tracker records violations and answers whether a user may send.
type Tracker struct {
	store    Store
	clock    clock.Clock
	reporter event.Reporter
}

// NewTracker returns a Tracker over the given store. reporter may be nil.
func NewTracker(store Store, clk clock.Clock,
	reporter event.Reporter) *Tracker {
	return &Tracker{store: store, clock: clk, reporter: reporter}
}

func (t *Tracker) report(priority int, evtType, details string) {
	if t.reporter != nil {
		t.reporter.Report(priority, event.CategoryAbuse, evtType, details)
	}
}

// RecordViolation counts a rejected message against the user. From the
// BlockThreshold-th violation on, it blocks the user for the escalation
// duration of the new count.
func (t *Tracker) RecordViolation(ctx context.Context, userID string) (
	Record, error) {
	now := t.clock.Now()
	r, err := t.store.UpdateRecord(ctx, userID, func(r *Record) error {
		r.ViolationCount++
		at := now
		r.LastViolationAt = &at
		if d := BlockDuration(r.ViolationCount); d > 0 {
			until := now.Add(d)
			r.BlockedUntil = &until
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	metrics.Violations.Inc()
	jww.INFO.Printf("[ABUSE] Violation %d recorded for %s",
		r.ViolationCount, userID)

	if d := BlockDuration(r.ViolationCount); d > 0 {
		metrics.Blocks.WithLabelValues(metrics.SourceEscalation).Inc()
		jww.INFO.Printf("[ABUSE] %s blocked for %s until %s",
			userID, d, r.BlockedUntil.Format(time.RFC3339))
		t.report(event.Warning, event.TypeBlocked, userID+" blocked until "+
			humanize.RelTime(*r.BlockedUntil, now, "ago", "from now"))
	}
	return r, nil
}

// Status returns the user's record and manual block.
func (t *Tracker) Status(ctx context.Context, userID string) (Status, error) {
	r, err := t.store.GetRecord(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	b, err := t.store.GetManualBlock(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{Record: r, Manual: b}, nil
}

// CheckBlocked returns a *conversation.BlockedError when the user may not
// send now, nil when they may, and any other error when the state could not
// be read.
func (t *Tracker) CheckBlocked(ctx context.Context, userID string) error {
	s, err := t.Status(ctx, userID)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	if until, reason, blocked := s.BlockedUntil(now); blocked {
		jww.DEBUG.Printf("[ABUSE] %s is blocked until %s",
			userID, until.Format(time.RFC3339))
		return conversation.NewBlockedError(until, now, reason)
	}
	return nil
}

// BlockManually blocks the user for d regardless of their violations.
func (t *Tracker) BlockManually(ctx context.Context, userID string,
	d time.Duration, reason string) error {
	if d <= 0 {
		return errors.Errorf("invalid block duration %s", d)
	}
	now := t.clock.Now()
	b := ManualBlock{Until: now.Add(d), Reason: reason, CreatedAt: now}
	if err := t.store.SetManualBlock(ctx, userID, b); err != nil {
		return err
	}

	metrics.Blocks.WithLabelValues(metrics.SourceManual).Inc()
	jww.INFO.Printf("[ABUSE] %s manually blocked for %s: %s",
		userID, d, reason)
	t.report(event.Warning, event.TypeBlocked, userID+": "+reason)
	return nil
}

// Unblock deletes any manual block and resets the user's record. It does not
// enforce the daily grant limit; see Grants.
func (t *Tracker) Unblock(ctx context.Context, userID string) error {
	if err := t.store.DeleteManualBlock(ctx, userID); err != nil {
		return err
	}
	_, err := t.store.UpdateRecord(ctx, userID, func(r *Record) error {
		*r = Record{}
		return nil
	})
	if err != nil {
		return err
	}

	jww.INFO.Printf("[ABUSE] %s unblocked", userID)
	t.report(event.Info, event.TypeUnblocked, userID)
	return nil
}

// ReconcileExpiry clears a blockedUntil that has passed. It returns true if a
// write was made.
func (t *Tracker) ReconcileExpiry(ctx context.Context, userID string) (
	bool, error) {
	r, err := t.store.GetRecord(ctx, userID)
	if err != nil {
		return false, err
	}
	now := t.clock.Now()
	if r.BlockedUntil == nil || r.IsBlocked(now) {
		return false, nil
	}

	cleared := false
	_, err = t.store.UpdateRecord(ctx, userID, func(r *Record) error {
		// Re-check inside the update; a violation may have landed since.
		if r.BlockedUntil != nil && !r.IsBlocked(now) {
			r.BlockedUntil = nil
			cleared = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if cleared {
		jww.DEBUG.Printf("[ABUSE] Cleared expired block of %s", userID)
	}
	return cleared, nil
}
