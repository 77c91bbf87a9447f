////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package moderation is the asynchronous moderation gate. The pipeline hands
// it a persisted message and moves on; the verdict is written to the message
// row and reaches every client through the realtime bus, never as a return
// value.
package moderation

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"

	"gitlab.com/elixxir/parley/abuse"
	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/logging"
	"gitlab.com/elixxir/parley/metrics"
	"gitlab.com/elixxir/parley/stoppable"
)

// ErrQueueFull is returned by Submit when no worker can take the message.
var ErrQueueFull = errors.New("moderation queue is full")

// MessageStore is the part of the conversation store the gate writes to.
type MessageStore interface {
	Get(ctx context.Context, kind conversation.Kind,
		id conversation.MessageID) (conversation.Message, error)
	Update(ctx context.Context, kind conversation.Kind,
		id conversation.MessageID, fn func(m *conversation.Message)) (
		conversation.Message, error)
	ListPending(ctx context.Context, kind conversation.Kind) (
		[]conversation.Message, error)
}

// Violations records rejected messages against their sender.
type Violations interface {
	RecordViolation(ctx context.Context, userID string) (abuse.Record, error)
}

// command asks a worker to moderate one message.
type command struct {
	kind conversation.Kind
	id   conversation.MessageID
}

// Gate moderates persisted messages on a pool of rate-limited workers.
type Gate struct {
	params     Params
	classifier Classifier
	store      MessageStore
	violations Violations
	reporter   event.Reporter
	clock      clock.Clock
	limiter    ratelimit.Limiter
	queue      chan command
}

// NewGate builds a Gate. reporter may be nil.
func NewGate(p Params, c Classifier, store MessageStore, v Violations,
	reporter event.Reporter, clk clock.Clock) *Gate {
	if p.Workers < 1 {
		p.Workers = 1
	}
	if p.QueueSize < 1 {
		p.QueueSize = 1
	}

	limiter := ratelimit.NewUnlimited()
	if p.RatePerSecond > 0 {
		limiter = ratelimit.New(p.RatePerSecond, ratelimit.WithoutSlack)
	}

	return &Gate{
		params:     p,
		classifier: c,
		store:      store,
		violations: v,
		reporter:   reporter,
		clock:      clk,
		limiter:    limiter,
		queue:      make(chan command, p.QueueSize),
	}
}

// Start launches the workers.
func (g *Gate) Start() stoppable.Stoppable {
	multi := stoppable.NewMulti("ModerationGate")
	for i := 0; i < g.params.Workers; i++ {
		stop := stoppable.NewSingle("ModerationWorker" + strconv.Itoa(i))
		go g.worker(stop)
		multi.Add(stop)
	}
	jww.INFO.Printf("[MODERATION] Started %d workers", g.params.Workers)
	return multi
}

// Submit queues the message for moderation without waiting for the verdict.
func (g *Gate) Submit(kind conversation.Kind, id conversation.MessageID) error {
	select {
	case g.queue <- command{kind: kind, id: id}:
		metrics.ModerationQueue.Set(float64(len(g.queue)))
		jww.TRACE.Printf("[MODERATION] Queued %s message %d", kind, id)
		return nil
	default:
		jww.WARN.Printf("[MODERATION] Queue full, %s message %d stays pending",
			kind, id)
		return errors.Wrapf(ErrQueueFull, "%s message %d", kind, id)
	}
}

// RecoverPending re-submits every message still pending moderation, oldest
// first. It is run at start-up and by operators after classifier outages.
func (g *Gate) RecoverPending(ctx context.Context) (int, error) {
	n := 0
	for _, kind := range conversation.Kinds {
		pending, err := g.store.ListPending(ctx, kind)
		if err != nil {
			return n, err
		}
		for _, m := range pending {
			if err = g.Submit(kind, m.ID); err != nil {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		jww.INFO.Printf("[MODERATION] Re-submitted %d pending messages", n)
	}
	return n, nil
}

func (g *Gate) worker(stop *stoppable.Single) {
	for {
		select {
		case <-stop.Quit():
			stop.ToStopped()
			return
		case cmd := <-g.queue:
			metrics.ModerationQueue.Set(float64(len(g.queue)))
			g.moderate(cmd)
		}
	}
}

// moderate runs one message through the classifier and writes the verdict.
func (g *Gate) moderate(cmd command) {
	ctx := context.Background()
	m, err := g.store.Get(ctx, cmd.kind, cmd.id)
	if err != nil {
		jww.ERROR.Printf("[MODERATION] Failed to load %s message %d: %+v",
			cmd.kind, cmd.id, err)
		return
	}
	if m.ModerationStatus != conversation.ModerationPending {
		jww.DEBUG.Printf("[MODERATION] %s already %s", m, m.ModerationStatus)
		return
	}

	d, err := g.classify(ctx, m)
	if err != nil {
		// Fail closed: the message stays pending and invisible to the peer.
		err = conversation.NewFailure(conversation.ErrModerationUnavailable, err)
		jww.WARN.Printf("[MODERATION] %s left pending: %+v", m, err)
		metrics.ModerationDecisions.WithLabelValues(
			cmd.kind.String(), "unavailable").Inc()
		if g.reporter != nil {
			g.reporter.Report(event.Warning, event.CategoryModeration,
				event.TypeModerationUnavailable, m.Ref().String()+"/"+m.ID.String())
		}
		return
	}

	if d.Approved {
		g.approve(ctx, m)
	} else {
		g.reject(ctx, m, d.Reason)
	}
}

// classify calls the classifier with a timeout, retrying failed calls with
// exponential backoff.
func (g *Gate) classify(ctx context.Context, m conversation.Message) (
	Decision, error) {
	backoff := g.params.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= g.params.Retries; attempt++ {
		if attempt > 0 && backoff > 0 {
			jww.DEBUG.Printf("[MODERATION] Retry %d for %s after %s: %+v",
				attempt, m, backoff, lastErr)
			g.clock.Sleep(backoff)
			backoff *= 2
		}

		g.limiter.Take()
		start := g.clock.Now()
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if g.params.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.params.Timeout)
		}
		d, err := g.classifier.Classify(callCtx, m)
		cancel()
		metrics.ModerationLatency.Observe(g.clock.Since(start).Seconds())

		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	return Decision{}, errors.WithMessagef(lastErr,
		"classifier failed %d times", g.params.Retries+1)
}

func (g *Gate) approve(ctx context.Context, m conversation.Message) {
	_, err := g.store.Update(ctx, m.Kind, m.ID, func(m *conversation.Message) {
		if m.ModerationStatus != conversation.ModerationPending {
			return
		}
		m.ModerationStatus = conversation.ModerationApproved
		m.DeliveryStatus = m.DeliveryStatus.Advance(conversation.Sent)
	})
	if err != nil {
		jww.ERROR.Printf("[MODERATION] Failed to approve %s: %+v", m, err)
		return
	}
	metrics.ModerationDecisions.WithLabelValues(m.Kind.String(), "approved").Inc()
	jww.DEBUG.Printf("[MODERATION] Approved %s", m)
}

func (g *Gate) reject(ctx context.Context, m conversation.Message,
	reason string) {
	rejected := false
	_, err := g.store.Update(ctx, m.Kind, m.ID, func(m *conversation.Message) {
		if m.ModerationStatus != conversation.ModerationPending {
			return
		}
		m.ModerationStatus = conversation.ModerationRejected
		m.RejectionReason = reason
		m.DeliveryStatus = conversation.Rejected
		rejected = true
	})
	if err != nil {
		jww.ERROR.Printf("[MODERATION] Failed to reject %s: %+v", m, err)
		return
	}
	if !rejected {
		return
	}

	metrics.ModerationDecisions.WithLabelValues(m.Kind.String(), "rejected").Inc()
	jww.INFO.Printf("[MODERATION] Rejected %s (%s): %s", m, reason,
		logging.Content(m.Content))

	if g.violations == nil {
		return
	}
	// The tracker has its own timeout; the verdict is already stored.
	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err = g.violations.RecordViolation(vctx, m.SenderID); err != nil {
		jww.ERROR.Printf("[MODERATION] Failed to record violation of %s "+
			"for %s: %+v", m.SenderID, m, err)
	}
}
