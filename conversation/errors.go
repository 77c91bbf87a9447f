////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Error kinds surfaced by the message pipeline. Use errors.Is to classify an
// error returned from a send.
var (
	// ErrValidation is the kind of every local validation refusal.
	ErrValidation = errors.New("invalid send")

	// ErrBlocked is the kind of a send refused by the abuse gate. The concrete
	// error is a *BlockedError.
	ErrBlocked = errors.New("sender is blocked")

	// ErrUploadFailure is the kind of an attachment compression or upload
	// failure.
	ErrUploadFailure = errors.New("attachment upload failed")

	// ErrPersistFailure is the kind of a failed durable write.
	ErrPersistFailure = errors.New("failed to persist message")

	// ErrModerationUnavailable is the kind of a classifier failure. The message
	// stays pending.
	ErrModerationUnavailable = errors.New("moderation unavailable")
)

var (
	// ErrEmptyMessage is returned when a send has neither content nor an
	// attachment.
	ErrEmptyMessage = NewFailure(ErrValidation,
		errors.New("message has neither content nor an attachment"))

	// ErrSendInFlight is returned when a send is attempted while another send
	// on the same conversation is outstanding.
	ErrSendInFlight = NewFailure(ErrValidation,
		errors.New("a send is already in flight for this conversation"))
)

// Failure pairs an error kind with its underlying cause so that callers can
// match the kind with errors.Is and still log the cause.
type Failure struct {
	Kind  error
	Cause error
}

// NewFailure returns a Failure of the given kind.
func NewFailure(kind, cause error) error {
	return &Failure{Kind: kind, Cause: cause}
}

// Error returns the kind followed by the cause.
func (f *Failure) Error() string {
	if f.Cause == nil {
		return f.Kind.Error()
	}
	return f.Kind.Error() + ": " + f.Cause.Error()
}

// Is reports whether target is the kind of this Failure.
func (f *Failure) Is(target error) bool {
	return target == f.Kind
}

// Unwrap returns the cause.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// BlockedError is returned when the sender is blocked from sending.
type BlockedError struct {
	// Until is when the block expires.
	Until time.Time

	// Remaining is how long is left on the block at the time of the refusal.
	Remaining time.Duration

	// Reason is set for manual blocks.
	Reason string
}

// NewBlockedError builds a BlockedError for a block that expires at until,
// observed at now.
func NewBlockedError(until, now time.Time, reason string) *BlockedError {
	return &BlockedError{
		Until:     until,
		Remaining: until.Sub(now),
		Reason:    reason,
	}
}

// Error adheres to the error interface.
func (b *BlockedError) Error() string {
	now := b.Until.Add(-b.Remaining)
	msg := fmt.Sprintf("%s: sending is allowed again %s", ErrBlocked,
		humanize.RelTime(b.Until, now, "ago", "from now"))
	if b.Reason != "" {
		msg += " (" + b.Reason + ")"
	}
	return msg
}

// Is reports whether target is ErrBlocked.
func (b *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// IsRetryable returns true for failures the sender may retry as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUploadFailure) || errors.Is(err, ErrPersistFailure)
}
