////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package moderation

import (
	"context"

	"gitlab.com/elixxir/parley/conversation"
)

// Decision is the verdict of a Classifier. Reason is set when a message is
// rejected.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Approve is the approving Decision.
var Approve = Decision{Approved: true}

// Reject returns a rejecting Decision with the given reason.
func Reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason}
}

// Classifier decides whether a message may be shown to its recipient. It is
// called from the gate's workers and must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, m conversation.Message) (Decision, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context,
	m conversation.Message) (Decision, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context,
	m conversation.Message) (Decision, error) {
	return f(ctx, m)
}
