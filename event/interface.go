////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package event surfaces user-visible notices (moderation rejections, failed
// sends, blocks) from the pipeline to whatever renders them.
package event

// Callback receives every reported notice.
type Callback func(priority int, category, evtType, details string)

// Reporter is the reporting API used by the pipeline and the moderation gate.
type Reporter interface {
	Report(priority int, category, evtType, details string)
}

// Notice priorities.
const (
	Info    = 1
	Warning = 5
	Alert   = 10
)

// Notice categories.
const (
	CategoryModeration = "Moderation"
	CategorySend       = "Send"
	CategoryAbuse      = "Abuse"
)

// Notice types.
const (
	// TypeRejected is reported to the sender when the gate rejects one of
	// their messages. Details holds the reason.
	TypeRejected = "MessageRejected"

	// TypeModerationUnavailable is reported when the classifier could not be
	// reached and the message was left pending.
	TypeModerationUnavailable = "ModerationUnavailable"

	// TypeSendFailed is reported when an upload or persist failure rolled back
	// an optimistic message.
	TypeSendFailed = "SendFailed"

	// TypeBlocked is reported when a violation starts a block.
	TypeBlocked = "Blocked"

	// TypeUnblocked is reported when a block is lifted.
	TypeUnblocked = "Unblocked"
)
