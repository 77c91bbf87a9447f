////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"strconv"

	"github.com/pkg/errors"
)

// DeliveryStatus governs receipt semantics of a message.
type DeliveryStatus uint8

const (
	// Sending is the status of an optimistic message that has not been
	// persisted yet.
	Sending DeliveryStatus = 0

	// Moderating is the status of a persisted message awaiting the moderation
	// gate.
	Moderating DeliveryStatus = 1

	// Sent is the status of an approved message.
	Sent DeliveryStatus = 2

	// Delivered is the status of a message once the peer rendered it.
	Delivered DeliveryStatus = 3

	// Read is the status of a message once the peer viewed the conversation.
	Read DeliveryStatus = 4

	// Rejected is the terminal status of a message the moderation gate
	// refused.
	Rejected DeliveryStatus = 5
)

var deliveryStatusNames = map[DeliveryStatus]string{
	Sending:    "sending",
	Moderating: "moderating",
	Sent:       "sent",
	Delivered:  "delivered",
	Read:       "read",
	Rejected:   "rejected",
}

// String returns a human-readable version of [DeliveryStatus], used for
// debugging and logging. This function adheres to the [fmt.Stringer]
// interface.
func (ds DeliveryStatus) String() string {
	if name, ok := deliveryStatusNames[ds]; ok {
		return name
	}
	return "Invalid DeliveryStatus: " + strconv.Itoa(int(ds))
}

// rank orders the receipt statuses so merges never move a message backwards.
// Rejected is terminal and outranks everything.
func (ds DeliveryStatus) rank() int {
	if ds == Rejected {
		return 100
	}
	return int(ds)
}

// Advance returns the later of the two statuses.
func (ds DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if next.rank() > ds.rank() {
		return next
	}
	return ds
}

// MarshalText adheres to the [encoding.TextMarshaler] interface.
func (ds DeliveryStatus) MarshalText() ([]byte, error) {
	if _, ok := deliveryStatusNames[ds]; !ok {
		return nil, errors.New(ds.String())
	}
	return []byte(ds.String()), nil
}

// UnmarshalText adheres to the [encoding.TextUnmarshaler] interface.
func (ds *DeliveryStatus) UnmarshalText(text []byte) error {
	for status, name := range deliveryStatusNames {
		if name == string(text) {
			*ds = status
			return nil
		}
	}
	return errors.Errorf("unknown delivery status %q", text)
}

// ModerationStatus governs visibility of a message to the peer.
type ModerationStatus uint8

const (
	// ModerationPending is the status of a persisted message the gate has not
	// decided on. Pending messages are never shown to the peer.
	ModerationPending ModerationStatus = 0

	// ModerationApproved messages are visible to both participants.
	ModerationApproved ModerationStatus = 1

	// ModerationRejected messages are visible only to their sender.
	ModerationRejected ModerationStatus = 2
)

var moderationStatusNames = map[ModerationStatus]string{
	ModerationPending:  "pending",
	ModerationApproved: "approved",
	ModerationRejected: "rejected",
}

// String returns a human-readable version of [ModerationStatus], used for
// debugging and logging. This function adheres to the [fmt.Stringer]
// interface.
func (ms ModerationStatus) String() string {
	if name, ok := moderationStatusNames[ms]; ok {
		return name
	}
	return "Invalid ModerationStatus: " + strconv.Itoa(int(ms))
}

// MarshalText adheres to the [encoding.TextMarshaler] interface.
func (ms ModerationStatus) MarshalText() ([]byte, error) {
	if _, ok := moderationStatusNames[ms]; !ok {
		return nil, errors.New(ms.String())
	}
	return []byte(ms.String()), nil
}

// UnmarshalText adheres to the [encoding.TextUnmarshaler] interface.
func (ms *ModerationStatus) UnmarshalText(text []byte) error {
	for status, name := range moderationStatusNames {
		if name == string(text) {
			*ms = status
			return nil
		}
	}
	return errors.Errorf("unknown moderation status %q", text)
}
