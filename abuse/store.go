////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package abuse

import (
	"context"
)

// Store persists abuse records, manual blocks and unblock grants.
type Store interface {
	// GetRecord returns the user's record, or a zero Record if the user has
	// none.
	GetRecord(ctx context.Context, userID string) (Record, error)

	// UpdateRecord atomically applies fn to the user's record and stores the
	// result. A zero Record is passed when the user has none.
	UpdateRecord(ctx context.Context, userID string,
		fn func(r *Record) error) (Record, error)

	// GetManualBlock returns the user's manual block or nil.
	GetManualBlock(ctx context.Context, userID string) (*ManualBlock, error)
	SetManualBlock(ctx context.Context, userID string, b ManualBlock) error
	DeleteManualBlock(ctx context.Context, userID string) error

	// ClaimGrant records that the user was granted an unblock on the given
	// day. It returns false if a grant for that day already exists.
	ClaimGrant(ctx context.Context, userID, day string) (bool, error)

	// ReleaseGrant removes the user's grant for the given day so it can be
	// claimed again.
	ReleaseGrant(ctx context.Context, userID, day string) error
}
