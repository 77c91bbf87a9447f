////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package abuse

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ErrGrantUsed is returned when a user already received an unblock grant
// today.
var ErrGrantUsed = errors.New("unblock grant already used today")

// dayLayout keys grants by UTC calendar day.
const dayLayout = "2006-01-02"

// Grants limits goodwill unblocks to one per user per UTC calendar day.
type Grants struct {
	store   Store
	tracker *Tracker
	clock   clock.Clock
}

// NewGrants returns a Grants recording its ledger in store and unblocking
// through tracker.
func NewGrants(store Store, tracker *Tracker, clk clock.Clock) *Grants {
	return &Grants{store: store, tracker: tracker, clock: clk}
}

// Day returns the ledger key of the current UTC day.
func (g *Grants) Day() string {
	return g.clock.Now().UTC().Format(dayLayout)
}

// Grant claims today's grant for the user and unblocks them. When the grant
// was already used today, ErrGrantUsed is returned and nothing is unblocked.
// A failed unblock gives the grant back.
func (g *Grants) Grant(ctx context.Context, userID string) error {
	day := g.Day()
	ok, err := g.store.ClaimGrant(ctx, userID, day)
	if err != nil {
		return err
	}
	if !ok {
		jww.DEBUG.Printf("[ABUSE] Refused second unblock of %s on %s",
			userID, day)
		return errors.WithMessagef(ErrGrantUsed, "%s on %s", userID, day)
	}
	if err = g.tracker.Unblock(ctx, userID); err != nil {
		if relErr := g.store.ReleaseGrant(ctx, userID, day); relErr != nil {
			jww.ERROR.Printf("[ABUSE] Grant of %s on %s is lost: %+v",
				userID, day, relErr)
		}
		return err
	}
	return nil
}
