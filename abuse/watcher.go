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
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/stoppable"
)

// DefaultPollInterval is how often a client re-reads its abuse record.
const DefaultPollInterval = 10 * time.Second

// Watch polls the user's record every interval and clears a passed
// blockedUntil. onChange, if set, is called with the fresh Status after each
// poll so a client can update its blocked banner.
func (t *Tracker) Watch(userID string, interval time.Duration,
	onChange func(Status)) stoppable.Stoppable {
	stop := stoppable.NewSingle("AbuseWatch:" + userID)
	ticker := t.clock.Ticker(interval)
	go t.watch(userID, interval, ticker, onChange, stop)
	return stop
}

func (t *Tracker) watch(userID string, interval time.Duration,
	ticker *clock.Ticker, onChange func(Status), stop *stoppable.Single) {
	defer ticker.Stop()

	for {
		select {
		case <-stop.Quit():
			stop.ToStopped()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := t.ReconcileExpiry(ctx, userID); err != nil {
				jww.WARN.Printf("[ABUSE] Failed to clear expired block of "+
					"%s: %+v", userID, err)
			}
			if onChange != nil {
				if s, err := t.Status(ctx, userID); err == nil {
					onChange(s)
				}
			}
			cancel()
		}
	}
}
