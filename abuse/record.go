////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package abuse tracks moderation violations per user and turns repeated
// violations into progressively longer send blocks.
package abuse

import (
	"fmt"
	"time"
)

// BlockThreshold is the violation count at which blocking starts.
const BlockThreshold = 5

// escalation holds the block length, in minutes, for the 5th, 6th, ...
// violation. Counts past the end of the table use the last entry.
var escalation = []int{5, 15, 30, 60, 180, 360, 720, 1440}

// BlockDuration returns how long a user is blocked after their count-th
// violation, or zero when the count does not block.
func BlockDuration(count uint32) time.Duration {
	if count < BlockThreshold {
		return 0
	}
	i := int(count - BlockThreshold)
	if i >= len(escalation) {
		i = len(escalation) - 1
	}
	return time.Duration(escalation[i]) * time.Minute
}

// Record is the violation history of one user.
type Record struct {
	ViolationCount  uint32     `json:"violationCount"`
	BlockedUntil    *time.Time `json:"blockedUntil,omitempty"`
	LastViolationAt *time.Time `json:"lastViolationAt,omitempty"`
}

// IsBlocked reports whether the record blocks sending at now. A blockedUntil
// in the past does not block even before it is cleared.
func (r Record) IsBlocked(now time.Time) bool {
	return r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// String returns a short description for logging.
func (r Record) String() string {
	until := "never"
	if r.BlockedUntil != nil {
		until = r.BlockedUntil.Format(time.RFC3339)
	}
	return fmt.Sprintf("Record{violations: %d, blockedUntil: %s}",
		r.ViolationCount, until)
}

// ManualBlock is an administrative block independent of the escalation.
type ManualBlock struct {
	Until     time.Time `json:"until"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsActive reports whether the block is in force at now.
func (b ManualBlock) IsActive(now time.Time) bool {
	return b.Until.After(now)
}

// Status is everything known about a user's ability to send.
type Status struct {
	Record Record       `json:"record"`
	Manual *ManualBlock `json:"manual,omitempty"`
}

// BlockedUntil returns the latest active block expiry at now and the reason
// of a manual block, if that is the one in force.
func (s Status) BlockedUntil(now time.Time) (time.Time, string, bool) {
	var (
		until   time.Time
		reason  string
		blocked bool
	)
	if s.Record.IsBlocked(now) {
		until, blocked = *s.Record.BlockedUntil, true
	}
	if s.Manual != nil && s.Manual.IsActive(now) && s.Manual.Until.After(until) {
		until, reason, blocked = s.Manual.Until, s.Manual.Reason, true
	}
	return until, reason, blocked
}
