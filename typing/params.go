////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package typing implements the ephemeral typing indicator. Nothing here is
// durable: the sender broadcasts throttled signals over the realtime bus and
// each receiver expires the indicator on its own timer.
package typing

import "time"

// Params configures both sides of the indicator.
type Params struct {
	// Throttle is the minimum gap between two "typing" signals from a sender.
	Throttle time.Duration

	// Idle is how long a sender may go without a keystroke before a "stopped"
	// signal is sent.
	Idle time.Duration

	// Timeout is how long a receiver shows the indicator after the last
	// "typing" signal it observed.
	Timeout time.Duration
}

// GetDefaultParams returns the default typing parameters.
func GetDefaultParams() Params {
	return Params{
		Throttle: time.Second,
		Idle:     2 * time.Second,
		Timeout:  3 * time.Second,
	}
}
