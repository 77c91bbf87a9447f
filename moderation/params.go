////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package moderation

import (
	"encoding/json"
	"time"
)

// Params configures the Gate.
type Params struct {
	// Workers is the number of goroutines calling the classifier.
	Workers int

	// QueueSize is the number of messages that may wait for a worker. A
	// message submitted to a full queue stays pending until RecoverPending.
	QueueSize int

	// RatePerSecond caps classifier calls across all workers. Zero means
	// unlimited.
	RatePerSecond int

	// Timeout bounds a single classifier call. Zero disables the deadline.
	Timeout time.Duration

	// Retries is the number of extra attempts after a failed call.
	Retries int

	// RetryBackoff is the pause before the first retry; it doubles on every
	// further retry.
	RetryBackoff time.Duration
}

// GetDefaultParams returns the default Gate parameters.
func GetDefaultParams() Params {
	return Params{
		Workers:       2,
		QueueSize:     256,
		RatePerSecond: 0,
		Timeout:       10 * time.Second,
		Retries:       3,
		RetryBackoff:  500 * time.Millisecond,
	}
}

// MarshalJSON adheres to the [json.Marshaler] interface.
func (p Params) MarshalJSON() ([]byte, error) {
	type alias Params
	return json.Marshal(struct {
		alias
		Timeout      string
		RetryBackoff string
	}{alias(p), p.Timeout.String(), p.RetryBackoff.String()})
}
