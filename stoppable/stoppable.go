////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable coordinates shutdown of the long-running goroutines owned
// by the pipeline, the realtime bus and the abuse expiry watcher.
package stoppable

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Stoppable is a goroutine, or group of goroutines, that can be told to quit.
type Stoppable interface {
	// Close signals the goroutine to quit. It does not wait for it to stop.
	Close() error

	// GetStatus returns the current Status.
	GetStatus() Status
	IsRunning() bool
	IsStopping() bool
	IsStopped() bool
	Name() string
}

// Status is the lifecycle state of a Stoppable.
type Status uint32

const (
	Running Status = iota
	Stopping
	Stopped
)

// String returns a human-readable version of [Status], used for debugging
// and logging. This function adheres to the [fmt.Stringer] interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "INVALID STATUS: " + strconv.Itoa(int(s))
	}
}

// pollInterval is how often WaitForStopped checks the status.
const pollInterval = 10 * time.Millisecond

// WaitForStopped blocks until the Stoppable reports Stopped or the timeout
// elapses, in which case an error is returned.
func WaitForStopped(s Stoppable, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !s.IsStopped() {
		select {
		case <-deadline.C:
			return errors.Errorf("stoppable %s did not stop within %s: "+
				"status is %s", s.Name(), timeout, s.GetStatus())
		case <-ticker.C:
		}
	}

	jww.DEBUG.Printf("[STOP] %s stopped", s.Name())
	return nil
}
