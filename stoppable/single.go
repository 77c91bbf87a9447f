////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Single stops one goroutine through a quit channel. The goroutine selects on
// Quit and calls ToStopped once it has returned from its work.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a running Single.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: uint32(Running),
	}
}

// Name returns the name of the goroutine.
func (s *Single) Name() string { return s.name }

// GetStatus returns the current Status.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

// IsRunning returns true before Close is called.
func (s *Single) IsRunning() bool { return s.GetStatus() == Running }

// IsStopping returns true after Close and before ToStopped.
func (s *Single) IsStopping() bool { return s.GetStatus() == Stopping }

// IsStopped returns true once the goroutine called ToStopped.
func (s *Single) IsStopped() bool { return s.GetStatus() == Stopped }

// Quit returns the channel closed when the goroutine must quit.
func (s *Single) Quit() <-chan struct{} { return s.quit }

// ToStopped marks the goroutine as stopped. Calling it while not stopping is a
// programming error and panics.
func (s *Single) ToStopped() {
	if !atomic.CompareAndSwapUint32(
		&s.status, uint32(Stopping), uint32(Stopped)) {
		jww.FATAL.Panicf("[STOP] Cannot mark %q stopped when it is %s",
			s.name, s.GetStatus())
	}
	jww.TRACE.Printf("[STOP] %q is %s", s.name, Stopped)
}

// Close signals the goroutine to quit. Only the first call has an effect;
// later calls return an error.
func (s *Single) Close() error {
	err := errors.Errorf("stoppable %q already closed", s.name)
	s.once.Do(func() {
		if !atomic.CompareAndSwapUint32(
			&s.status, uint32(Running), uint32(Stopping)) {
			err = errors.Errorf("cannot close %q when it is %s",
				s.name, s.GetStatus())
			return
		}
		close(s.quit)
		err = nil
	})

	if err != nil {
		jww.WARN.Printf("[STOP] %+v", err)
	}
	return err
}
