////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Multi groups several Stoppables so they can be closed together. Its status
// is the least advanced status of its children.
type Multi struct {
	name       string
	stoppables []Stoppable
	mux        sync.RWMutex
	once       sync.Once
}

// NewMulti returns an empty Multi.
func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Add registers a child.
func (m *Multi) Add(s Stoppable) {
	m.mux.Lock()
	m.stoppables = append(m.stoppables, s)
	m.mux.Unlock()
}

// Name returns the name of the Multi followed by its children in braces.
func (m *Multi) Name() string {
	m.mux.RLock()
	defer m.mux.RUnlock()

	names := make([]string, len(m.stoppables))
	for i, s := range m.stoppables {
		names[i] = s.Name()
	}
	return m.name + "{" + strings.Join(names, ", ") + "}"
}

// GetStatus returns the least advanced status among the children. An empty
// Multi is Stopped.
func (m *Multi) GetStatus() Status {
	m.mux.RLock()
	defer m.mux.RUnlock()

	status := Stopped
	for _, s := range m.stoppables {
		if st := s.GetStatus(); st < status {
			status = st
		}
	}
	return status
}

// IsRunning returns true if any child is running.
func (m *Multi) IsRunning() bool { return m.GetStatus() == Running }

// IsStopping returns true if no child is running and one is stopping.
func (m *Multi) IsStopping() bool { return m.GetStatus() == Stopping }

// IsStopped returns true once every child stopped.
func (m *Multi) IsStopped() bool { return m.GetStatus() == Stopped }

// Close closes every child concurrently and joins their errors. Only the first
// call has an effect.
func (m *Multi) Close() error {
	err := errors.Errorf("multi stoppable %q already closed", m.name)
	m.once.Do(func() {
		m.mux.RLock()
		children := append([]Stoppable(nil), m.stoppables...)
		m.mux.RUnlock()

		var (
			wg   sync.WaitGroup
			lock sync.Mutex
			msgs []string
		)
		for _, s := range children {
			wg.Add(1)
			go func(s Stoppable) {
				defer wg.Done()
				if closeErr := s.Close(); closeErr != nil {
					lock.Lock()
					msgs = append(msgs, closeErr.Error())
					lock.Unlock()
				}
			}(s)
		}
		wg.Wait()

		err = nil
		if len(msgs) > 0 {
			err = errors.Errorf("failed to close %d of %d children of %q: %s",
				len(msgs), len(children), m.name, strings.Join(msgs, "; "))
		}
	})

	if err != nil {
		jww.WARN.Printf("[STOP] %+v", err)
	}
	return err
}
