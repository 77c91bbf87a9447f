////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package event

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/stoppable"
)

// queueSize is the number of notices that may wait for delivery before new
// ones are dropped.
const queueSize = 1000

// Notice is a single reported event.
type Notice struct {
	Priority  int
	Category  string
	EventType string
	Details   string
}

// String adheres to the [fmt.Stringer] interface.
func (n Notice) String() string {
	return fmt.Sprintf("Notice(%d, %s, %s, %s)",
		n.Priority, n.Category, n.EventType, n.Details)
}

// Manager queues notices and hands them to every registered callback from a
// single goroutine, in report order.
type Manager struct {
	noticeCh  chan Notice
	callbacks sync.Map
}

// NewManager returns a Manager. Notices are queued until Start is called.
func NewManager() *Manager {
	return &Manager{noticeCh: make(chan Notice, queueSize)}
}

// Report queues a notice. It never blocks; when the queue is full the notice
// is dropped and logged.
func (m *Manager) Report(priority int, category, evtType, details string) {
	n := Notice{
		Priority:  priority,
		Category:  category,
		EventType: evtType,
		Details:   details,
	}
	select {
	case m.noticeCh <- n:
		jww.TRACE.Printf("[EVENT] Reported %s", n)
	default:
		jww.ERROR.Printf("[EVENT] Notice queue full, dropping %s", n)
	}
}

// RegisterCallback adds a named callback. Names must be unique.
func (m *Manager) RegisterCallback(name string, cb Callback) error {
	if _, exists := m.callbacks.LoadOrStore(name, cb); exists {
		return errors.Errorf("callback %q already registered", name)
	}
	return nil
}

// UnregisterCallback removes the named callback.
func (m *Manager) UnregisterCallback(name string) {
	m.callbacks.Delete(name)
}

// Start launches the delivery goroutine.
func (m *Manager) Start() stoppable.Stoppable {
	stop := stoppable.NewSingle("EventDelivery")
	go m.deliver(stop)
	return stop
}

func (m *Manager) deliver(stop *stoppable.Single) {
	jww.DEBUG.Print("[EVENT] Delivery started")
	for {
		select {
		case <-stop.Quit():
			jww.DEBUG.Print("[EVENT] Delivery stopped")
			stop.ToStopped()
			return
		case n := <-m.noticeCh:
			// Callbacks run inline; a slow callback backs up the queue.
			m.callbacks.Range(func(_, cb any) bool {
				cb.(Callback)(n.Priority, n.Category, n.EventType, n.Details)
				return true
			})
		}
	}
}
