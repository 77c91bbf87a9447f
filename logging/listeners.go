////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// listeners tracks every listener registered with jww so that one can be
// removed without dropping the others.
var listeners = struct {
	byID   map[uint64]jww.LogListener
	nextID uint64
	sync.Mutex
}{byID: make(map[uint64]jww.LogListener)}

// AddLogListener registers the listener with jww and returns an ID for
// RemoveLogListener.
func AddLogListener(ll jww.LogListener) uint64 {
	listeners.Lock()
	defer listeners.Unlock()

	id := listeners.nextID
	listeners.nextID++
	listeners.byID[id] = ll
	jww.SetLogListeners(listenerSlice()...)
	return id
}

// RemoveLogListener unregisters the listener with the given ID.
func RemoveLogListener(id uint64) {
	listeners.Lock()
	defer listeners.Unlock()

	delete(listeners.byID, id)
	jww.SetLogListeners(listenerSlice()...)
}

func listenerSlice() []jww.LogListener {
	out := make([]jww.LogListener, 0, len(listeners.byID))
	for _, ll := range listeners.byID {
		out = append(out, ll)
	}
	return out
}
