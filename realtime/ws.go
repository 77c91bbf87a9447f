////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/conversation"
)

const (
	// UserHeader carries the id of the connecting user. Authentication is
	// done upstream.
	UserHeader = "X-Parley-User"

	writeTimeout = 10 * time.Second
)

// WSHandler bridges bus subscriptions to websocket clients. A client connects
// with ?kind=<kind>&id=<conversation> and receives every Event of that
// conversation it may see, as JSON text frames, until it disconnects.
type WSHandler struct {
	bus      *Bus
	upgrader websocket.Upgrader
}

// NewWSHandler returns a handler serving subscriptions from bus.
func NewWSHandler(bus *Bus) *WSHandler {
	return &WSHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP adheres to the [http.Handler] interface.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewer := r.Header.Get(UserHeader)
	if viewer == "" {
		viewer = r.URL.Query().Get("user")
	}
	if viewer == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	kind, err := conversation.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		jww.WARN.Printf("[BUS] Websocket upgrade failed: %+v", err)
		return
	}

	sub := h.bus.Subscribe(conversation.NewRef(kind, id), viewer)
	go h.drain(conn, sub)
	h.forward(conn, sub)
}

// forward writes events until the subscription closes or a write fails.
func (h *WSHandler) forward(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		_ = sub.Close()
		_ = conn.Close()
	}()

	for evt := range sub.Events() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(evt); err != nil {
			jww.DEBUG.Printf("[BUS] Websocket write to %s failed: %+v",
				sub.Viewer(), err)
			return
		}
	}
}

// drain discards client frames and closes the subscription once the client
// goes away.
func (h *WSHandler) drain(conn *websocket.Conn, sub *Subscription) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			_ = sub.Close()
			return
		}
	}
}
