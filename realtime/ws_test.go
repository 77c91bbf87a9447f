////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/parley/conversation"
)

// Tests that a websocket client receives the events of its subscription as
// JSON and is unsubscribed when it disconnects.
func TestWSHandler(t *testing.T) {
	bus := NewBus()
	srv := httptest.NewServer(NewWSHandler(bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/?kind=negotiation&id=" + testRef.ID
	header := http.Header{}
	header.Set(UserHeader, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bus.Subscribers(testRef) == 1 },
		time.Second, 5*time.Millisecond)

	bus.Publish(Change{Op: Insert,
		Row: newRow(7, "alice", conversation.ModerationApproved)})

	var evt Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, Insert, evt.Op)
	require.Equal(t, conversation.MessageID(7), evt.Row.ID)
	require.Equal(t, conversation.Negotiation, evt.Row.Kind)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return bus.Subscribers(testRef) == 0 },
		time.Second, 5*time.Millisecond)
}

// Error path: requests without a user or with an unknown kind are refused.
func TestWSHandler_BadRequest(t *testing.T) {
	h := NewWSHandler(NewBus())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/?kind=negotiation&id=x", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/?kind=group&id=x&user=bob", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
