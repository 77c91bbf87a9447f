////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/abuse"
	"gitlab.com/elixxir/parley/conversation"
	"gitlab.com/elixxir/parley/logging"
	"gitlab.com/elixxir/parley/metrics"
	"gitlab.com/elixxir/parley/pipeline"
	"gitlab.com/elixxir/parley/realtime"
	"gitlab.com/elixxir/parley/store"
)

// maxPageSize bounds the limit query parameter of the history endpoint.
const maxPageSize = 100

// api serves the HTTP surface of a parley server.
type api struct {
	svc *services
}

// newRouter registers every endpoint on a new router. ring may be nil.
func newRouter(svc *services, ring *logging.RingLogger) *mux.Router {
	a := &api{svc: svc}
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations/{kind}/{id}/messages",
		a.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{kind}/{id}/messages",
		a.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/abuse", a.abuseStatus).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}/unblock", a.unblock).Methods(http.MethodPost)

	r.Handle("/ws", realtime.NewWSHandler(svc.bus))
	r.Handle("/metrics", metrics.Handler())
	if ring != nil {
		r.Handle("/debug/log", ring).Methods(http.MethodGet)
	}
	return r
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error        string     `json:"error"`
	Retryable    bool       `json:"retryable,omitempty"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		jww.WARN.Printf("[API] Failed to write response: %+v", err)
	}
}

// writeError maps the error kinds of a send to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		Retryable: conversation.IsRetryable(err),
	}
	status := http.StatusInternalServerError

	var blocked *conversation.BlockedError
	switch {
	case errors.As(err, &blocked):
		status = http.StatusForbidden
		resp.BlockedUntil = &blocked.Until
	case errors.Is(err, conversation.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, abuse.ErrGrantUsed):
		status = http.StatusConflict
	default:
		jww.ERROR.Printf("[API] %+v", err)
	}
	writeJSON(w, status, resp)
}

// viewer returns the authenticated user of the request. Authentication is
// done upstream.
func viewer(r *http.Request) (string, error) {
	if user := r.Header.Get(realtime.UserHeader); user != "" {
		return user, nil
	}
	return "", conversation.NewFailure(conversation.ErrValidation,
		errors.Errorf("missing %s header", realtime.UserHeader))
}

func conversationRef(r *http.Request) (conversation.Ref, error) {
	vars := mux.Vars(r)
	kind, err := conversation.ParseKind(vars["kind"])
	if err != nil {
		return conversation.Ref{},
			conversation.NewFailure(conversation.ErrValidation, err)
	}
	return conversation.NewRef(kind, vars["id"]), nil
}

// listMessages returns one page of history, newest first. ?before=<id> pages
// backwards from a message and ?limit bounds the page size.
func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	user, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ref, err := conversationRef(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := pipeline.DefaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit < 1 ||
			limit > maxPageSize {
			writeError(w, conversation.NewFailure(conversation.ErrValidation,
				errors.Errorf("invalid limit %q", l)))
			return
		}
	}

	var cursor *store.Cursor
	if b := r.URL.Query().Get("before"); b != "" {
		id, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			writeError(w, conversation.NewFailure(conversation.ErrValidation,
				errors.Errorf("invalid message id %q", b)))
			return
		}
		m, err := a.svc.store.Get(r.Context(), ref.Kind,
			conversation.MessageID(id))
		if err != nil {
			writeError(w, err)
			return
		}
		cursor = store.CursorOf(m)
	}

	messages, err := a.svc.store.Query(r.Context(), ref, user, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []conversation.Message `json:"messages"`
		HasMore  bool                   `json:"hasMore"`
	}{messages, len(messages) == limit})
}

// sendRequest is the body of a send.
type sendRequest struct {
	Content string `json:"content"`
}

// sendMessage sends a text message through a short-lived pipeline so it runs
// the same guard, persistence and moderation path as an interactive client.
func (a *api) sendMessage(w http.ResponseWriter, r *http.Request) {
	user, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ref, err := conversationRef(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req sendRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, conversation.NewFailure(conversation.ErrValidation,
			errors.Wrap(err, "invalid json")))
		return
	}

	p, err := a.svc.openPipeline(r.Context(), ref, user,
		pipeline.NoopEventModel{})
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() {
		if err := p.Close(); err != nil {
			jww.WARN.Printf("[API] Failed to close %s: %+v", ref, err)
		}
	}()

	m, err := p.Send(r.Context(), req.Content, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *api) abuseStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.svc.tracker.Status(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// unblock spends the user's daily unblock grant.
func (a *api) unblock(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.grants.Grant(r.Context(), mux.Vars(r)["user"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
