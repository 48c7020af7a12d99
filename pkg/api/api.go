// Package api exposes the chat core over HTTP: REST handlers for
// conversations, messages and typing, a websocket sync endpoint for
// realtime push, and the admin stats surface.
package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"eventsnap/pkg/chat"
	"eventsnap/pkg/logger"
	"eventsnap/pkg/tree"
)

// API wires handlers to a chat service and its backing store.
type API struct {
	svc   *chat.Service
	store *tree.Store
}

// New builds the API surface over svc. store may be nil in tests that
// do not exercise the admin endpoints.
func New(svc *chat.Service, store *tree.Store) *API {
	return &API{svc: svc, store: store}
}

// Router returns the versioned router with every route registered.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID)

	v1 := r.PathPrefix("/v1").Subrouter()

	// conversations
	v1.HandleFunc("/conversations", a.createConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}", a.getConversation).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/archive", a.setArchived).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/mute", a.setMuted).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/read", a.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/unread/reset", a.resetUnread).Methods(http.MethodPost)

	// messages
	v1.HandleFunc("/conversations/{id}/messages", a.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", a.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages/{mid}", a.getMessage).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages/{mid}", a.deleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/conversations/{id}/messages/{mid}/status", a.updateStatus).Methods(http.MethodPatch)

	// typing and connectivity
	v1.HandleFunc("/conversations/{id}/typing", a.setTyping).Methods(http.MethodPut)
	v1.HandleFunc("/connection", a.connection).Methods(http.MethodGet)

	// realtime push
	v1.HandleFunc("/sync", a.sync).Methods(http.MethodGet)

	// admin
	v1.HandleFunc("/admin/stats", a.adminStats).Methods(http.MethodGet)

	return r
}

// requestID stamps every request with an id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path, "headers", logger.SafeHeaders(r))
		next.ServeHTTP(w, r)
	})
}
