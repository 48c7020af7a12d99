package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"eventsnap/pkg/utils"
)

// setTyping handles PUT /v1/conversations/{id}/typing. typing=true arms
// the server-side expiry timer; repeated calls refresh it. typing=false
// clears the flag immediately.
func (a *API) setTyping(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	var body struct {
		User   string `json:"user"`
		Typing bool   `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.svc.SetTyping(r.Context(), cid, body.User, body.Typing); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok"})
}

// connection handles GET /v1/connection and reports store connectivity.
func (a *API) connection(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"connected": a.svc.Monitor().IsConnected(),
	})
}
