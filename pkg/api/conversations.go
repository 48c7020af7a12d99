package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"eventsnap/pkg/utils"
)

// createConversation handles POST /v1/conversations. The body names the
// two participants; the call is idempotent and returns the
// deterministic conversation id either way.
func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserA string `json:"user_a"`
		UserB string `json:"user_b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cid, err := a.svc.CreateOrGet(r.Context(), body.UserA, body.UserB)
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	conv, err := a.svc.GetConversation(r.Context(), cid)
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

// listConversations handles GET /v1/conversations?user=<id>.
func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	convs, err := a.svc.ListConversations(r.Context(), user)
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"user":          user,
		"conversations": convs,
	})
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	conv, err := a.svc.GetConversation(r.Context(), cid)
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *API) setArchived(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	var body struct {
		User     string `json:"user"`
		Archived bool   `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.svc.SetArchived(r.Context(), cid, body.User, body.Archived); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) setMuted(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	var body struct {
		User  string `json:"user"`
		Muted bool   `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.svc.SetMuted(r.Context(), cid, body.User, body.Muted); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok"})
}

// markRead handles POST /v1/conversations/{id}/read: the listed messages
// flip to read and the user's unread counter resets to zero in one
// atomic write.
func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	var body struct {
		User       string   `json:"user"`
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.svc.MarkManyAsRead(r.Context(), cid, body.MessageIDs, body.User); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok", "count": len(body.MessageIDs)})
}

func (a *API) resetUnread(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	var body struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.svc.ResetUnread(r.Context(), cid, body.User); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok"})
}
