package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"eventsnap/pkg/chat"
	"eventsnap/pkg/models"
	"eventsnap/pkg/utils"
)

// sendMessage handles POST /v1/conversations/{id}/messages.
func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	var body struct {
		Sender  string             `json:"sender"`
		Content string             `json:"content"`
		Type    models.MessageType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	mid, err := a.svc.Send(r.Context(), cid, body.Sender, chat.Payload{
		Content: body.Content,
		Type:    body.Type,
	})
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	msg, err := a.svc.GetMessage(r.Context(), cid, mid)
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

// listMessages handles GET /v1/conversations/{id}/messages?limit=<n>.
// Messages come back ascending by server timestamp, trimmed to the most
// recent limit.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["id"]
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := a.svc.ListMessages(r.Context(), cid, limit)
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"conversation": cid,
		"messages":     msgs,
	})
}

func (a *API) getMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, err := a.svc.GetMessage(r.Context(), vars["id"], vars["mid"])
	if err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

// updateStatus handles PATCH .../messages/{mid}/status. Disallowed
// transitions are no-ops at the service layer and still return 200.
func (a *API) updateStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Status models.Status `json:"status"`
		User   string        `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.svc.UpdateStatus(r.Context(), vars["id"], vars["mid"], body.Status, body.User); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok"})
}

// deleteMessage handles DELETE .../messages/{mid}?user=<requester>. The
// delete is soft: content becomes a placeholder, the record survives.
func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requester := r.URL.Query().Get("user")
	if err := a.svc.DeleteMessage(r.Context(), vars["id"], vars["mid"], requester); err != nil {
		utils.WriteChatError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "ok"})
}
