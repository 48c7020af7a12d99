package api

import (
	"net/http"

	"eventsnap/pkg/auth"
	"eventsnap/pkg/utils"
)

// adminStats handles GET /v1/admin/stats. Backend keys only; the counts
// come from key-prefix scans over the store.
func (a *API) adminStats(w http.ResponseWriter, r *http.Request) {
	if auth.RoleFromContext(r.Context()) != "backend" {
		utils.JSONError(w, http.StatusForbidden, "backend key required")
		return
	}
	if a.store == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not available")
		return
	}
	convs, err := a.store.CountPrefix(r.Context(), "chats/", "/meta")
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msgs, err := a.store.CountPrefix(r.Context(), "chats/", "")
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	typingNodes, err := a.store.ScanPrefix(r.Context(), "chats/", "/typing/")
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"conversations":  convs,
		"keys":           msgs,
		"typing_flags":   len(typingNodes),
		"notify_dropped": a.store.NotifyDropped(),
	})
}
