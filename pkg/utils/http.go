package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"eventsnap/pkg/chat"
)

// JSONError writes a JSON error response with the given status code.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite writes v as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// WriteChatError maps the chat error taxonomy onto HTTP statuses:
// validation 400, permission 403, not-found 404, transport 502.
func WriteChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrPermission):
		JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrTransport):
		JSONError(w, http.StatusBadGateway, err.Error())
	default:
		JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
