package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventsnap/pkg/chat"
)

func TestWriteChatErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: empty content", chat.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: not yours", chat.ErrPermission), http.StatusForbidden},
		{fmt.Errorf("%w: conversation x", chat.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: io broke", chat.ErrTransport), http.StatusBadGateway},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		WriteChatError(rr, tc.err)
		if rr.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content type: %s", ct)
		}
	}
}

func TestJSONWrite(t *testing.T) {
	rr := httptest.NewRecorder()
	if err := JSONWrite(rr, http.StatusCreated, map[string]string{"a": "b"}); err != nil {
		t.Fatalf("JSONWrite: %v", err)
	}
	if rr.Code != http.StatusCreated {
		t.Fatalf("code: %d", rr.Code)
	}
	if rr.Body.String() != "{\"a\":\"b\"}\n" {
		t.Fatalf("body: %q", rr.Body.String())
	}
}
