package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventsnap/pkg/chat"
	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/tree"
)

func newTestServer(t *testing.T) (*httptest.Server, *chat.Service) {
	t.Helper()
	logger.Init()
	store, err := tree.Open(t.TempDir())
	if err != nil {
		t.Fatalf("tree.Open: %v", err)
	}
	svc := chat.NewService(store, chat.Options{})
	srv := httptest.NewServer(New(svc, store).Router())
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		_ = store.Close()
	})
	return srv, svc
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	client := srv.Client()

	// create
	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations",
		map[string]string{"user_a": "alice", "user_b": "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var conv models.Conversation
	decode(t, resp, &conv)
	if conv.ID != "alice_bob" {
		t.Fatalf("conversation id: %s", conv.ID)
	}

	// fetch
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations/"+conv.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// list
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations?user=alice", nil)
	var listed struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	decode(t, resp, &listed)
	if len(listed.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(listed.Conversations))
	}

	// archive
	resp = doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/"+conv.ID+"/archive",
		map[string]any{"user": "alice", "archived": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// archive by a stranger is forbidden
	resp = doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations/"+conv.ID+"/archive",
		map[string]any{"user": "mallory", "archived": true})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger archive: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestConversationValidationStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	client := srv.Client()

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations",
		map[string]string{"user_a": "alice", "user_b": "alice"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self conversation: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/conversations/none_such", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing conversation: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMessageEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	client := srv.Client()

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations",
		map[string]string{"user_a": "alice", "user_b": "bob"})
	var conv models.Conversation
	decode(t, resp, &conv)
	base := srv.URL + "/v1/conversations/" + conv.ID

	// send
	resp = doJSON(t, client, http.MethodPost, base+"/messages",
		map[string]string{"sender": "alice", "content": "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d", resp.StatusCode)
	}
	var msg models.Message
	decode(t, resp, &msg)
	if msg.Status != models.StatusSent {
		t.Fatalf("sent message status: %s", msg.Status)
	}

	// oversize content is a 400
	big := make([]byte, 1100)
	for i := range big {
		big[i] = 'x'
	}
	resp = doJSON(t, client, http.MethodPost, base+"/messages",
		map[string]string{"sender": "alice", "content": string(big)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversize send: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// list with limit
	resp = doJSON(t, client, http.MethodGet, base+"/messages?limit=1", nil)
	var page struct {
		Messages []models.Message `json:"messages"`
	}
	decode(t, resp, &page)
	if len(page.Messages) != 1 || page.Messages[0].ID != msg.ID {
		t.Fatalf("limit=1 should return the newest message, got %+v", page.Messages)
	}

	// status: sent -> delivered
	resp = doJSON(t, client, http.MethodPatch, fmt.Sprintf("%s/messages/%s/status", base, msg.ID),
		map[string]string{"status": "delivered"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status patch: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// mark read
	resp = doJSON(t, client, http.MethodPost, base+"/read",
		map[string]any{"user": "bob", "message_ids": []string{msg.ID}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/messages/%s", base, msg.ID), nil)
	decode(t, resp, &msg)
	if msg.Status != models.StatusRead || msg.ReadTS == 0 {
		t.Fatalf("expected read with timestamp, got %+v", msg)
	}

	// delete by non-sender forbidden, by sender soft
	resp = doJSON(t, client, http.MethodDelete, fmt.Sprintf("%s/messages/%s?user=bob", base, msg.ID), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger delete: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = doJSON(t, client, http.MethodDelete, fmt.Sprintf("%s/messages/%s?user=alice", base, msg.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sender delete: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/messages/%s", base, msg.ID), nil)
	decode(t, resp, &msg)
	if msg.Content != models.DeletedPlaceholder {
		t.Fatalf("expected placeholder content, got %q", msg.Content)
	}
}

func TestTypingAndConnectionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	client := srv.Client()

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/conversations",
		map[string]string{"user_a": "alice", "user_b": "bob"})
	var conv models.Conversation
	decode(t, resp, &conv)

	resp = doJSON(t, client, http.MethodPut, srv.URL+"/v1/conversations/"+conv.ID+"/typing",
		map[string]any{"user": "alice", "typing": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("typing on: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPut, srv.URL+"/v1/conversations/"+conv.ID+"/typing",
		map[string]any{"user": "alice", "typing": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("typing off: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/connection", nil)
	var conn struct {
		Connected bool `json:"connected"`
	}
	decode(t, resp, &conn)
	if !conn.Connected {
		t.Fatalf("expected connected store")
	}
}

func TestAdminStatsRequiresBackendRole(t *testing.T) {
	srv, _ := newTestServer(t)
	// no auth middleware in this server, so no role in context
	resp := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/admin/stats", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without backend role, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/connection", nil)
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}
