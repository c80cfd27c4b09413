package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowagencyai/wabot/internal/conversation"
	"github.com/flowagencyai/wabot/internal/pause"
	"github.com/flowagencyai/wabot/internal/store/memory"
)

const testToken = "test-admin-token"

func newTestServer(t *testing.T) (*Server, *conversation.Manager, *pause.Gate) {
	t.Helper()
	kv := memory.New()
	contexts := conversation.NewManager(kv)
	gate := pause.NewGate(kv)
	s := NewServer(Config{Addr: "127.0.0.1:0", AdminToken: testToken}, contexts, gate, kv)
	return s, contexts, gate
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/v1/health", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestAuthDisabledWhenNoToken(t *testing.T) {
	kv := memory.New()
	s := NewServer(Config{}, conversation.NewManager(kv), pause.NewGate(kv), kv)

	req := httptest.NewRequest("GET", "/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestGetContext(t *testing.T) {
	s, contexts, _ := newTestServer(t)
	ctx := context.Background()

	rec := doRequest(t, s, "GET", "/v1/contexts/user1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", rec.Code)
	}

	contexts.AppendMessage(ctx, "user1", conversation.Message{ID: "m1", Body: "hello"})

	rec = doRequest(t, s, "GET", "/v1/contexts/user1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var resp contextResponse
	decodeBody(t, rec, &resp)
	if resp.Context == nil || len(resp.Context.Messages) != 1 {
		t.Errorf("context = %+v", resp.Context)
	}
	if resp.Paused {
		t.Error("unpaused user reported paused")
	}
}

func TestListContexts(t *testing.T) {
	s, contexts, _ := newTestServer(t)
	ctx := context.Background()

	contexts.AppendMessage(ctx, "alice", conversation.Message{ID: "m1", Body: "a"})
	contexts.AppendMessage(ctx, "bob", conversation.Message{ID: "m2", Body: "b"})

	rec := doRequest(t, s, "GET", "/v1/contexts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		UserIDs []string `json:"userIds"`
		Count   int      `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 || len(resp.UserIDs) != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestClearContext(t *testing.T) {
	s, contexts, _ := newTestServer(t)
	ctx := context.Background()

	contexts.AppendMessage(ctx, "user1", conversation.Message{ID: "m1", Body: "hello"})

	rec := doRequest(t, s, "DELETE", "/v1/contexts/user1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cc, _ := contexts.GetContext(ctx, "user1"); cc != nil {
		t.Errorf("context survived delete: %+v", cc)
	}
	rec = doRequest(t, s, "GET", "/v1/contexts/user1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d, want 404", rec.Code)
	}
}

func TestPauseAndResume(t *testing.T) {
	s, contexts, gate := newTestServer(t)
	ctx := context.Background()

	contexts.AppendMessage(ctx, "user1", conversation.Message{ID: "m1", Body: "hello"})

	body := fmt.Sprintf(`{"userId":"user1","durationMs":%d}`, time.Hour.Milliseconds())
	rec := doRequest(t, s, "POST", "/v1/pause", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: status = %d (body %q)", rec.Code, rec.Body.String())
	}
	if paused, _ := gate.IsPaused(ctx, "user1"); !paused {
		t.Error("user not paused after POST /v1/pause")
	}
	// The denormalized flag follows.
	if cc, _ := contexts.GetContext(ctx, "user1"); cc == nil || !cc.IsPaused {
		t.Error("isPaused flag not set on stored context")
	}

	rec = doRequest(t, s, "GET", "/v1/paused/user1", "")
	var status struct {
		Paused      bool       `json:"paused"`
		PausedUntil *time.Time `json:"pausedUntil"`
	}
	decodeBody(t, rec, &status)
	if !status.Paused || status.PausedUntil == nil {
		t.Errorf("paused status = %+v", status)
	}

	rec = doRequest(t, s, "POST", "/v1/resume", `{"userId":"user1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: status = %d", rec.Code)
	}
	if paused, _ := gate.IsPaused(ctx, "user1"); paused {
		t.Error("user still paused after POST /v1/resume")
	}
	if cc, _ := contexts.GetContext(ctx, "user1"); cc == nil || cc.IsPaused {
		t.Error("isPaused flag not cleared")
	}
}

func TestPauseMany(t *testing.T) {
	s, _, gate := newTestServer(t)
	ctx := context.Background()

	body := fmt.Sprintf(`{"userIds":["alice","bob"],"durationMs":%d}`, time.Minute.Milliseconds())
	rec := doRequest(t, s, "POST", "/v1/pause", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	for _, id := range []string{"alice", "bob"} {
		if paused, _ := gate.IsPaused(ctx, id); !paused {
			t.Errorf("%s not paused", id)
		}
	}
}

func TestPauseValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"no_user", `{"durationMs":1000}`},
		{"bad_json", `{`},
		{"zero_duration", `{"userId":"user1","durationMs":0}`},
		{"negative_duration", `{"userId":"user1","durationMs":-5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, "POST", "/v1/pause", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestResumeValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, "POST", "/v1/resume", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPausedUnknownUser(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/v1/paused/user1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status struct {
		Paused bool `json:"paused"`
	}
	decodeBody(t, rec, &status)
	if status.Paused {
		t.Error("unknown user reported paused")
	}
}
