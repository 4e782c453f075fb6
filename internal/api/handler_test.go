//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "Chat not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "Chat not found" {
		t.Errorf("Expected error message, got %v", got)
	}
}

func TestDecodeRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty", "", http.StatusBadRequest},
		{"malformed", "{", http.StatusBadRequest},
		{"too large", `{"message":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			var v sendRequest
			if decode(w, r, &v) {
				t.Fatal("expected decode to fail")
			}
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests must pass")
	}
	if rl.Allow("a") {
		t.Error("third request within the window must be throttled")
	}
	if !rl.Allow("b") {
		t.Error("keys must be throttled independently")
	}
}

func TestHubPublishAndClose(t *testing.T) {
	hub := NewHub()
	id, ch := hub.Subscribe("user:u1")
	_, other := hub.Subscribe("user:u2")

	hub.Publish("user:u1", domain.Event{Type: domain.EventChatsChanged, ChatID: "c1"})
	select {
	case ev := <-ch:
		if ev.ChatID != "c1" {
			t.Errorf("Expected chat c1, got %q", ev.ChatID)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}
	select {
	case ev := <-other:
		t.Fatalf("unrelated subscriber received %+v", ev)
	default:
	}

	for i := 0; i < eventBufferSize+3; i++ {
		hub.Publish("user:u1", domain.Event{Type: domain.EventChatsChanged})
	}

	hub.CloseKey("user:u1")
	hub.Unsubscribe("user:u1", id)
	drained := 0
	for range ch {
		drained++
	}
	if drained != eventBufferSize {
		t.Errorf("Expected %d buffered events, got %d", eventBufferSize, drained)
	}
	if n := hub.count("user:u1"); n != 0 {
		t.Errorf("Expected no subscribers, got %d", n)
	}
}
