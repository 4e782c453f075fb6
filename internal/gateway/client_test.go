package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, r http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:    srv.URL + "/api",
		HTTPClient: srv.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	c, err := New(Config{BaseURL: "http://example.com/api/"})
	require.NoError(t, err)
	require.Equal(t, "http://example.com/api/chats", c.endpoint("/chats", nil))
}

func TestCredentialsHeaders(t *testing.T) {
	var gotAuth, gotGuest string
	r := chi.NewRouter()
	r.Get("/api/chats", func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotGuest = req.Header.Get(GuestHeaderName)
		writeJSON(w, http.StatusOK, []domain.ChatSummary{})
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	c.SetGuestID("guest-1")
	_, err := c.ListChats(ctx)
	require.NoError(t, err)
	require.Empty(t, gotAuth)
	require.Equal(t, "guest-1", gotGuest)

	c.SetToken("tok")
	_, err = c.ListChats(ctx)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Empty(t, gotGuest)
}

func TestLoginDecodesEnvelope(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(req.Body).Decode(&creds))
		if creds.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, AuthResponse{
			User:  &domain.User{ID: "u1", Username: creds.Username, Role: domain.RoleUser, IsActive: true},
			Token: "tok-1",
		})
	})
	c := newTestClient(t, r)

	resp, err := c.Login(context.Background(), Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, "tok-1", resp.Token)
	require.Equal(t, "alice", resp.User.Username)

	_, err = c.Login(context.Background(), Credentials{Username: "alice", Password: "nope"})
	require.Equal(t, KindAuth, KindOf(err))
	require.True(t, IsUnauthorized(err))

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, "Invalid credentials", gwErr.Message)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		count  int
	}{
		{"guest limit", http.StatusForbidden, `{"error":"Message limit reached","limitReached":true,"messageCount":5}`, KindLimit, 5},
		{"forbidden", http.StatusForbidden, `{"error":"Admin access required"}`, KindForbidden, 0},
		{"unauthorized", http.StatusUnauthorized, `{"error":"Invalid token"}`, KindAuth, 0},
		{"validation", http.StatusBadRequest, `{"error":"Message is required"}`, KindValidation, 0},
		{"not found", http.StatusNotFound, `{"error":"Chat not found"}`, KindNotFound, 0},
		{"conflict", http.StatusConflict, `{"error":"Username taken"}`, KindConflict, 0},
		{"throttled is not the guest limit", http.StatusTooManyRequests, `{"error":"Too many requests"}`, KindServer, 0},
		{"server", http.StatusInternalServerError, `oops`, KindServer, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Post("/api/chat", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			c := newTestClient(t, r)

			_, err := c.SendMessage(context.Background(), SendRequest{Message: "hi"})
			require.Error(t, err)
			require.Equal(t, tt.kind, KindOf(err))

			count, ok := LimitCount(err)
			require.Equal(t, tt.kind == KindLimit, ok)
			require.Equal(t, tt.count, count)
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, RequestTimeout: time.Second})
	require.NoError(t, err)

	_, err = c.Me(context.Background())
	require.Equal(t, KindNetwork, KindOf(err))
	require.False(t, IsUnauthorized(err))
}

func TestGetChatMarksMessagesConfirmed(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/chats/{id}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    chi.URLParam(req, "id"),
			"title": "Hello",
			"messages": []map[string]string{
				{"role": "user", "content": "hi"},
				{"role": "assistant", "content": "hello"},
			},
		})
	})
	c := newTestClient(t, r)

	chat, err := c.GetChat(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, "c-1", chat.ID)
	require.Len(t, chat.Messages, 2)
	for _, m := range chat.Messages {
		require.Equal(t, domain.StatusConfirmed, m.Status)
	}
}

func TestSendMessageOmitsEmptyChatID(t *testing.T) {
	var raw map[string]any
	r := chi.NewRouter()
	r.Post("/api/chat", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&raw))
		writeJSON(w, http.StatusOK, SendResponse{Response: "hey", ChatID: "new-1"})
	})
	c := newTestClient(t, r)

	resp, err := c.SendMessage(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "new-1", resp.ChatID)
	require.Equal(t, "hey", resp.Response)
	_, present := raw["chatId"]
	require.False(t, present)
}

func TestSendMessageRequiresChatID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/chat", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"response": "hey"})
	})
	c := newTestClient(t, r)

	_, err := c.SendMessage(context.Background(), SendRequest{Message: "hi"})
	require.Equal(t, KindServer, KindOf(err))
}

func TestRenameChat(t *testing.T) {
	var gotTitle string
	r := chi.NewRouter()
	r.Put("/api/chats/{id}/title", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		gotTitle = body["title"]
		writeJSON(w, http.StatusOK, domain.TitleUpdate{ID: chi.URLParam(req, "id"), Title: gotTitle})
	})
	c := newTestClient(t, r)

	upd, err := c.RenameChat(context.Background(), "c 1", "Trip plans")
	require.NoError(t, err)
	require.Equal(t, "Trip plans", gotTitle)
	require.Equal(t, "Trip plans", upd.Title)
}

func TestAdminListChatsQuery(t *testing.T) {
	var gotQuery string
	r := chi.NewRouter()
	r.Get("/api/admin/chats", func(w http.ResponseWriter, req *http.Request) {
		gotQuery = req.URL.Query().Get("q")
		writeJSON(w, http.StatusOK, []domain.AdminChat{{ChatSummary: domain.ChatSummary{ID: "c1"}, MessageCount: 2}})
	})
	c := newTestClient(t, r)

	chats, err := c.AdminListChats(context.Background(), "trip")
	require.NoError(t, err)
	require.Equal(t, "trip", gotQuery)
	require.Len(t, chats, 1)
	require.Equal(t, 2, chats[0].MessageCount)
}

func TestWatchDeliversEvents(t *testing.T) {
	gotAuth := make(chan string, 1)
	r := chi.NewRouter()
	r.Get("/api/events", func(w http.ResponseWriter, req *http.Request) {
		gotAuth <- req.Header.Get("Authorization")
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		_ = wsjson.Write(req.Context(), conn, domain.Event{Type: domain.EventChatsChanged, ChatID: "c1"})
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	c.SetToken("tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := c.Watch(ctx)
	require.NoError(t, err)

	ev, ok := <-events
	require.True(t, ok)
	require.Equal(t, domain.EventChatsChanged, ev.Type)
	require.Equal(t, "c1", ev.ChatID)
	require.Equal(t, "Bearer tok", <-gotAuth)

	_, ok = <-events
	require.False(t, ok, "stream must close after the server closes")
}

func TestWatchRejectedHandshake(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/events", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, err)

	_, err = c.Watch(context.Background())
	require.True(t, IsUnauthorized(err))
}
