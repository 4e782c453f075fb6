package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	eventBufferSize   = 8
	eventWriteTimeout = 5 * time.Second
)

// Hub fans chat events out to every open /events connection of a user.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int64]chan domain.Event
	next int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]chan domain.Event)}
}

// Subscribe registers a subscriber for key.
func (h *Hub) Subscribe(key string) (int64, <-chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	ch := make(chan domain.Event, eventBufferSize)
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[int64]chan domain.Event)
	}
	h.subs[key][id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber. It is a no-op if CloseKey already removed it.
func (h *Hub) Unsubscribe(key string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[key]; ok {
		if ch, exists := subs[id]; exists {
			close(ch)
			delete(subs, id)
		}
		if len(subs) == 0 {
			delete(h.subs, key)
		}
	}
}

// Publish delivers ev to every subscriber of key. Slow subscribers drop events.
func (h *Hub) Publish(key string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs[key] {
		select {
		case ch <- ev:
		default:
			slog.Debug("Dropping event for slow subscriber", "key", key, "subscriber", id, "type", ev.Type)
		}
	}
}

func (h *Hub) count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// CloseKey disconnects every subscriber of key.
func (h *Hub) CloseKey(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[key] {
		close(ch)
		delete(h.subs[key], id)
	}
	delete(h.subs, key)
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	keys := make([]string, 0, len(h.subs))
	for key := range h.subs {
		keys = append(keys, key)
	}
	h.mu.Unlock()

	for _, key := range keys {
		h.CloseKey(key)
	}
}

// Events handles GET /events: a websocket that streams chats.changed
// notifications for the caller's chats.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	key := owner(r.Context()).Key()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	id, events := h.hub.Subscribe(key)
	defer h.hub.Unsubscribe(key, id)
	slog.Info("Event stream opened", "user_id", userID, "subscriber", id, "open_streams", h.hub.count(key))

	// Clients never send; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event stream closed", "user_id", userID, "subscriber", id)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(ctx, conn, ev); err != nil {
				slog.Debug("Event write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *Handler) writeEvent(ctx context.Context, conn *websocket.Conn, ev domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// chatsChanged notifies the owner's open event streams.
func (h *Handler) chatsChanged(ctx context.Context, chatID string) {
	h.hub.Publish(owner(ctx).Key(), domain.Event{Type: domain.EventChatsChanged, ChatID: chatID})
}
