package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// AdminListUsers handles GET /admin/users.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	JSON(w, http.StatusOK, users)
}

// AdminUpdateUser handles PUT /admin/users/{id}. Admins cannot deactivate or
// demote themselves. Deactivation closes the user's event streams.
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch domain.UserPatch
	if !decode(w, r, &patch) {
		return
	}
	if patch.IsActive == nil && patch.Role == nil {
		Error(w, http.StatusBadRequest, "Nothing to update")
		return
	}
	if patch.Role != nil && *patch.Role != domain.RoleUser && *patch.Role != domain.RoleAdmin {
		Error(w, http.StatusBadRequest, "Role must be user or admin")
		return
	}

	adminID := identity.UserIDFromContext(r.Context())
	targetID := chi.URLParam(r, "id")
	if targetID == adminID && ((patch.IsActive != nil && !*patch.IsActive) || (patch.Role != nil && *patch.Role != domain.RoleAdmin)) {
		Error(w, http.StatusBadRequest, "You cannot deactivate or demote your own account")
		return
	}

	user, err := h.repo.UpdateUser(r.Context(), targetID, patch)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("Failed to update user", "error", err, "user_id", targetID)
		Error(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	if !user.IsActive {
		h.hub.CloseKey(store.Owner{UserID: user.ID}.Key())
	}

	var changes []string
	if patch.IsActive != nil {
		changes = append(changes, fmt.Sprintf("isActive=%t", *patch.IsActive))
	}
	if patch.Role != nil {
		changes = append(changes, "role="+*patch.Role)
	}
	slog.Info("User updated by admin", "admin_id", adminID, "user_id", user.ID, "changes", changes)
	h.audit(r.Context(), "admin.user.update", adminID, user.ID+" "+strings.Join(changes, ","))
	JSON(w, http.StatusOK, user)
}

// AdminListChats handles GET /admin/chats?q=.
func (h *Handler) AdminListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.repo.SearchChats(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")))
	if err != nil {
		slog.Error("Failed to search chats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	JSON(w, http.StatusOK, chats)
}

func (h *Handler) anyChat(w http.ResponseWriter, r *http.Request) (*store.ChatRecord, bool) {
	chatID := chi.URLParam(r, "id")
	rec, err := h.repo.GetChat(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load chat", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "failed to load chat")
		return nil, false
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "Chat not found")
		return nil, false
	}
	return rec, true
}

// AdminGetChat handles GET /admin/chats/{id}.
func (h *Handler) AdminGetChat(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.anyChat(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, rec.ChatDetail)
}

// AdminDeleteChat handles DELETE /admin/chats/{id} and notifies the chat owner.
func (h *Handler) AdminDeleteChat(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.anyChat(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteChat(r.Context(), rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to delete chat", "error", err, "chat_id", rec.ID)
		Error(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	h.hub.Publish(rec.Owner.Key(), domain.Event{Type: domain.EventChatsChanged, ChatID: rec.ID})
	h.audit(r.Context(), "admin.chat.delete", identity.UserIDFromContext(r.Context()), rec.ID)
	w.WriteHeader(http.StatusNoContent)
}

// AdminBotConfig handles GET /admin/bot-config.
func (h *Handler) AdminBotConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.repo.GetBotConfig(r.Context(), "")
	if err != nil {
		slog.Error("Failed to load global bot config", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load bot config")
		return
	}
	if cfg == nil {
		cfg = &domain.BotConfig{}
	}
	JSON(w, http.StatusOK, cfg)
}

// AdminUpdateBotConfig handles PUT /admin/bot-config.
func (h *Handler) AdminUpdateBotConfig(w http.ResponseWriter, r *http.Request) {
	var req botConfigRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.repo.SetBotConfig(r.Context(), "", strings.TrimSpace(req.Instructions))
	if err != nil {
		slog.Error("Failed to save global bot config", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save bot config")
		return
	}
	h.audit(r.Context(), "admin.bot_config", identity.UserIDFromContext(r.Context()), "")
	JSON(w, http.StatusOK, cfg)
}

// AdminAnalytics handles GET /admin/analytics.
func (h *Handler) AdminAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.Analytics(r.Context())
	if err != nil {
		slog.Error("Failed to compute analytics", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	JSON(w, http.StatusOK, a)
}

// AdminLogs handles GET /admin/logs?limit=.
func (h *Handler) AdminLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := h.repo.ListAuditLogs(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list audit logs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load logs")
		return
	}
	JSON(w, http.StatusOK, logs)
}
