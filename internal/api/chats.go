package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/chatdesk/internal/assistant"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxTitleLength = 100

type sendRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
}

type sendResponse struct {
	Response string `json:"response"`
	ChatID   string `json:"chatId"`
}

type limitResponse struct {
	Error        string `json:"error"`
	LimitReached bool   `json:"limitReached"`
	MessageCount int    `json:"messageCount"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type botConfigRequest struct {
	Instructions string `json:"instructions"`
}

// ownedChat loads the chat in the {id} URL param if the caller owns it.
// Chats of other owners are reported as missing.
func (h *Handler) ownedChat(w http.ResponseWriter, r *http.Request) (*store.ChatRecord, bool) {
	chatID := chi.URLParam(r, "id")
	rec, err := h.repo.GetChat(r.Context(), chatID)
	if err != nil {
		slog.Error("Failed to load chat", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "failed to load chat")
		return nil, false
	}
	if rec == nil || rec.Owner != owner(r.Context()) {
		Error(w, http.StatusNotFound, "Chat not found")
		return nil, false
	}
	return rec, true
}

// instructions returns the caller's bot instructions, falling back to the global ones.
func (h *Handler) instructions(r *http.Request) string {
	ctx := r.Context()
	if userID := identity.UserIDFromContext(ctx); userID != "" {
		cfg, err := h.repo.GetBotConfig(ctx, userID)
		if err != nil {
			slog.Warn("Failed to load user bot config", "error", err, "user_id", userID)
		} else if cfg != nil && strings.TrimSpace(cfg.Instructions) != "" {
			return cfg.Instructions
		}
	}
	cfg, err := h.repo.GetBotConfig(ctx, "")
	if err != nil {
		slog.Warn("Failed to load global bot config", "error", err)
		return ""
	}
	if cfg == nil {
		return ""
	}
	return cfg.Instructions
}

// SendMessage handles POST /chat. Without a chatId a new chat is created.
// Guests are capped at the configured message limit.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		Error(w, http.StatusBadRequest, "Message is required")
		return
	}

	ctx := r.Context()
	own := owner(ctx)

	if own.IsGuest() {
		count, err := h.repo.GuestMessageCount(ctx, own.GuestID)
		if err != nil {
			slog.Error("Failed to read guest usage", "error", err, "guest_id", own.GuestID)
			Error(w, http.StatusInternalServerError, "failed to send message")
			return
		}
		if count >= h.guestLimit {
			slog.Info("Guest message limit reached", "guest_id", own.GuestID, "message_count", count)
			JSON(w, http.StatusForbidden, limitResponse{
				Error:        "Guest message limit reached. Please log in to continue.",
				LimitReached: true,
				MessageCount: count,
			})
			return
		}
	}

	var chat *domain.ChatDetail
	if req.ChatID != "" {
		rec, err := h.repo.GetChat(ctx, req.ChatID)
		if err != nil {
			slog.Error("Failed to load chat", "error", err, "chat_id", req.ChatID)
			Error(w, http.StatusInternalServerError, "failed to send message")
			return
		}
		if rec == nil || rec.Owner != own {
			Error(w, http.StatusNotFound, "Chat not found")
			return
		}
		chat = &rec.ChatDetail
	} else {
		chat = &domain.ChatDetail{ID: uuid.NewString(), Title: assistant.DefaultTitle}
		if err := h.repo.CreateChat(ctx, chat, own); err != nil {
			slog.Error("Failed to create chat", "error", err)
			Error(w, http.StatusInternalServerError, "failed to send message")
			return
		}
		slog.Info("Chat created", "chat_id", chat.ID, "owner", own.Key())
	}

	userMsg := domain.Message{Role: domain.RoleUserMessage, Content: text}
	history := append(chat.Messages, userMsg)

	reply, err := h.responder.Reply(ctx, h.instructions(r), history)
	if err != nil {
		slog.Error("Failed to generate reply", "error", err, "chat_id", chat.ID)
		Error(w, http.StatusInternalServerError, "failed to generate response")
		return
	}

	if err := h.repo.AppendMessages(ctx, chat.ID, userMsg, domain.Message{Role: domain.RoleAssistantMessage, Content: reply}); err != nil {
		slog.Error("Failed to store messages", "error", err, "chat_id", chat.ID)
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if own.IsGuest() {
		if _, err := h.repo.IncrementGuestMessages(ctx, own.GuestID); err != nil {
			slog.Warn("Failed to count guest message", "error", err, "guest_id", own.GuestID)
		}
	}

	h.chatsChanged(ctx, chat.ID)
	JSON(w, http.StatusOK, sendResponse{Response: reply, ChatID: chat.ID})
}

// ListChats handles GET /chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.repo.ListChats(r.Context(), owner(r.Context()))
	if err != nil {
		slog.Error("Failed to list chats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	JSON(w, http.StatusOK, chats)
}

// GetChat handles GET /chats/{id}.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownedChat(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, rec.ChatDetail)
}

// DeleteChat handles DELETE /chats/{id}.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownedChat(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteChat(r.Context(), rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to delete chat", "error", err, "chat_id", rec.ID)
		Error(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	h.chatsChanged(r.Context(), rec.ID)
	w.WriteHeader(http.StatusNoContent)
}

// RenameChat handles PUT /chats/{id}/title.
func (h *Handler) RenameChat(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decode(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		Error(w, http.StatusBadRequest, "Title is required")
		return
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		Error(w, http.StatusBadRequest, "Title is too long")
		return
	}

	rec, ok := h.ownedChat(w, r)
	if !ok {
		return
	}
	h.retitle(w, r, rec.ID, title)
}

// SuggestTitle handles POST /chats/{id}/suggest-title.
func (h *Handler) SuggestTitle(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.ownedChat(w, r)
	if !ok {
		return
	}
	title, err := h.responder.SuggestTitle(r.Context(), rec.Messages)
	if err != nil {
		slog.Error("Failed to suggest title", "error", err, "chat_id", rec.ID)
		Error(w, http.StatusInternalServerError, "failed to suggest title")
		return
	}
	h.retitle(w, r, rec.ID, title)
}

func (h *Handler) retitle(w http.ResponseWriter, r *http.Request, chatID, title string) {
	upd, err := h.repo.RenameChat(r.Context(), chatID, title)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		slog.Error("Failed to rename chat", "error", err, "chat_id", chatID)
		Error(w, http.StatusInternalServerError, "failed to rename chat")
		return
	}
	h.chatsChanged(r.Context(), chatID)
	JSON(w, http.StatusOK, upd)
}

// UserBotConfig handles GET /user/bot-config.
func (h *Handler) UserBotConfig(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	cfg, err := h.repo.GetBotConfig(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load bot config", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load bot config")
		return
	}
	if cfg == nil {
		cfg = &domain.BotConfig{}
	}
	JSON(w, http.StatusOK, cfg)
}

// UpdateUserBotConfig handles PUT /user/bot-config.
func (h *Handler) UpdateUserBotConfig(w http.ResponseWriter, r *http.Request) {
	var req botConfigRequest
	if !decode(w, r, &req) {
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	cfg, err := h.repo.SetBotConfig(r.Context(), userID, strings.TrimSpace(req.Instructions))
	if err != nil {
		slog.Error("Failed to save bot config", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save bot config")
		return
	}
	h.audit(r.Context(), "user.bot_config", userID, "")
	JSON(w, http.StatusOK, cfg)
}
