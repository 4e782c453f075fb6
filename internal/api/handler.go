// Package api provides HTTP handlers for the chat gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/chatdesk/internal/assistant"
	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

// Handler serves the gateway API.
type Handler struct {
	repo       store.Repository
	responder  assistant.Responder
	hub        *Hub
	limiter    *RateLimiter
	guestLimit int
	bcryptCost int
	isDev      bool
}

// NewHandler creates a new Handler. Call Close to stop background work.
func NewHandler(repo store.Repository, responder assistant.Responder, cfg *config.Gateway) *Handler {
	if responder == nil {
		responder = assistant.Echo{}
	}
	return &Handler{
		repo:       repo,
		responder:  responder,
		hub:        NewHub(),
		limiter:    NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		guestLimit: cfg.GuestMessageLimit,
		bcryptCost: cfg.BcryptCost,
		isDev:      cfg.IsDevelopment(),
	}
}

// Close stops the rate limiter and disconnects event subscribers.
func (h *Handler) Close() {
	h.limiter.Stop()
	h.hub.CloseAll()
}

// Routes returns the API router. Mount it under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(identity.Middleware(h.repo, h.isDev))

	r.Group(func(r chi.Router) {
		r.Use(h.limiter.Middleware)

		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		// Chat routes serve users and guests; ownership is checked per chat.
		r.Post("/chat", h.SendMessage)
		r.Get("/chats", h.ListChats)
		r.Get("/chats/{id}", h.GetChat)
		r.Delete("/chats/{id}", h.DeleteChat)
		r.Put("/chats/{id}/title", h.RenameChat)
		r.Post("/chats/{id}/suggest-title", h.SuggestTitle)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireUser)
			r.Get("/auth/me", h.Me)
			r.Put("/auth/profile", h.UpdateProfile)
			r.Post("/auth/change-password", h.ChangePassword)
			r.Get("/user/bot-config", h.UserBotConfig)
			r.Put("/user/bot-config", h.UpdateUserBotConfig)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(identity.RequireAdmin)
			r.Get("/users", h.AdminListUsers)
			r.Put("/users/{id}", h.AdminUpdateUser)
			r.Get("/chats", h.AdminListChats)
			r.Get("/chats/{id}", h.AdminGetChat)
			r.Delete("/chats/{id}", h.AdminDeleteChat)
			r.Get("/bot-config", h.AdminBotConfig)
			r.Put("/bot-config", h.AdminUpdateBotConfig)
			r.Get("/analytics", h.AdminAnalytics)
			r.Get("/logs", h.AdminLogs)
		})
	})

	r.With(identity.RequireUser).Get("/events", h.Events)
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a bounded JSON body into v. It writes the error response itself.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			Error(w, http.StatusBadRequest, "request body is required")
		default:
			Error(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}

// owner returns the chat owner for the caller.
func owner(ctx context.Context) store.Owner {
	if id := identity.UserIDFromContext(ctx); id != "" {
		return store.Owner{UserID: id}
	}
	return store.Owner{GuestID: identity.GuestIDFromContext(ctx)}
}

// audit records an action. Failures are logged, never surfaced.
func (h *Handler) audit(ctx context.Context, action, userID, detail string) {
	if err := h.repo.AddAuditLog(ctx, action, userID, detail); err != nil {
		slog.Warn("Failed to write audit log", "action", action, "user_id", userID, "error", err)
	}
}
