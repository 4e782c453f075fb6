package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type profileRequest struct {
	Username string `json:"username"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

type userResponse struct {
	User *domain.User `json:"user"`
}

// usernameProblem returns a user-facing message if username is unusable.
func usernameProblem(username string) string {
	if !usernamePattern.MatchString(username) {
		return "Username must be 3-32 letters, digits, dots, dashes or underscores"
	}
	return ""
}

func passwordProblem(password string) string {
	if len(password) < minPasswordLength {
		return fmt.Sprintf("Password must be at least %d characters", minPasswordLength)
	}
	return ""
}

// issueToken stores a fresh bearer token for user.
func (h *Handler) issueToken(ctx context.Context, userID string) (string, error) {
	token, err := identity.NewToken()
	if err != nil {
		return "", err
	}
	if err := h.repo.CreateToken(ctx, token, userID); err != nil {
		return "", err
	}
	return token, nil
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if msg := usernameProblem(req.Username); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}
	if !strings.Contains(req.Email, "@") {
		Error(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if msg := passwordProblem(req.Password); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	rec := &store.UserRecord{
		User: domain.User{
			ID:       uuid.NewString(),
			Username: req.Username,
			Email:    req.Email,
			Role:     domain.RoleUser,
			IsActive: true,
		},
		PasswordHash: string(hash),
	}
	if err := h.repo.CreateUser(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			Error(w, http.StatusConflict, "Username or email already registered")
			return
		}
		slog.Error("Failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	token, err := h.issueToken(r.Context(), rec.ID)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "user_id", rec.ID)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("User registered", "user_id", rec.ID, "username", rec.Username)
	h.audit(r.Context(), "user.register", rec.ID, identity.IPFromRequest(r))
	JSON(w, http.StatusCreated, authResponse{User: &rec.User, Token: token})
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	rec, err := h.repo.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		slog.Error("Failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	if rec == nil || bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) != nil {
		Error(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if !rec.IsActive {
		Error(w, http.StatusForbidden, "This account has been deactivated")
		return
	}

	token, err := h.issueToken(r.Context(), rec.ID)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "user_id", rec.ID)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("User logged in", "user_id", rec.ID)
	h.audit(r.Context(), "user.login", rec.ID, identity.IPFromRequest(r))
	JSON(w, http.StatusOK, authResponse{User: &rec.User, Token: token})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, userResponse{User: identity.UserFromContext(r.Context())})
}

// UpdateProfile handles PUT /auth/profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if msg := usernameProblem(username); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	user := identity.UserFromContext(r.Context())
	if err := h.repo.UpdateUsername(r.Context(), user.ID, username); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			Error(w, http.StatusConflict, "Username already taken")
			return
		}
		slog.Error("Failed to update username", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	updated := *user
	updated.Username = username
	h.audit(r.Context(), "user.profile", user.ID, "username="+username)
	JSON(w, http.StatusOK, userResponse{User: &updated})
}

// ChangePassword handles POST /auth/change-password. A wrong current password
// is a validation error, not 401, so the caller's session stays valid.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := passwordProblem(req.NewPassword); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	user := identity.UserFromContext(r.Context())
	rec, err := h.repo.GetUser(r.Context(), user.ID)
	if err != nil || rec == nil {
		slog.Error("Failed to load user", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "failed to change password")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.CurrentPassword)) != nil {
		Error(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), h.bcryptCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to change password")
		return
	}
	if err := h.repo.UpdatePassword(r.Context(), user.ID, string(hash)); err != nil {
		slog.Error("Failed to update password", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	h.audit(r.Context(), "user.password", user.ID, "")
	JSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// SeedAdmin creates the configured admin account if it does not exist yet.
func SeedAdmin(ctx context.Context, repo store.Repository, seed config.AdminSeed, cost int) (bool, error) {
	if seed.Password == "" {
		return false, nil
	}
	existing, err := repo.GetUserByUsername(ctx, seed.Username)
	if err != nil {
		return false, fmt.Errorf("look up admin: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), cost)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	rec := &store.UserRecord{
		User: domain.User{
			ID:       uuid.NewString(),
			Username: seed.Username,
			Email:    seed.Email,
			Role:     domain.RoleAdmin,
			IsActive: true,
		},
		PasswordHash: string(hash),
	}
	if err := repo.CreateUser(ctx, rec); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
