// Package identity resolves who is calling the gateway: an authenticated user
// behind a bearer token, or a guest identified per device.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/store"
)

const (
	GuestCookieName   = "chatdesk_guest_id"
	GuestHeaderName   = "X-Guest-ID"
	guestCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userKey contextKey = iota
	tokenKey
	guestIDKey
)

var (
	anonIDPattern  = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	guestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// TokenResolver looks up the user behind a bearer token.
type TokenResolver interface {
	UserByToken(ctx context.Context, token string) (*store.UserRecord, error)
}

// UserFromContext returns the authenticated user, or nil for guests.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

// TokenFromContext returns the bearer token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// GuestIDFromContext extracts the guest identity from the request context.
func GuestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(guestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying an authenticated user.
func WithUser(ctx context.Context, user *domain.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, tokenKey, token)
}

// WithGuest returns a context carrying a guest identity.
func WithGuest(ctx context.Context, guestID string) context.Context {
	return context.WithValue(ctx, guestIDKey, guestID)
}

// NewToken returns an opaque random bearer token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func setGuestCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(guestCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(guestCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// guestID prefers the client-supplied header and falls back to a cookie,
// minting one for browsers that send neither.
func guestID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(GuestHeaderName)); id != "" && guestIDPattern.MatchString(id) {
		return id, nil
	}

	if c, err := r.Cookie(GuestCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setGuestCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setGuestCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the caller identity. A bearer token that does not resolve
// to an active user is rejected with 401; requests without one are guests.
func Middleware(resolver TokenResolver, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				rec, err := resolver.UserByToken(r.Context(), token)
				if err != nil {
					slog.Error("Failed to resolve token", "error", err)
					http.Error(w, `{"error":"failed to resolve identity"}`, http.StatusInternalServerError)
					return
				}
				if rec == nil || !rec.IsActive {
					http.Error(w, `{"error":"Invalid or expired token"}`, http.StatusUnauthorized)
					return
				}
				user := rec.User
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &user, token)))
				return
			}

			id, err := guestID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish guest identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithGuest(r.Context(), id)))
		})
	}
}

// RequireUser rejects guests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			http.Error(w, `{"error":"Authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects guests with 401 and non-admin users with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			http.Error(w, `{"error":"Authentication required"}`, http.StatusUnauthorized)
			return
		}
		if !user.IsAdmin() {
			http.Error(w, `{"error":"Admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for audit entries.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
