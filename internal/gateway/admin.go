package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ashureev/chatdesk/internal/domain"
)

// AdminListUsers lists every account.
func (c *Client) AdminListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminUpdateUser toggles a user's active flag or role.
func (c *Client) AdminUpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminListChats lists chats across all owners, optionally filtered by a title query.
func (c *Client) AdminListChats(ctx context.Context, query string) ([]domain.AdminChat, error) {
	var q url.Values
	if query != "" {
		q = url.Values{"q": []string{query}}
	}
	var out []domain.AdminChat
	if err := c.do(ctx, http.MethodGet, "/admin/chats", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminGetChat returns any chat with its messages.
func (c *Client) AdminGetChat(ctx context.Context, id string) (*domain.ChatDetail, error) {
	var out domain.ChatDetail
	if err := c.do(ctx, http.MethodGet, "/admin/chats/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Messages {
		out.Messages[i].Status = domain.StatusConfirmed
	}
	return &out, nil
}

// AdminDeleteChat removes any chat.
func (c *Client) AdminDeleteChat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/chats/"+url.PathEscape(id), nil, nil, nil)
}

// AdminBotConfig returns the global assistant instructions.
func (c *Client) AdminBotConfig(ctx context.Context) (*domain.BotConfig, error) {
	var out domain.BotConfig
	if err := c.do(ctx, http.MethodGet, "/admin/bot-config", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminUpdateBotConfig replaces the global assistant instructions.
func (c *Client) AdminUpdateBotConfig(ctx context.Context, instructions string) (*domain.BotConfig, error) {
	var out domain.BotConfig
	if err := c.do(ctx, http.MethodPut, "/admin/bot-config", nil, domain.BotConfig{Instructions: instructions}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminAnalytics returns usage counters.
func (c *Client) AdminAnalytics(ctx context.Context) (*domain.Analytics, error) {
	var out domain.Analytics
	if err := c.do(ctx, http.MethodGet, "/admin/analytics", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminLogs returns the most recent audit entries, newest first.
func (c *Client) AdminLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}
	var out []domain.AuditLog
	if err := c.do(ctx, http.MethodGet, "/admin/logs", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
