package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ashureev/chatdesk/internal/domain"
)

// SendRequest is the body of POST /chat. An empty ChatID asks the gateway for a new chat.
type SendRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId,omitempty"`
}

// SendResponse carries the assistant reply and the chat it was stored in.
type SendResponse struct {
	Response string `json:"response"`
	ChatID   string `json:"chatId"`
}

type titleRequest struct {
	Title string `json:"title"`
}

func chatPath(id string) string {
	return "/chats/" + url.PathEscape(id)
}

// ListChats returns the chat list in gateway order.
func (c *Client) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	var out []domain.ChatSummary
	if err := c.do(ctx, http.MethodGet, "/chats", nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ChatSummary{}
	}
	return out, nil
}

// GetChat returns a chat with its messages, all marked confirmed.
func (c *Client) GetChat(ctx context.Context, id string) (*domain.ChatDetail, error) {
	var out domain.ChatDetail
	if err := c.do(ctx, http.MethodGet, chatPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Messages {
		out.Messages[i].Status = domain.StatusConfirmed
	}
	return &out, nil
}

// DeleteChat removes a chat.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, chatPath(id), nil, nil, nil)
}

// RenameChat persists a new title.
func (c *Client) RenameChat(ctx context.Context, id, title string) (*domain.TitleUpdate, error) {
	var out domain.TitleUpdate
	if err := c.do(ctx, http.MethodPut, chatPath(id)+"/title", nil, titleRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SuggestTitle asks the gateway to compute and persist a title.
func (c *Client) SuggestTitle(ctx context.Context, id string) (*domain.TitleUpdate, error) {
	var out domain.TitleUpdate
	if err := c.do(ctx, http.MethodPost, chatPath(id)+"/suggest-title", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a user message and returns the reply.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, http.MethodPost, "/chat", nil, req, &out); err != nil {
		return nil, err
	}
	if out.ChatID == "" {
		return nil, &Error{Kind: KindServer, Message: "chat response missing chatId"}
	}
	return &out, nil
}

// BotConfig returns the caller's personal assistant instructions.
func (c *Client) BotConfig(ctx context.Context) (*domain.BotConfig, error) {
	var out domain.BotConfig
	if err := c.do(ctx, http.MethodGet, "/user/bot-config", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBotConfig replaces the caller's personal assistant instructions.
func (c *Client) UpdateBotConfig(ctx context.Context, instructions string) (*domain.BotConfig, error) {
	var out domain.BotConfig
	if err := c.do(ctx, http.MethodPut, "/user/bot-config", nil, domain.BotConfig{Instructions: instructions}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
