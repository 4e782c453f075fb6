// Package assistant produces assistant replies and chat titles for the gateway.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/chatdesk/internal/domain"
)

// DefaultTitle is given to chats before a title is suggested or set.
const DefaultTitle = "New chat"

const (
	maxTitleWords = 6
	maxTitleRunes = 48
)

// Responder generates assistant output for a chat.
type Responder interface {
	// Reply returns the assistant message for the last user message in history.
	Reply(ctx context.Context, instructions string, history []domain.Message) (string, error)

	// SuggestTitle returns a short title summarizing history.
	SuggestTitle(ctx context.Context, history []domain.Message) (string, error)
}

// Echo is a deterministic Responder. It acknowledges the latest user message
// and, when instructions are configured, states which ones it followed.
type Echo struct{}

var _ Responder = Echo{}

// Reply implements Responder.
func (Echo) Reply(ctx context.Context, instructions string, history []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	last := lastUserMessage(history)
	if last == "" {
		return "", fmt.Errorf("no user message to reply to")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You said: %s", last)
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		fmt.Fprintf(&b, "\n\n(Following instructions: %s)", instructions)
	}
	return b.String(), nil
}

// SuggestTitle implements Responder using the first user message.
func (Echo) SuggestTitle(ctx context.Context, history []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, m := range history {
		if m.Role == domain.RoleUserMessage {
			if t := TitleFrom(m.Content); t != "" {
				return t, nil
			}
		}
	}
	return DefaultTitle, nil
}

// TitleFrom derives a title from free text: the first few words, without
// trailing punctuation, capitalized and bounded in length.
func TitleFrom(text string) string {
	words := strings.Fields(text)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := strings.TrimRightFunc(strings.Join(words, " "), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	if utf8.RuneCountInString(title) > maxTitleRunes {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
	}
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

func lastUserMessage(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUserMessage {
			return strings.TrimSpace(history[i].Content)
		}
	}
	return ""
}
