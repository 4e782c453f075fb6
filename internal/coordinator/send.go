package coordinator

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
	"github.com/ashureev/chatdesk/internal/guest"
	"github.com/google/uuid"
)

// SendMessage sends text into the active chat, or starts a new chat when none
// is active. The user message is shown immediately as pending. Blank text is
// declined with ErrEmptyMessage before anything changes.
func (c *Coordinator) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	limiter := c.limiter
	authenticated := c.state.Session.Authenticated
	if !authenticated && limiter.LimitReached() {
		c.state.LimitReached = true
		c.state.GuestCount = limiter.Count()
		c.publishLocked()
		c.mu.Unlock()
		return guest.ErrLimitReached
	}

	epoch := c.epoch
	// Composing into the displayed chat supersedes any selection still loading.
	c.selectGen++
	c.selectTarget = ""
	c.state.IsLoadingMessages = false
	if c.state.Active == nil {
		c.setActiveLocked(&domain.ChatDetail{})
	}
	activeGen := c.activeGen
	startID := c.state.Active.ID

	userMsg := domain.Message{
		LocalID: uuid.NewString(),
		Role:    domain.RoleUserMessage,
		Content: text,
		Status:  domain.StatusPending,
	}
	c.state.Active.Messages = append(c.state.Active.Messages, userMsg)
	c.state.IsSending = true
	c.state.Err = ""
	c.publishLocked()
	c.mu.Unlock()

	if !authenticated {
		count, err := limiter.Increment(ctx)
		switch {
		case errors.Is(err, guest.ErrLimitReached):
			c.updateIf(epoch, func(s *State) {
				s.IsSending = false
				s.LimitReached = true
				s.GuestCount = count
				c.setMessageStatusLocked(activeGen, userMsg.LocalID, domain.StatusFailed)
			})
			return err
		case err != nil:
			c.logger.Warn("Failed to count guest message", "error", err)
		default:
			c.updateIf(epoch, func(s *State) { s.GuestCount = count })
		}
	}

	resp, err := c.gw.SendMessage(ctx, gateway.SendRequest{Message: text, ChatID: startID})
	if err != nil {
		return c.sendFailed(ctx, epoch, activeGen, userMsg.LocalID, authenticated, err)
	}

	var reselect bool
	c.updateIf(epoch, func(s *State) {
		s.IsSending = false
		if activeGen != c.activeGen || s.Active == nil {
			return
		}
		c.setMessageStatusLocked(activeGen, userMsg.LocalID, domain.StatusConfirmed)
		s.Active.Messages = append(s.Active.Messages, domain.Message{
			LocalID: uuid.NewString(),
			Role:    domain.RoleAssistantMessage,
			Content: resp.Response,
			Status:  domain.StatusConfirmed,
		})
		if resp.ChatID != startID {
			s.Active.ID = resp.ChatID
			reselect = true
		}
	})

	if err := c.LoadChats(ctx); err != nil {
		c.logger.Debug("Chat list refresh after send failed", "error", err)
	}

	if reselect {
		c.logger.Debug("Send resolved to a new chat", "chat_id", resp.ChatID, "previous_chat_id", startID)
		c.mu.Lock()
		if epoch != c.epoch || activeGen != c.activeGen {
			c.mu.Unlock()
			return nil
		}
		c.selectGen++
		gen := c.selectGen
		c.selectTarget = resp.ChatID
		c.mu.Unlock()
		if err := c.loadActive(ctx, resp.ChatID, gen, epoch, activeGen); err != nil {
			c.logger.Debug("Reloading new chat failed", "chat_id", resp.ChatID, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) sendFailed(ctx context.Context, epoch, activeGen uint64, localID string, authenticated bool, err error) error {
	if count, ok := gateway.LimitCount(err); ok && !authenticated {
		c.mu.Lock()
		limiter := c.limiter
		c.mu.Unlock()
		if obsErr := limiter.Observe(ctx, count); obsErr != nil {
			c.logger.Warn("Failed to record guest limit", "error", obsErr)
		}
		c.logger.Info("Guest message limit reached", "message_count", count)
		c.updateIf(epoch, func(s *State) {
			s.IsSending = false
			s.LimitReached = true
			s.GuestCount = limiter.Count()
			c.setMessageStatusLocked(activeGen, localID, domain.StatusFailed)
		})
		return err
	}

	if gateway.IsUnauthorized(err) && c.expire(epoch) {
		return err
	}

	c.logger.Warn("Send failed", "kind", gateway.KindOf(err), "error", err)
	c.updateIf(epoch, func(s *State) {
		s.IsSending = false
		s.Err = errorText(err)
		if activeGen != c.activeGen || s.Active == nil {
			return
		}
		c.setMessageStatusLocked(activeGen, localID, domain.StatusFailed)
		s.Active.Messages = append(s.Active.Messages, domain.Message{
			LocalID: uuid.NewString(),
			Role:    domain.RoleAssistantMessage,
			Content: msgReplyFailed,
			Status:  domain.StatusFailed,
		})
	})
	return err
}

// setMessageStatusLocked retags one message of the active chat.
func (c *Coordinator) setMessageStatusLocked(activeGen uint64, localID string, status domain.MessageStatus) {
	if activeGen != c.activeGen || c.state.Active == nil {
		return
	}
	msgs := c.state.Active.Messages
	for i := range msgs {
		if msgs[i].LocalID == localID {
			msgs[i] = msgs[i].WithStatus(status)
			return
		}
	}
}
