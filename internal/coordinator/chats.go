package coordinator

import (
	"context"
	"strings"

	"github.com/ashureev/chatdesk/internal/domain"
)

// LoadChats replaces the chat list with the gateway's. It is a no-op for guests.
// On failure the previous list is kept.
func (c *Coordinator) LoadChats(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Session.Authenticated {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	c.state.Err = ""
	c.state.IsLoadingChats = true
	c.publishLocked()
	c.mu.Unlock()

	chats, err := c.gw.ListChats(ctx)
	if err != nil {
		c.logger.Warn("Failed to load chats", "error", err)
		c.fail(epoch, err, func(s *State) { s.IsLoadingChats = false })
		return err
	}

	c.updateIf(epoch, func(s *State) {
		s.Chats = chats
		s.IsLoadingChats = false
	})
	return nil
}

// SelectChat makes id the active chat. An empty id clears the active chat
// (new conversation). Selecting the active chat again is a no-op. Only the
// response to the most recent selection is ever applied.
func (c *Coordinator) SelectChat(ctx context.Context, id string) error {
	c.mu.Lock()
	if id == "" {
		c.selectGen++
		c.selectTarget = ""
		c.setActiveLocked(nil)
		c.state.IsLoadingMessages = false
		c.state.Err = ""
		c.publishLocked()
		c.mu.Unlock()
		return nil
	}
	if c.state.Active != nil && c.state.Active.ID == id {
		c.mu.Unlock()
		return nil
	}
	if c.state.IsLoadingMessages && c.selectTarget == id {
		c.mu.Unlock()
		return nil
	}

	c.selectGen++
	gen := c.selectGen
	c.selectTarget = id
	epoch := c.epoch
	c.setActiveLocked(nil)
	c.state.IsLoadingMessages = true
	c.state.Err = ""
	c.publishLocked()
	c.mu.Unlock()

	return c.loadActive(ctx, id, gen, epoch, 0)
}

// loadActive fetches id and installs it as active if gen is still the latest
// selection. When keepGen is non-zero the fetch refreshes a conversation that
// is already displayed and is applied only while that conversation is shown.
func (c *Coordinator) loadActive(ctx context.Context, id string, gen, epoch, keepGen uint64) error {
	chat, err := c.gw.GetChat(ctx, id)

	stale := func() bool {
		return epoch != c.epoch || gen != c.selectGen || (keepGen != 0 && keepGen != c.activeGen)
	}

	if err != nil {
		c.mu.Lock()
		if stale() {
			c.mu.Unlock()
			c.logger.Debug("Discarding stale chat load failure", "chat_id", id, "error", err)
			return nil
		}
		c.mu.Unlock()

		c.logger.Warn("Failed to load chat", "chat_id", id, "error", err)
		c.fail(epoch, err, func(s *State) {
			if gen == c.selectGen {
				s.IsLoadingMessages = false
				c.selectTarget = ""
			}
		})
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stale() {
		c.logger.Debug("Discarding stale chat load", "chat_id", id)
		return nil
	}
	c.selectTarget = ""
	c.state.IsLoadingMessages = false
	if keepGen != 0 {
		c.state.Active = withLocalIDs(chat)
	} else {
		c.setActiveLocked(withLocalIDs(chat))
	}
	c.publishLocked()
	return nil
}

// RenameChat persists a new title and updates the list entry and the active
// chat in place, without reloading the list.
func (c *Coordinator) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	epoch := c.begin(nil)
	upd, err := c.gw.RenameChat(ctx, id, title)
	if err != nil {
		c.fail(epoch, err, nil)
		return err
	}
	c.applyTitle(epoch, id, upd)
	return nil
}

// RequestTitleSuggestion asks the gateway to compute and store a title, then
// applies it like RenameChat.
func (c *Coordinator) RequestTitleSuggestion(ctx context.Context, id string) (string, error) {
	epoch := c.begin(nil)
	upd, err := c.gw.SuggestTitle(ctx, id)
	if err != nil {
		c.fail(epoch, err, nil)
		return "", err
	}
	c.applyTitle(epoch, id, upd)
	return upd.Title, nil
}

func (c *Coordinator) applyTitle(epoch uint64, id string, upd *domain.TitleUpdate) {
	c.updateIf(epoch, func(s *State) {
		for i := range s.Chats {
			if s.Chats[i].ID != id {
				continue
			}
			s.Chats[i].Title = upd.Title
			if !upd.UpdatedAt.IsZero() {
				s.Chats[i].UpdatedAt = upd.UpdatedAt
			}
		}
		if s.Active != nil && s.Active.ID == id {
			s.Active.Title = upd.Title
			if !upd.UpdatedAt.IsZero() {
				s.Active.UpdatedAt = upd.UpdatedAt
			}
		}
	})
}

// DeleteChat deletes a chat and drops it from the list. The active chat is
// cleared only if it is the deleted one.
func (c *Coordinator) DeleteChat(ctx context.Context, id string) error {
	epoch := c.begin(nil)
	if err := c.gw.DeleteChat(ctx, id); err != nil {
		c.fail(epoch, err, nil)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	kept := c.state.Chats[:0:0]
	for _, chat := range c.state.Chats {
		if chat.ID != id {
			kept = append(kept, chat)
		}
	}
	c.state.Chats = kept
	if c.state.Active != nil && c.state.Active.ID == id {
		c.setActiveLocked(nil)
	}
	if c.selectTarget == id {
		c.selectGen++
		c.selectTarget = ""
		c.state.IsLoadingMessages = false
	}
	c.publishLocked()
	return nil
}
