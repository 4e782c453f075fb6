package coordinator

import (
	"context"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
)

// watchRetryDelay is the pause before resubscribing after the event stream drops.
const watchRetryDelay = 2 * time.Second

// WatchChats keeps the chat list in sync with changes made elsewhere (another
// tab or device) by reloading it on every chats.changed event. It blocks until
// ctx ends or the session is no longer authenticated.
func (c *Coordinator) WatchChats(ctx context.Context) error {
	for {
		c.mu.Lock()
		authenticated := c.state.Session.Authenticated
		epoch := c.epoch
		c.mu.Unlock()
		if !authenticated {
			return ErrNotAuthenticated
		}

		subCtx, cancel := context.WithCancel(ctx)
		events, err := c.gw.Watch(subCtx)
		if err != nil {
			cancel()
			if gateway.IsUnauthorized(err) {
				c.expire(epoch)
				return err
			}
			c.logger.Debug("Event subscription failed", "error", err)
		} else {
			c.drain(ctx, epoch, events)
			cancel()
		}

		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watchRetryDelay):
		}
	}
}

func (c *Coordinator) drain(ctx context.Context, epoch uint64, events <-chan domain.Event) {
	for ev := range events {
		c.mu.Lock()
		current := c.epoch == epoch
		c.mu.Unlock()
		if !current {
			return
		}
		if ev.Type != domain.EventChatsChanged {
			continue
		}
		if err := c.LoadChats(ctx); err != nil {
			c.logger.Debug("Chat list refresh on event failed", "error", err)
		}
	}
}
