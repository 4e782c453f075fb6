package coordinator

import (
	"context"
	"fmt"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
	"github.com/ashureev/chatdesk/internal/guest"
	"github.com/google/uuid"
)

// Initialize reads the durable state and, if a token was persisted, resolves
// the current user. An unusable token is cleared and the session stays anonymous.
func (c *Coordinator) Initialize(ctx context.Context) error {
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("Failed to load local state, starting fresh", "error", err)
	}

	if snap.GuestID == "" {
		snap.GuestID = uuid.NewString()
		if err := c.store.SaveGuestID(ctx, snap.GuestID); err != nil {
			c.logger.Warn("Failed to persist guest id", "error", err)
		}
	}
	c.gw.SetGuestID(snap.GuestID)

	limiter := guest.NewLimiter(c.store, snap, c.cfg.GuestMessageCap)

	c.mu.Lock()
	c.limiter = limiter
	c.state.IsInitializing = snap.Token != ""
	c.state.GuestCount = limiter.Count()
	c.state.LimitReached = limiter.LimitReached()
	epoch := c.epoch
	c.publishLocked()
	c.mu.Unlock()

	if snap.Token == "" {
		return nil
	}

	c.gw.SetToken(snap.Token)
	user, err := c.gw.Me(ctx)
	if err != nil {
		c.logger.Info("Persisted token rejected", "kind", gateway.KindOf(err), "error", err)
		c.gw.SetToken("")
		if saveErr := c.store.SaveToken(ctx, ""); saveErr != nil {
			c.logger.Warn("Failed to clear persisted token", "error", saveErr)
		}
		c.updateIf(epoch, func(s *State) {
			s.IsInitializing = false
			if gateway.KindOf(err) == gateway.KindNetwork || gateway.KindOf(err) == gateway.KindServer {
				s.Err = msgCommunicationFailure
			}
		})
		return fmt.Errorf("resolve current user: %w", err)
	}

	if !c.updateIf(epoch, func(s *State) {
		s.Session = domain.NewSession(user, snap.Token)
		s.IsInitializing = false
	}) {
		return nil
	}
	c.logger.Info("Session restored", "user_id", user.ID, "username", user.Username)

	return c.LoadChats(ctx)
}

// Login authenticates with credentials. On failure the session is untouched.
func (c *Coordinator) Login(ctx context.Context, creds gateway.Credentials) (*domain.User, error) {
	c.begin(nil)
	resp, err := c.gw.Login(ctx, creds)
	if err != nil {
		c.update(func(s *State) { s.Err = errorText(err) })
		return nil, err
	}
	return c.establish(ctx, resp)
}

// Register creates an account and authenticates with it.
func (c *Coordinator) Register(ctx context.Context, reg gateway.Registration) (*domain.User, error) {
	c.begin(nil)
	resp, err := c.gw.Register(ctx, reg)
	if err != nil {
		c.update(func(s *State) { s.Err = errorText(err) })
		return nil, err
	}
	return c.establish(ctx, resp)
}

// establish installs a fresh authenticated session and loads its chats.
func (c *Coordinator) establish(ctx context.Context, resp *gateway.AuthResponse) (*domain.User, error) {
	c.gw.SetToken(resp.Token)
	if err := c.store.SaveToken(ctx, resp.Token); err != nil {
		c.logger.Warn("Failed to persist token", "error", err)
	}

	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()
	if err := limiter.Reset(ctx); err != nil {
		c.logger.Warn("Failed to reset guest counter", "error", err)
	}

	c.mu.Lock()
	c.epoch++
	c.selectGen++
	c.selectTarget = ""
	c.activeGen++
	c.state = State{Session: domain.NewSession(resp.User, resp.Token)}
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("Logged in", "user_id", resp.User.ID, "username", resp.User.Username)

	if err := c.LoadChats(ctx); err != nil {
		c.logger.Warn("Initial chat load failed", "error", err)
	}
	u := *resp.User
	return &u, nil
}

// Logout clears the session, the chat list and the active chat in one step.
// It does not call the gateway.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.resetSessionLocked("")
	c.mu.Unlock()

	c.gw.SetToken("")
	if err := c.store.SaveToken(ctx, ""); err != nil {
		return fmt.Errorf("clear persisted token: %w", err)
	}
	return nil
}

// UpdateProfile changes the username of the current user.
func (c *Coordinator) UpdateProfile(ctx context.Context, username string) (*domain.User, error) {
	if !c.Snapshot().Session.Authenticated {
		return nil, ErrNotAuthenticated
	}
	epoch := c.begin(nil)
	user, err := c.gw.UpdateProfile(ctx, username)
	if err != nil {
		c.fail(epoch, err, nil)
		return nil, err
	}
	c.updateIf(epoch, func(s *State) {
		s.Session = domain.NewSession(user, s.Session.Token)
	})
	return user, nil
}

// ChangePassword replaces the current user's password.
func (c *Coordinator) ChangePassword(ctx context.Context, current, next string) error {
	if !c.Snapshot().Session.Authenticated {
		return ErrNotAuthenticated
	}
	epoch := c.begin(nil)
	if err := c.gw.ChangePassword(ctx, current, next); err != nil {
		c.fail(epoch, err, nil)
		return err
	}
	return nil
}

// BotConfig returns the current user's assistant instructions.
func (c *Coordinator) BotConfig(ctx context.Context) (*domain.BotConfig, error) {
	if !c.Snapshot().Session.Authenticated {
		return nil, ErrNotAuthenticated
	}
	epoch := c.begin(nil)
	cfg, err := c.gw.BotConfig(ctx)
	if err != nil {
		c.fail(epoch, err, nil)
		return nil, err
	}
	return cfg, nil
}

// UpdateBotConfig replaces the current user's assistant instructions.
func (c *Coordinator) UpdateBotConfig(ctx context.Context, instructions string) (*domain.BotConfig, error) {
	if !c.Snapshot().Session.Authenticated {
		return nil, ErrNotAuthenticated
	}
	epoch := c.begin(nil)
	cfg, err := c.gw.UpdateBotConfig(ctx, instructions)
	if err != nil {
		c.fail(epoch, err, nil)
		return nil, err
	}
	return cfg, nil
}
