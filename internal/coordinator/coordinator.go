// Package coordinator owns the client-side view of the session, the chat list and
// the active chat, and mediates every transition between them.
//
// All gateway calls happen outside the state lock. Responses are applied only if
// the state they were issued against is still current: an epoch guards against
// responses that straddle a login or logout, a select generation guards against
// out-of-order chat loads, and an active generation guards send replies.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
	"github.com/ashureev/chatdesk/internal/guest"
	"github.com/ashureev/chatdesk/internal/localstate"
	"github.com/google/uuid"
)

// User-facing texts stored in the error slot.
const (
	msgCommunicationFailure = "Communication failure. Please try again."
	msgSessionExpired       = "Your session has expired. Please log in again."
	msgReplyFailed          = "Sorry, I had a problem processing your message. Please try again."
)

var (
	// ErrEmptyMessage is returned when SendMessage is declined for blank text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrEmptyTitle is returned when RenameChat is declined for a blank title.
	ErrEmptyTitle = errors.New("title is empty")
	// ErrNotAuthenticated is returned by operations that need a logged-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Gateway is the subset of the backend client the coordinator depends on.
type Gateway interface {
	SetToken(token string)
	SetGuestID(id string)

	Register(ctx context.Context, reg gateway.Registration) (*gateway.AuthResponse, error)
	Login(ctx context.Context, creds gateway.Credentials) (*gateway.AuthResponse, error)
	Me(ctx context.Context) (*domain.User, error)
	UpdateProfile(ctx context.Context, username string) (*domain.User, error)
	ChangePassword(ctx context.Context, current, next string) error

	ListChats(ctx context.Context) ([]domain.ChatSummary, error)
	GetChat(ctx context.Context, id string) (*domain.ChatDetail, error)
	DeleteChat(ctx context.Context, id string) error
	RenameChat(ctx context.Context, id, title string) (*domain.TitleUpdate, error)
	SuggestTitle(ctx context.Context, id string) (*domain.TitleUpdate, error)
	SendMessage(ctx context.Context, req gateway.SendRequest) (*gateway.SendResponse, error)

	BotConfig(ctx context.Context) (*domain.BotConfig, error)
	UpdateBotConfig(ctx context.Context, instructions string) (*domain.BotConfig, error)

	Watch(ctx context.Context) (<-chan domain.Event, error)
}

// Ensure the HTTP client satisfies Gateway.
var _ Gateway = (*gateway.Client)(nil)

// State is an immutable snapshot of everything the presentation layer may read.
type State struct {
	Session           domain.Session
	Chats             []domain.ChatSummary
	Active            *domain.ChatDetail
	IsInitializing    bool
	IsLoadingChats    bool
	IsLoadingMessages bool
	IsSending         bool
	// Err is the single user-visible error slot.
	Err string
	// LimitReached is set when a guest hit the message cap; the UI should prompt for login.
	LimitReached bool
	GuestCount   int
}

func (s State) clone() State {
	out := s
	if s.Session.User != nil {
		u := *s.Session.User
		out.Session.User = &u
	}
	if s.Chats != nil {
		out.Chats = make([]domain.ChatSummary, len(s.Chats))
		copy(out.Chats, s.Chats)
	}
	out.Active = s.Active.Clone()
	return out
}

// Config holds coordinator options.
type Config struct {
	// GuestMessageCap enables local pre-emptive blocking of guest sends. 0 disables it.
	GuestMessageCap int
	Logger          *slog.Logger
}

// Coordinator is the single owner of session, chat list and active chat.
// It is safe for concurrent use.
type Coordinator struct {
	gw     Gateway
	store  localstate.Store
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	limiter *guest.Limiter

	// epoch changes on every login, logout and session expiry.
	epoch uint64
	// selectGen identifies the latest chat load; selectTarget is its chat id.
	selectGen    uint64
	selectTarget string
	// activeGen changes whenever Active is replaced by a different conversation.
	activeGen uint64

	subs    map[int]chan State
	nextSub int
}

// New creates a coordinator. Call Initialize before use.
func New(gw Gateway, store localstate.Store, cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		gw:      gw,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		limiter: guest.NewLimiter(store, localstate.Snapshot{}, cfg.GuestMessageCap),
		subs:    make(map[int]chan State),
	}
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe returns a channel that receives the state after every committed
// transition. Slow readers only see the latest state. Call cancel to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 1)
	ch <- c.state.clone()
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// ClearError empties the error slot.
func (c *Coordinator) ClearError() {
	c.update(func(s *State) { s.Err = "" })
}

// update applies fn as one atomic transition.
func (c *Coordinator) update(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.publishLocked()
}

// updateIf applies fn only while the session epoch is unchanged.
func (c *Coordinator) updateIf(epoch uint64, fn func(s *State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	fn(&c.state)
	c.publishLocked()
	return true
}

func (c *Coordinator) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.state.clone()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// begin clears the error slot for a new operation and returns the current epoch.
func (c *Coordinator) begin(fn func(s *State)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Err = ""
	if fn != nil {
		fn(&c.state)
	}
	c.publishLocked()
	return c.epoch
}

// fail records err for an operation started in epoch. reset clears the
// operation's own loading flags. A 401 on an authenticated session expires it.
func (c *Coordinator) fail(epoch uint64, err error, reset func(s *State)) {
	if gateway.IsUnauthorized(err) && c.expire(epoch) {
		return
	}
	c.updateIf(epoch, func(s *State) {
		if reset != nil {
			reset(s)
		}
		s.Err = errorText(err)
	})
}

// expire drops an authenticated session after the gateway rejected its token.
func (c *Coordinator) expire(epoch uint64) bool {
	c.mu.Lock()
	if epoch != c.epoch || !c.state.Session.Authenticated {
		c.mu.Unlock()
		return false
	}
	c.resetSessionLocked(msgSessionExpired)
	c.mu.Unlock()

	c.logger.Info("Session expired, token invalidated")
	c.gw.SetToken("")
	if err := c.store.SaveToken(context.Background(), ""); err != nil {
		c.logger.Warn("Failed to clear persisted token", "error", err)
	}
	return true
}

// resetSessionLocked moves to the unauthenticated state in one transition.
func (c *Coordinator) resetSessionLocked(errText string) {
	c.epoch++
	c.selectGen++
	c.selectTarget = ""
	c.activeGen++
	c.state = State{
		Err:          errText,
		GuestCount:   c.limiter.Count(),
		LimitReached: c.limiter.LimitReached(),
	}
	c.publishLocked()
}

// setActiveLocked replaces the active conversation.
func (c *Coordinator) setActiveLocked(chat *domain.ChatDetail) {
	c.activeGen++
	c.state.Active = chat
}

func errorText(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		switch gwErr.Kind {
		case gateway.KindAuth, gateway.KindForbidden, gateway.KindValidation:
			if gwErr.Message != "" {
				return gwErr.Message
			}
		}
	}
	return msgCommunicationFailure
}

// withLocalIDs assigns ids to messages that arrived without one.
func withLocalIDs(chat *domain.ChatDetail) *domain.ChatDetail {
	for i := range chat.Messages {
		if chat.Messages[i].LocalID == "" {
			chat.Messages[i].LocalID = uuid.NewString()
		}
		if chat.Messages[i].Status == "" {
			chat.Messages[i].Status = domain.StatusConfirmed
		}
	}
	return chat
}
