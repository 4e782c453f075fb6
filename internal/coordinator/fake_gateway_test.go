package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
)

type fakeAccount struct {
	user     domain.User
	password string
}

// fakeGateway is an in-memory backend with call counting, one-shot error
// injection and per-chat gates that hold GetChat until released.
type fakeGateway struct {
	mu sync.Mutex

	token   string
	guestID string

	accounts map[string]*fakeAccount
	tokens   map[string]*domain.User

	chats    []*domain.ChatDetail
	nextChat int

	guestLimit int
	guestCount map[string]int

	calls    map[string]int
	failNext map[string]error
	gates    map[string]chan struct{}
	started  map[string]chan struct{}
	events   chan domain.Event

	sendGate    chan struct{}
	sendStarted chan struct{}
}

func newFakeGateway() *fakeGateway {
	f := &fakeGateway{
		accounts:   make(map[string]*fakeAccount),
		tokens:     make(map[string]*domain.User),
		guestCount: make(map[string]int),
		calls:      make(map[string]int),
		failNext:   make(map[string]error),
		gates:      make(map[string]chan struct{}),
		started:    make(map[string]chan struct{}),
		events:     make(chan domain.Event, 4),
	}
	f.addAccount("alice", "secret")
	return f
}

func (f *fakeGateway) addAccount(username, password string) {
	f.accounts[username] = &fakeAccount{
		user:     domain.User{ID: "u-" + username, Username: username, Email: username + "@example.com", Role: domain.RoleUser, IsActive: true},
		password: password,
	}
}

func (f *fakeGateway) addChat(id, title string, msgs ...domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.chats = append(f.chats, &domain.ChatDetail{ID: id, Title: title, Messages: msgs, CreatedAt: now, UpdatedAt: now})
}

func (f *fakeGateway) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// hold makes GetChat(id) block until the returned release func is called.
// The returned channel is closed once GetChat(id) has been entered.
func (f *fakeGateway) hold(id string) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	started := make(chan struct{})
	f.gates[id] = gate
	f.started[id] = started
	return started, func() { close(gate) }
}

// holdSend makes the next SendMessage block until release is called.
func (f *fakeGateway) holdSend() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendGate = make(chan struct{})
	f.sendStarted = make(chan struct{})
	gate := f.sendGate
	return f.sendStarted, func() { close(gate) }
}

func (f *fakeGateway) revokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = make(map[string]*domain.User)
}

func unauthorized() error {
	return &gateway.Error{Kind: gateway.KindAuth, Status: http.StatusUnauthorized, Message: "invalid token"}
}

// enter records a call and returns an injected error, if any. Caller holds f.mu.
func (f *fakeGateway) enter(op string) error {
	f.calls[op]++
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

func (f *fakeGateway) currentUserLocked() (*domain.User, error) {
	if f.token == "" {
		return nil, unauthorized()
	}
	u, ok := f.tokens[f.token]
	if !ok {
		return nil, unauthorized()
	}
	return u, nil
}

func (f *fakeGateway) findLocked(id string) *domain.ChatDetail {
	for _, c := range f.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeGateway) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeGateway) SetGuestID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guestID = id
}

func (f *fakeGateway) Register(_ context.Context, reg gateway.Registration) (*gateway.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Register"); err != nil {
		return nil, err
	}
	if _, ok := f.accounts[reg.Username]; ok {
		return nil, &gateway.Error{Kind: gateway.KindConflict, Status: http.StatusConflict, Message: "username taken"}
	}
	f.addAccount(reg.Username, reg.Password)
	return f.issueLocked(reg.Username), nil
}

func (f *fakeGateway) Login(_ context.Context, creds gateway.Credentials) (*gateway.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Login"); err != nil {
		return nil, err
	}
	acct, ok := f.accounts[creds.Username]
	if !ok || acct.password != creds.Password {
		return nil, &gateway.Error{Kind: gateway.KindAuth, Status: http.StatusUnauthorized, Message: "invalid credentials"}
	}
	return f.issueLocked(creds.Username), nil
}

func (f *fakeGateway) issueLocked(username string) *gateway.AuthResponse {
	u := f.accounts[username].user
	token := "tok-" + username
	f.tokens[token] = &u
	return &gateway.AuthResponse{User: &u, Token: token}
}

func (f *fakeGateway) Me(_ context.Context) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Me"); err != nil {
		return nil, err
	}
	u, err := f.currentUserLocked()
	if err != nil {
		return nil, err
	}
	out := *u
	return &out, nil
}

func (f *fakeGateway) UpdateProfile(_ context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateProfile"); err != nil {
		return nil, err
	}
	u, err := f.currentUserLocked()
	if err != nil {
		return nil, err
	}
	u.Username = username
	out := *u
	return &out, nil
}

func (f *fakeGateway) ChangePassword(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ChangePassword"); err != nil {
		return err
	}
	_, err := f.currentUserLocked()
	return err
}

func (f *fakeGateway) ListChats(_ context.Context) ([]domain.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListChats"); err != nil {
		return nil, err
	}
	if _, err := f.currentUserLocked(); err != nil {
		return nil, err
	}
	out := make([]domain.ChatSummary, 0, len(f.chats))
	for _, c := range f.chats {
		out = append(out, c.Summary())
	}
	return out, nil
}

func (f *fakeGateway) GetChat(ctx context.Context, id string) (*domain.ChatDetail, error) {
	f.mu.Lock()
	gate := f.gates[id]
	started := f.started[id]
	delete(f.gates, id)
	delete(f.started, id)
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetChat"); err != nil {
		return nil, err
	}
	c := f.findLocked(id)
	if c == nil {
		return nil, &gateway.Error{Kind: gateway.KindNotFound, Status: http.StatusNotFound, Message: "chat not found"}
	}
	out := c.Clone()
	for i := range out.Messages {
		out.Messages[i].Status = domain.StatusConfirmed
	}
	return out, nil
}

func (f *fakeGateway) DeleteChat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteChat"); err != nil {
		return err
	}
	for i, c := range f.chats {
		if c.ID == id {
			f.chats = append(f.chats[:i], f.chats[i+1:]...)
			return nil
		}
	}
	return &gateway.Error{Kind: gateway.KindNotFound, Status: http.StatusNotFound, Message: "chat not found"}
}

func (f *fakeGateway) RenameChat(_ context.Context, id, title string) (*domain.TitleUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RenameChat"); err != nil {
		return nil, err
	}
	return f.retitleLocked(id, title)
}

func (f *fakeGateway) SuggestTitle(_ context.Context, id string) (*domain.TitleUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SuggestTitle"); err != nil {
		return nil, err
	}
	return f.retitleLocked(id, "Suggested "+id)
}

func (f *fakeGateway) retitleLocked(id, title string) (*domain.TitleUpdate, error) {
	c := f.findLocked(id)
	if c == nil {
		return nil, &gateway.Error{Kind: gateway.KindNotFound, Status: http.StatusNotFound, Message: "chat not found"}
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	return &domain.TitleUpdate{ID: id, Title: title, UpdatedAt: c.UpdatedAt}, nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, req gateway.SendRequest) (*gateway.SendResponse, error) {
	f.mu.Lock()
	gate, started := f.sendGate, f.sendStarted
	f.sendGate, f.sendStarted = nil, nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SendMessage"); err != nil {
		return nil, err
	}

	if f.token == "" {
		n := f.guestCount[f.guestID]
		if f.guestLimit > 0 && n >= f.guestLimit {
			return nil, &gateway.Error{Kind: gateway.KindLimit, Status: http.StatusForbidden, Message: "guest limit reached", MessageCount: n}
		}
		f.guestCount[f.guestID] = n + 1
	} else if _, err := f.currentUserLocked(); err != nil {
		return nil, err
	}

	c := f.findLocked(req.ChatID)
	if c == nil {
		f.nextChat++
		now := time.Now()
		c = &domain.ChatDetail{ID: fmt.Sprintf("chat-%d", f.nextChat), Title: "New chat", CreatedAt: now, UpdatedAt: now}
		f.chats = append([]*domain.ChatDetail{c}, f.chats...)
	}
	reply := "echo: " + req.Message
	c.Messages = append(c.Messages,
		domain.Message{Role: domain.RoleUserMessage, Content: req.Message},
		domain.Message{Role: domain.RoleAssistantMessage, Content: reply},
	)
	return &gateway.SendResponse{Response: reply, ChatID: c.ID}, nil
}

func (f *fakeGateway) BotConfig(_ context.Context) (*domain.BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BotConfig"); err != nil {
		return nil, err
	}
	return &domain.BotConfig{Instructions: "be brief"}, nil
}

func (f *fakeGateway) UpdateBotConfig(_ context.Context, instructions string) (*domain.BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateBotConfig"); err != nil {
		return nil, err
	}
	now := time.Now()
	return &domain.BotConfig{Instructions: instructions, UpdatedAt: &now}, nil
}

func (f *fakeGateway) Watch(ctx context.Context) (<-chan domain.Event, error) {
	f.mu.Lock()
	if err := f.enter("Watch"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	src := f.events
	f.mu.Unlock()

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-src:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
