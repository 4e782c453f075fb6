package repl

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/api"
	"github.com/ashureev/chatdesk/internal/assistant"
	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/coordinator"
	"github.com/ashureev/chatdesk/internal/gateway"
	"github.com/ashureev/chatdesk/internal/localstate"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// scriptedInput replays fixed lines and passwords.
type scriptedInput struct {
	lines     []string
	passwords []string
	history   []string
}

func (s *scriptedInput) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) PasswordPrompt(string) (string, error) {
	if len(s.passwords) == 0 {
		return "", io.EOF
	}
	pw := s.passwords[0]
	s.passwords = s.passwords[1:]
	return pw, nil
}

func (s *scriptedInput) AppendHistory(item string) {
	s.history = append(s.history, item)
}

func newGateway(t *testing.T, guestLimit int) string {
	t.Helper()
	cfg := &config.Gateway{
		Port:              "0",
		DBPath:            filepath.Join(t.TempDir(), "gateway.db"),
		GuestMessageLimit: guestLimit,
		BcryptCost:        bcrypt.MinCost,
		RateLimit:         config.RateLimitConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute},
		Admin:             config.AdminSeed{Username: "root", Password: "root-pass", Email: "root@example.com"},
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	_, err = api.SeedAdmin(context.Background(), repo, cfg.Admin, cfg.BcryptCost)
	require.NoError(t, err)

	h := api.NewHandler(repo, assistant.Echo{}, cfg)
	r := chi.NewRouter()
	r.Mount("/api", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return srv.URL + "/api"
}

func newShell(t *testing.T, baseURL string, in *scriptedInput) (*Shell, *bytes.Buffer) {
	t.Helper()
	client, err := gateway.New(gateway.Config{BaseURL: baseURL, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	coord := coordinator.New(client, localstate.NewMemory(localstate.Snapshot{}), coordinator.Config{})
	require.NoError(t, coord.Initialize(context.Background()))

	out := &bytes.Buffer{}
	sh := New(coord, client, in, out, nil)
	t.Cleanup(sh.stopWatch)
	return sh, out
}

// run executes lines and returns what they printed.
func run(sh *Shell, out *bytes.Buffer, lines ...string) string {
	out.Reset()
	for _, line := range lines {
		sh.Execute(context.Background(), line)
	}
	return out.String()
}

func TestGuestChatAndLimit(t *testing.T) {
	sh, out := newShell(t, newGateway(t, 1), &scriptedInput{})

	got := run(sh, out, "hello there")
	assert.Contains(t, got, "assistant> You said: hello there")

	got = run(sh, out, "again")
	assert.Contains(t, got, "Guest message limit reached (1 messages)")

	got = run(sh, out, "/chats")
	assert.Contains(t, got, "Guests have no saved chats")
}

func TestRegisterAndManageChats(t *testing.T) {
	sh, out := newShell(t, newGateway(t, 5), &scriptedInput{})

	got := run(sh, out, "/register grace grace@example.com secret-pw")
	assert.Contains(t, got, "Account created. Welcome, grace.")

	run(sh, out, "book a table for two")
	got = run(sh, out, "/chats")
	assert.Contains(t, got, "*  1. New chat")

	got = run(sh, out, "/rename Dinner plans", "/chats")
	assert.Contains(t, got, `Renamed to "Dinner plans".`)
	assert.Contains(t, got, "1. Dinner plans")
	assert.Equal(t, "grace [Dinner plans]> ", sh.prompt())

	got = run(sh, out, "/suggest")
	assert.Contains(t, got, `Titled "Book a table for two".`)

	got = run(sh, out, "/new", "/show")
	assert.Contains(t, got, "No active chat.")

	got = run(sh, out, "/select 1")
	assert.Contains(t, got, "# Book a table for two")
	assert.Contains(t, got, "you> book a table for two")

	got = run(sh, out, "/delete 1", "/chats")
	assert.Contains(t, got, "Chat deleted.")
	assert.Contains(t, got, "No chats yet.")
}

func TestLoginPromptsForPassword(t *testing.T) {
	base := newGateway(t, 5)
	in := &scriptedInput{passwords: []string{"wrong-pass", "root-pass"}}
	sh, out := newShell(t, base, in)

	got := run(sh, out, "/login root")
	assert.Contains(t, got, "error: Invalid username or password")

	got = run(sh, out, "/login root", "/whoami")
	assert.Contains(t, got, "Welcome back, root.")
	assert.Contains(t, got, "Logged in as root (admin)")

	got = run(sh, out, "/logout", "/whoami")
	assert.Contains(t, got, "Logged out.")
	assert.Contains(t, got, "Chatting as guest")
}

func TestBotInstructions(t *testing.T) {
	sh, out := newShell(t, newGateway(t, 5), &scriptedInput{})

	got := run(sh, out, "/bot")
	assert.Contains(t, got, "error: not authenticated")

	run(sh, out, "/register heidi heidi@example.com secret-pw")
	got = run(sh, out, "/bot", "/bot Answer in French", "/bot")
	assert.Contains(t, got, "No personal instructions set.")
	assert.Contains(t, got, "Instructions saved.")
	assert.Contains(t, got, "Answer in French")

	got = run(sh, out, "bonjour")
	assert.Contains(t, got, "(Following instructions: Answer in French)")
}

func TestAdminCommands(t *testing.T) {
	base := newGateway(t, 5)

	user, userOut := newShell(t, base, &scriptedInput{})
	run(user, userOut, "/register ivan ivan@example.com secret-pw", "hi from ivan")
	got := run(user, userOut, "/admin analytics")
	assert.Contains(t, got, "admin commands need an administrator session")

	admin, out := newShell(t, base, &scriptedInput{})
	run(admin, out, "/login root root-pass")

	got = run(admin, out, "/admin users")
	assert.Contains(t, got, "ivan")
	assert.Contains(t, got, "root")

	got = run(admin, out, "/admin analytics")
	assert.Contains(t, got, "users 2 (active 2)  chats 1  messages 2")

	got = run(admin, out, "/admin bot Keep it short", "/admin bot")
	assert.Contains(t, got, "Global instructions saved.")
	assert.Contains(t, got, "Keep it short")

	got = run(admin, out, "/admin chats")
	assert.Contains(t, got, "New chat")

	got = run(admin, out, "/admin logs 5")
	assert.Contains(t, got, "user.register")

	got = run(admin, out, "/admin nope")
	assert.Contains(t, got, "unknown admin command nope")
}

func TestRunKeepsSecretsOutOfHistory(t *testing.T) {
	base := newGateway(t, 5)
	in := &scriptedInput{lines: []string{"/help", "/login root root-pass", "", "/whoami", "/quit", "never read"}}
	sh, out := newShell(t, base, in)

	require.NoError(t, sh.Run(context.Background()))

	assert.Equal(t, []string{"/help", "/whoami", "/quit"}, in.history)
	assert.Equal(t, []string{"never read"}, in.lines)
	assert.Contains(t, out.String(), "Logged in as root (admin)")
}

func TestRunStopsAtEOF(t *testing.T) {
	sh, out := newShell(t, newGateway(t, 5), &scriptedInput{lines: []string{"/bogus"}})

	require.NoError(t, sh.Run(context.Background()))
	assert.Contains(t, out.String(), "unknown command /bogus")
	assert.True(t, strings.HasPrefix(out.String(), "chatdesk"))
}
