// Package repl implements the interactive chatdesk shell on top of the coordinator.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ashureev/chatdesk/internal/coordinator"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
	"github.com/ashureev/chatdesk/internal/guest"
	"github.com/fatih/color"
	"github.com/peterh/liner"
)

// Prompter reads input lines. *liner.State satisfies it.
type Prompter interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
	AppendHistory(item string)
}

var (
	userColor      = color.New(color.FgGreen, color.Bold)
	assistantColor = color.New(color.FgCyan, color.Bold)
	errorColor     = color.New(color.FgRed)
	noticeColor    = color.New(color.FgYellow)
	dimColor       = color.New(color.Faint)
)

// Shell dispatches commands and renders coordinator state.
type Shell struct {
	coord  *coordinator.Coordinator
	admin  Admin
	in     Prompter
	logger *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	busy        atomic.Bool
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New creates a shell. admin may be nil, which disables /admin.
func New(coord *coordinator.Coordinator, admin Admin, in Prompter, out io.Writer, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{coord: coord, admin: admin, in: in, out: out, logger: logger}
}

// Run reads and executes lines until /quit, EOF or Ctrl+C.
func (s *Shell) Run(ctx context.Context) error {
	s.println(assistantColor.Sprint("chatdesk"), dimColor.Sprint("type /help for commands"))
	s.showSession()

	states, unsubscribe := s.coord.Subscribe()
	defer unsubscribe()
	go s.follow(states)

	if s.coord.Snapshot().Session.Authenticated {
		s.startWatch(ctx)
	}
	defer s.stopWatch()

	for {
		line, err := s.in.Prompt(s.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				s.println()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !secretCommand(line) {
			s.in.AppendHistory(line)
		}
		if !s.Execute(ctx, line) {
			return nil
		}
	}
}

// secretCommand reports whether line may carry a password and must stay out of history.
func secretCommand(line string) bool {
	cmd, _, _ := strings.Cut(line, " ")
	switch cmd {
	case "/login", "/register", "/password":
		return true
	}
	return false
}

func (s *Shell) prompt() string {
	st := s.coord.Snapshot()
	name := "guest"
	if st.Session.User != nil {
		name = st.Session.User.Username
	}
	if st.Active != nil && st.Active.ID != "" && st.Active.Title != "" {
		return fmt.Sprintf("%s [%s]> ", name, st.Active.Title)
	}
	return name + "> "
}

// follow reports session changes that happen outside a command, such as an
// expiry noticed by the chat watcher.
func (s *Shell) follow(states <-chan coordinator.State) {
	var prev coordinator.State
	first := true
	for st := range states {
		if !first && !s.busy.Load() && prev.Session.Authenticated && !st.Session.Authenticated && st.Err != "" {
			s.println()
			s.printErr(st.Err)
		}
		prev, first = st, false
	}
}

// startWatch keeps the chat list current while the session is authenticated.
func (s *Shell) startWatch(ctx context.Context) {
	s.stopWatch()
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.watchCancel, s.watchDone = cancel, done
	go func() {
		defer close(done)
		if err := s.coord.WatchChats(wctx); err != nil && !errors.Is(err, coordinator.ErrNotAuthenticated) {
			s.logger.Debug("Chat watcher stopped", "error", err)
		}
	}()
}

func (s *Shell) stopWatch() {
	if s.watchCancel == nil {
		return
	}
	s.watchCancel()
	<-s.watchDone
	s.watchCancel, s.watchDone = nil, nil
}

func (s *Shell) println(a ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, a...)
}

func (s *Shell) printf(format string, a ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, a...)
}

func (s *Shell) printErr(msg string) {
	s.println(errorColor.Sprint("error: " + msg))
}

func (s *Shell) notice(format string, a ...any) {
	s.println(noticeColor.Sprintf(format, a...))
}

// report prints the outcome of a failed coordinator operation. The
// coordinator's error slot wins over the raw error.
func (s *Shell) report(err error) {
	st := s.coord.Snapshot()
	switch {
	case errors.Is(err, guest.ErrLimitReached) || gateway.KindOf(err) == gateway.KindLimit:
		s.notice("Guest message limit reached (%d messages). Use /login or /register to continue.", st.GuestCount)
	case st.Err != "":
		s.printErr(st.Err)
	case err != nil:
		s.printErr(err.Error())
	}
}

func (s *Shell) printMessage(m domain.Message) {
	switch {
	case m.IsError():
		s.println(errorColor.Sprint("assistant> ") + m.Content)
	case m.Role == domain.RoleUserMessage:
		suffix := ""
		if m.Status == domain.StatusFailed {
			suffix = errorColor.Sprint(" (not delivered)")
		}
		s.println(userColor.Sprint("you> ") + m.Content + suffix)
	default:
		s.println(assistantColor.Sprint("assistant> ") + m.Content)
	}
}

func (s *Shell) showSession() {
	st := s.coord.Snapshot()
	if st.Session.Authenticated {
		s.printf("Logged in as %s (%s)\n", st.Session.User.Username, st.Session.User.Role)
		return
	}
	s.println(dimColor.Sprint("Chatting as guest. /login or /register to keep your chats."))
	if st.Err != "" {
		s.printErr(st.Err)
	}
}
