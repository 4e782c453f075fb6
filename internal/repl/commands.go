package repl

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/chatdesk/internal/coordinator"
	"github.com/ashureev/chatdesk/internal/gateway"
)

const helpText = `Commands:
  <text>                       send a message to the active chat (or start one)
  /login <user> [password]     log in
  /register <user> <email> [password]
  /logout                      log out
  /whoami                      show the current session
  /chats                       list your chats
  /select <n|id>               open a chat
  /show                        print the active chat
  /new                         start a new chat
  /rename <title>              rename the active chat
  /suggest                     let the assistant title the active chat
  /delete [n|id]               delete a chat (default: active)
  /profile <username>          change your username
  /password                    change your password
  /bot [instructions]          show or set your assistant instructions
  /admin <subcommand>          administration, see /admin help
  /help                        show this help
  /quit                        exit`

// Execute runs one input line. It returns false when the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	s.busy.Store(true)
	defer s.busy.Store(false)

	if !strings.HasPrefix(line, "/") {
		s.send(ctx, line)
		return true
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		s.println(helpText)
	case "/login":
		s.login(ctx, args)
	case "/register":
		s.register(ctx, args)
	case "/logout":
		s.stopWatch()
		if err := s.coord.Logout(ctx); err != nil {
			s.printErr(err.Error())
		}
		s.notice("Logged out.")
	case "/whoami":
		s.showSession()
	case "/chats":
		s.listChats(ctx)
	case "/select":
		if len(args) != 1 {
			s.printErr("usage: /select <n|id>")
			return true
		}
		s.selectChat(ctx, s.chatRef(args[0]))
	case "/show":
		s.showActive()
	case "/new":
		_ = s.coord.SelectChat(ctx, "")
		s.notice("New chat. Your next message starts it.")
	case "/rename":
		s.rename(ctx, rest)
	case "/suggest":
		s.suggest(ctx)
	case "/delete":
		s.deleteChat(ctx, args)
	case "/profile":
		s.profile(ctx, args)
	case "/password":
		s.changePassword(ctx)
	case "/bot":
		s.bot(ctx, rest)
	case "/admin":
		s.adminCommand(ctx, args, rest)
	default:
		s.printErr("unknown command " + cmd + ", try /help")
	}
	return true
}

func (s *Shell) send(ctx context.Context, text string) {
	err := s.coord.SendMessage(ctx, text)
	if errors.Is(err, coordinator.ErrEmptyMessage) {
		return
	}

	st := s.coord.Snapshot()
	if err != nil && st.LimitReached && !st.Session.Authenticated {
		s.report(err)
		return
	}
	if st.Active == nil || len(st.Active.Messages) == 0 {
		if err != nil {
			s.report(err)
		}
		return
	}
	s.printMessage(st.Active.Messages[len(st.Active.Messages)-1])
}

// password returns args[i] or asks for it without echo.
func (s *Shell) password(args []string, i int, prompt string) (string, bool) {
	if len(args) > i {
		return args[i], true
	}
	pw, err := s.in.PasswordPrompt(prompt)
	if err != nil {
		return "", false
	}
	return pw, true
}

func (s *Shell) login(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.printErr("usage: /login <user> [password]")
		return
	}
	pw, ok := s.password(args, 1, "password: ")
	if !ok {
		return
	}
	user, err := s.coord.Login(ctx, gateway.Credentials{Username: args[0], Password: pw})
	if err != nil {
		s.report(err)
		return
	}
	s.notice("Welcome back, %s.", user.Username)
	s.startWatch(ctx)
}

func (s *Shell) register(ctx context.Context, args []string) {
	if len(args) < 2 {
		s.printErr("usage: /register <user> <email> [password]")
		return
	}
	pw, ok := s.password(args, 2, "choose a password: ")
	if !ok {
		return
	}
	user, err := s.coord.Register(ctx, gateway.Registration{Username: args[0], Email: args[1], Password: pw})
	if err != nil {
		s.report(err)
		return
	}
	s.notice("Account created. Welcome, %s.", user.Username)
	s.startWatch(ctx)
}

func (s *Shell) listChats(ctx context.Context) {
	if !s.coord.Snapshot().Session.Authenticated {
		s.notice("Guests have no saved chats. /login to see yours.")
		return
	}
	if err := s.coord.LoadChats(ctx); err != nil {
		s.report(err)
		return
	}
	st := s.coord.Snapshot()
	if len(st.Chats) == 0 {
		s.println(dimColor.Sprint("No chats yet."))
		return
	}
	for i, c := range st.Chats {
		marker := " "
		if st.Active != nil && st.Active.ID == c.ID {
			marker = "*"
		}
		s.printf("%s%3d. %s %s\n", marker, i+1, c.Title, dimColor.Sprint(c.UpdatedAt.Local().Format(time.DateTime)))
	}
}

// chatRef resolves a 1-based index into the chat list, or returns ref as an id.
func (s *Shell) chatRef(ref string) string {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref
	}
	chats := s.coord.Snapshot().Chats
	if n >= 1 && n <= len(chats) {
		return chats[n-1].ID
	}
	return ref
}

func (s *Shell) selectChat(ctx context.Context, id string) {
	if err := s.coord.SelectChat(ctx, id); err != nil {
		s.report(err)
		return
	}
	s.showActive()
}

func (s *Shell) showActive() {
	st := s.coord.Snapshot()
	if st.Active == nil {
		s.println(dimColor.Sprint("No active chat."))
		return
	}
	if st.Active.Title != "" {
		s.println(assistantColor.Sprint("# " + st.Active.Title))
	}
	for _, m := range st.Active.Messages {
		s.printMessage(m)
	}
}

func (s *Shell) activeID() string {
	if a := s.coord.Snapshot().Active; a != nil {
		return a.ID
	}
	return ""
}

func (s *Shell) rename(ctx context.Context, title string) {
	id := s.activeID()
	if id == "" {
		s.printErr("no saved chat is active")
		return
	}
	if err := s.coord.RenameChat(ctx, id, title); err != nil {
		if errors.Is(err, coordinator.ErrEmptyTitle) {
			s.printErr("usage: /rename <title>")
			return
		}
		s.report(err)
		return
	}
	s.notice("Renamed to %q.", strings.TrimSpace(title))
}

func (s *Shell) suggest(ctx context.Context) {
	id := s.activeID()
	if id == "" {
		s.printErr("no saved chat is active")
		return
	}
	title, err := s.coord.RequestTitleSuggestion(ctx, id)
	if err != nil {
		s.report(err)
		return
	}
	s.notice("Titled %q.", title)
}

func (s *Shell) deleteChat(ctx context.Context, args []string) {
	id := s.activeID()
	if len(args) > 0 {
		id = s.chatRef(args[0])
	}
	if id == "" {
		s.printErr("usage: /delete [n|id]")
		return
	}
	if err := s.coord.DeleteChat(ctx, id); err != nil {
		s.report(err)
		return
	}
	s.notice("Chat deleted.")
}

func (s *Shell) profile(ctx context.Context, args []string) {
	if len(args) != 1 {
		s.printErr("usage: /profile <username>")
		return
	}
	user, err := s.coord.UpdateProfile(ctx, args[0])
	if err != nil {
		s.report(err)
		return
	}
	s.notice("Username changed to %s.", user.Username)
}

func (s *Shell) changePassword(ctx context.Context) {
	current, ok := s.password(nil, 0, "current password: ")
	if !ok {
		return
	}
	next, ok := s.password(nil, 0, "new password: ")
	if !ok {
		return
	}
	if err := s.coord.ChangePassword(ctx, current, next); err != nil {
		s.report(err)
		return
	}
	s.notice("Password changed.")
}

func (s *Shell) bot(ctx context.Context, instructions string) {
	if instructions == "" {
		cfg, err := s.coord.BotConfig(ctx)
		if err != nil {
			s.report(err)
			return
		}
		if cfg.Instructions == "" {
			s.println(dimColor.Sprint("No personal instructions set."))
			return
		}
		s.println(cfg.Instructions)
		return
	}
	if _, err := s.coord.UpdateBotConfig(ctx, instructions); err != nil {
		s.report(err)
		return
	}
	s.notice("Instructions saved.")
}
