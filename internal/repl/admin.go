package repl

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/gateway"
)

// Admin is the administrative surface of the gateway client.
type Admin interface {
	AdminListUsers(ctx context.Context) ([]domain.User, error)
	AdminUpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error)
	AdminListChats(ctx context.Context, query string) ([]domain.AdminChat, error)
	AdminGetChat(ctx context.Context, id string) (*domain.ChatDetail, error)
	AdminDeleteChat(ctx context.Context, id string) error
	AdminBotConfig(ctx context.Context) (*domain.BotConfig, error)
	AdminUpdateBotConfig(ctx context.Context, instructions string) (*domain.BotConfig, error)
	AdminAnalytics(ctx context.Context) (*domain.Analytics, error)
	AdminLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

var _ Admin = (*gateway.Client)(nil)

const adminHelp = `Admin commands:
  /admin users                         list accounts
  /admin user <id> <active|inactive|admin|user>
  /admin chats [query]                 list all chats, optionally by title
  /admin chat <id>                     print a chat
  /admin delchat <id>                  delete any chat
  /admin bot [instructions]            show or set global instructions
  /admin analytics                     usage totals
  /admin logs [n]                      recent audit log entries`

func (s *Shell) adminCommand(ctx context.Context, args []string, rest string) {
	st := s.coord.Snapshot()
	if s.admin == nil || !st.Session.User.IsAdmin() {
		s.printErr("admin commands need an administrator session")
		return
	}
	if len(args) == 0 || args[0] == "help" {
		s.println(adminHelp)
		return
	}
	sub, params := args[0], args[1:]
	tail := strings.TrimSpace(strings.TrimPrefix(rest, sub))

	var err error
	switch sub {
	case "users":
		err = s.adminUsers(ctx)
	case "user":
		err = s.adminUpdateUser(ctx, params)
	case "chats":
		err = s.adminChats(ctx, tail)
	case "chat":
		err = s.adminChat(ctx, params)
	case "delchat":
		if len(params) != 1 {
			s.printErr("usage: /admin delchat <id>")
			return
		}
		if err = s.admin.AdminDeleteChat(ctx, params[0]); err == nil {
			s.notice("Chat deleted.")
		}
	case "bot":
		err = s.adminBot(ctx, tail)
	case "analytics":
		err = s.adminAnalytics(ctx)
	case "logs":
		err = s.adminLogs(ctx, params)
	default:
		s.printErr("unknown admin command " + sub)
		return
	}
	if err != nil {
		s.adminFailed(ctx, err)
	}
}

// adminFailed reports an admin call error. Admin calls bypass the
// coordinator, so a 401 is routed through it to end the session.
func (s *Shell) adminFailed(ctx context.Context, err error) {
	if gateway.IsUnauthorized(err) {
		// LoadChats observes the same rejection and expires the session.
		_ = s.coord.LoadChats(ctx)
		s.report(err)
		return
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		s.printErr(gwErr.Message)
		return
	}
	s.printErr(err.Error())
}

func (s *Shell) adminUsers(ctx context.Context) error {
	users, err := s.admin.AdminListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		state := "active"
		if !u.IsActive {
			state = "inactive"
		}
		s.printf("%s  %-20s %-6s %-8s %s\n", u.ID, u.Username, u.Role, state, dimColor.Sprint(u.Email))
	}
	return nil
}

func (s *Shell) adminUpdateUser(ctx context.Context, params []string) error {
	if len(params) != 2 {
		s.printErr("usage: /admin user <id> <active|inactive|admin|user>")
		return nil
	}
	var patch domain.UserPatch
	switch params[1] {
	case "active", "inactive":
		active := params[1] == "active"
		patch.IsActive = &active
	case domain.RoleAdmin, domain.RoleUser:
		role := params[1]
		patch.Role = &role
	default:
		s.printErr("expected one of active, inactive, admin, user")
		return nil
	}
	u, err := s.admin.AdminUpdateUser(ctx, params[0], patch)
	if err != nil {
		return err
	}
	s.notice("%s is now %s, active=%t.", u.Username, u.Role, u.IsActive)
	return nil
}

func (s *Shell) adminChats(ctx context.Context, query string) error {
	chats, err := s.admin.AdminListChats(ctx, query)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		s.println(dimColor.Sprint("No chats."))
		return nil
	}
	for _, c := range chats {
		owner := "user " + c.UserID
		if c.UserID == "" {
			owner = "guest " + c.GuestID
		}
		s.printf("%s  %-30s %3d msgs  %s\n", c.ID, c.Title, c.MessageCount, dimColor.Sprint(owner))
	}
	return nil
}

func (s *Shell) adminChat(ctx context.Context, params []string) error {
	if len(params) != 1 {
		s.printErr("usage: /admin chat <id>")
		return nil
	}
	chat, err := s.admin.AdminGetChat(ctx, params[0])
	if err != nil {
		return err
	}
	s.println(assistantColor.Sprint("# " + chat.Title))
	for _, m := range chat.Messages {
		s.printMessage(m)
	}
	return nil
}

func (s *Shell) adminBot(ctx context.Context, instructions string) error {
	if instructions == "" {
		cfg, err := s.admin.AdminBotConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Instructions == "" {
			s.println(dimColor.Sprint("No global instructions set."))
			return nil
		}
		s.println(cfg.Instructions)
		return nil
	}
	if _, err := s.admin.AdminUpdateBotConfig(ctx, instructions); err != nil {
		return err
	}
	s.notice("Global instructions saved.")
	return nil
}

func (s *Shell) adminAnalytics(ctx context.Context) error {
	a, err := s.admin.AdminAnalytics(ctx)
	if err != nil {
		return err
	}
	s.printf("users %d (active %d)  chats %d  messages %d  guest messages %d\n",
		a.Users, a.ActiveUsers, a.Chats, a.Messages, a.GuestMessages)
	return nil
}

func (s *Shell) adminLogs(ctx context.Context, params []string) error {
	limit := 20
	if len(params) > 0 {
		n, err := strconv.Atoi(params[0])
		if err != nil || n <= 0 {
			s.printErr("usage: /admin logs [n]")
			return nil
		}
		limit = n
	}
	logs, err := s.admin.AdminLogs(ctx, limit)
	if err != nil {
		return err
	}
	for _, l := range logs {
		s.printf("%s  %-20s %s %s\n", dimColor.Sprint(l.CreatedAt.Local().Format(time.DateTime)), l.Action, l.UserID, l.Detail)
	}
	return nil
}
