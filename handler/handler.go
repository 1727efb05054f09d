package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"student-assistant/internal/domain"
	"student-assistant/internal/guard"
	"student-assistant/internal/session"
	"student-assistant/internal/usecase"
)

// Sessions is the session surface the handler drives.
type Sessions interface {
	State() session.State
	CheckAuth(ctx context.Context)
	SignUp(ctx context.Context, reg domain.Registration) session.Result
	LogIn(ctx context.Context, creds domain.Credentials) session.Result
	LogOut(ctx context.Context) session.LogoutResult
}

// Conversations is the conversation surface the handler drives.
type Conversations interface {
	SendMessage(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	LoadOrInitialize(ctx context.Context, conversationID string) (domain.ConversationLog, error)
	ResetConversation(ctx context.Context, conversationID string) (domain.ConversationLog, error)
	StartConversation(ctx context.Context) (domain.ConversationLog, error)
	ExportJSON(ctx context.Context, conversationID string) ([]byte, error)
	ComputeStatistics(ctx context.Context, conversationID string) (usecase.Statistics, error)
	ListConversationIDs(ctx context.Context) ([]string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Response is what one input line produces. Code is empty on success and
// carries the failure code otherwise. Redirect is set when a guarded command
// was refused.
type Response struct {
	Body          string
	Code          string
	Redirect      string
	Quit          bool
	CorrelationID string
}

// Handler turns input lines into session and conversation operations and
// keeps the conversation currently on screen.
type Handler struct {
	sessions Sessions
	convs    Conversations
	logger   *slog.Logger

	mu      sync.Mutex
	current domain.ConversationLog
}

func NewHandler(sessions Sessions, convs Conversations, logger *slog.Logger) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("handler: sessions must not be nil")
	}
	if convs == nil {
		return nil, errors.New("handler: conversations must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		convs:    convs,
		logger:   logger,
		current:  domain.ConversationLog{ConversationID: usecase.DefaultConversationID},
	}, nil
}

// Current returns the conversation on screen.
func (h *Handler) Current() domain.ConversationLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.Clone()
}

func (h *Handler) setCurrent(log domain.ConversationLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = log
}

const helpText = `commands:
  /signup <email> <password> <full name>
  /login <email> <password>
  /logout
  /whoami
  /new               start a new conversation
  /open <id>         switch to a conversation
  /reset             clear the current conversation
  /list              list conversations
  /delete <id>       delete a conversation
  /export            print the current conversation as JSON
  /stats             summarize the current conversation
  /suggest [n]       list quick questions, or ask question n
  /quit
anything else is sent to the assistant`

func (h *Handler) Handle(ctx context.Context, line string) Response {
	correlationID := newCorrelationID()
	logger := h.logger.With("correlation_id", correlationID)

	resp := h.dispatch(ctx, logger, strings.TrimSpace(line))
	resp.CorrelationID = correlationID
	return resp
}

func (h *Handler) dispatch(ctx context.Context, logger *slog.Logger, line string) Response {
	if !strings.HasPrefix(line, "/") {
		return h.guarded(guard.RequireAuthenticated(), func() Response {
			return h.send(ctx, logger, line)
		})
	}

	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)
	switch cmd {
	case "/help":
		return Response{Body: helpText}
	case "/quit", "/exit":
		return Response{Quit: true}
	case "/signup":
		return h.guarded(guard.RequireUnauthenticated(), func() Response { return h.signUp(ctx, args) })
	case "/login":
		return h.guarded(guard.RequireUnauthenticated(), func() Response { return h.logIn(ctx, args) })
	case "/logout":
		res := h.sessions.LogOut(ctx)
		h.setCurrent(domain.ConversationLog{ConversationID: usecase.DefaultConversationID})
		if !res.Success {
			logger.Warn("handler: logout failed remotely", "status", res.Status, "message", res.Message)
			return Response{Body: res.Message, Code: "LogoutFailed", Redirect: guard.SignInPath}
		}
		return Response{Body: res.Message, Redirect: guard.SignInPath}
	case "/whoami":
		st := h.sessions.State()
		if st.Identity == nil {
			return Response{Body: "not signed in"}
		}
		return Response{Body: describe(*st.Identity)}
	}

	return h.guarded(guard.RequireAuthenticated(), func() Response {
		return h.conversationCommand(ctx, logger, cmd, args)
	})
}

func (h *Handler) conversationCommand(ctx context.Context, logger *slog.Logger, cmd string, args []string) Response {
	convID := h.Current().ConversationID
	switch cmd {
	case "/new":
		log, err := h.convs.StartConversation(ctx)
		if err != nil {
			return errorResponse(logger, err)
		}
		h.setCurrent(log)
		return Response{Body: render(log)}
	case "/open":
		if len(args) != 1 {
			return usage("/open <id>")
		}
		return h.open(ctx, logger, args[0])
	case "/reset":
		log, err := h.convs.ResetConversation(ctx, convID)
		if err != nil {
			return errorResponse(logger, err)
		}
		h.setCurrent(log)
		return Response{Body: render(log)}
	case "/list":
		ids, err := h.convs.ListConversationIDs(ctx)
		if err != nil {
			return errorResponse(logger, err)
		}
		if len(ids) == 0 {
			return Response{Body: "no conversations"}
		}
		return Response{Body: strings.Join(ids, "\n")}
	case "/delete":
		if len(args) != 1 {
			return usage("/delete <id>")
		}
		if err := h.convs.DeleteConversation(ctx, args[0]); err != nil {
			return errorResponse(logger, err)
		}
		if args[0] == convID {
			h.setCurrent(domain.ConversationLog{ConversationID: usecase.DefaultConversationID})
		}
		return Response{Body: "deleted " + args[0]}
	case "/export":
		raw, err := h.convs.ExportJSON(ctx, convID)
		if err != nil {
			return errorResponse(logger, err)
		}
		return Response{Body: string(raw)}
	case "/stats":
		st, err := h.convs.ComputeStatistics(ctx, convID)
		if err != nil {
			return errorResponse(logger, err)
		}
		return Response{Body: fmt.Sprintf("messages: %d (user %d, assistant %d)\naverage length: %.1f",
			st.TotalMessages, st.UserMessageCount, st.AssistantMessageCount, st.AverageContentLength)}
	case "/suggest":
		return h.suggest(ctx, logger, args)
	default:
		return Response{Body: "unknown command " + cmd + "; try /help", Code: string(usecase.ErrorValidation)}
	}
}

// guarded runs fn only when req admits the current session state.
func (h *Handler) guarded(req guard.Requirement, fn func() Response) Response {
	d := guard.Decide(req, h.sessions.State())
	switch d.Verdict {
	case guard.Pending:
		return Response{Body: "checking your session, try again in a moment"}
	case guard.Redirect:
		if d.Target == guard.SignInPath {
			return Response{Body: "please sign in: /login <email> <password>", Redirect: d.Target}
		}
		return Response{Body: "you are already signed in", Redirect: d.Target}
	}
	return fn()
}

func (h *Handler) signUp(ctx context.Context, args []string) Response {
	if len(args) < 3 {
		return usage("/signup <email> <password> <full name>")
	}
	res := h.sessions.SignUp(ctx, domain.Registration{
		Email:    args[0],
		Password: args[1],
		FullName: strings.Join(args[2:], " "),
	})
	if !res.Success {
		return Response{Body: res.Message, Code: "SignupFailed"}
	}
	return h.landed(ctx, res.Message)
}

func (h *Handler) logIn(ctx context.Context, args []string) Response {
	if len(args) != 2 {
		return usage("/login <email> <password>")
	}
	res := h.sessions.LogIn(ctx, domain.Credentials{Email: args[0], Password: args[1]})
	if !res.Success {
		return Response{Body: res.Message, Code: "LoginFailed"}
	}
	// LogIn stores the token only; the identity comes from the next check.
	h.sessions.CheckAuth(ctx)
	if !h.sessions.State().Authenticated() {
		return Response{Body: "signed in, but the profile could not be loaded", Code: "LoginFailed"}
	}
	return h.landed(ctx, res.Message)
}

func (h *Handler) landed(ctx context.Context, msg string) Response {
	log, err := h.convs.LoadOrInitialize(ctx, usecase.DefaultConversationID)
	if err != nil {
		return errorResponse(h.logger, err)
	}
	h.setCurrent(log)
	return Response{Body: msg + "\n" + render(log), Redirect: guard.LandingPath}
}

func (h *Handler) open(ctx context.Context, logger *slog.Logger, id string) Response {
	log, err := h.convs.LoadOrInitialize(ctx, id)
	if err != nil {
		return errorResponse(logger, err)
	}
	h.setCurrent(log)
	return Response{Body: render(log)}
}

func (h *Handler) suggest(ctx context.Context, logger *slog.Logger, args []string) Response {
	questions := usecase.Suggestions()
	if len(args) == 0 {
		var b strings.Builder
		for i, q := range questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		return Response{Body: strings.TrimRight(b.String(), "\n")}
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(questions) {
		return usage(fmt.Sprintf("/suggest [1-%d]", len(questions)))
	}
	return h.send(ctx, logger, questions[n-1])
}

func (h *Handler) send(ctx context.Context, logger *slog.Logger, text string) Response {
	current := h.Current()
	if len(current.Messages) == 0 {
		loaded, err := h.convs.LoadOrInitialize(ctx, current.ConversationID)
		if err != nil {
			return errorResponse(logger, err)
		}
		current = loaded
	}

	out, err := h.convs.SendMessage(ctx, usecase.SendInput{
		ConversationID: current.ConversationID,
		Text:           text,
		Current:        current,
		OnOptimistic:   h.setCurrent,
	})
	h.setCurrent(out.Log)
	if err != nil {
		resp := errorResponse(logger, err)
		if usecase.CodeOf(err) == usecase.ErrorUnauthenticated {
			resp.Redirect = guard.SignInPath
		}
		return resp
	}
	return Response{Body: out.Reply}
}

func errorResponse(logger *slog.Logger, err error) Response {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		if ue.Code != usecase.ErrorValidation {
			logger.Info("handler: operation failed", "code", ue.Code, "reason", ue.Reason)
		}
		return Response{Body: ue.Message(), Code: string(ue.Code)}
	}
	logger.Error("handler: unexpected error", "err", err)
	return Response{Body: "Something went wrong. Please try again.", Code: string(usecase.ErrorUnknown)}
}

func usage(form string) Response {
	return Response{Body: "usage: " + form, Code: string(usecase.ErrorValidation)}
}

func render(log domain.ConversationLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", log.ConversationID)
	for _, m := range log.Messages {
		fmt.Fprintf(&b, "\n%s: %s", m.Role, m.Content)
	}
	if usecase.ShowSuggestions(log) {
		b.WriteString("\n(type /suggest for quick questions)")
	}
	return b.String()
}

func describe(id domain.Identity) string {
	name := id.FullName
	if name == "" {
		name = id.Email
	}
	if role := id.RoleName(); role != "" {
		return fmt.Sprintf("%s <%s> (%s)", name, id.Email, role)
	}
	return fmt.Sprintf("%s <%s>", name, id.Email)
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
