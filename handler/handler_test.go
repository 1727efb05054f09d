package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"student-assistant/internal/domain"
	"student-assistant/internal/guard"
	"student-assistant/internal/session"
	"student-assistant/internal/usecase"
)

type stubSessions struct {
	state      session.State
	signUpRes  session.Result
	logInRes   session.Result
	logOutRes  session.LogoutResult
	checkCalls int
	afterCheck *domain.Identity
	lastCreds  domain.Credentials
	lastReg    domain.Registration
}

func (s *stubSessions) State() session.State { return s.state }

func (s *stubSessions) CheckAuth(context.Context) {
	s.checkCalls++
	s.state = session.State{Phase: session.PhaseIdle, Identity: s.afterCheck}
}

func (s *stubSessions) SignUp(_ context.Context, reg domain.Registration) session.Result {
	s.lastReg = reg
	return s.signUpRes
}

func (s *stubSessions) LogIn(_ context.Context, creds domain.Credentials) session.Result {
	s.lastCreds = creds
	return s.logInRes
}

func (s *stubSessions) LogOut(context.Context) session.LogoutResult {
	s.state.Identity = nil
	return s.logOutRes
}

type stubConversations struct {
	sendOut   usecase.SendOutput
	sendErr   error
	sendIn    usecase.SendInput
	sendCalls int
	log       domain.ConversationLog
	err       error
	ids       []string
	deleted   []string
	exported  string
}

func (s *stubConversations) SendMessage(_ context.Context, in usecase.SendInput) (usecase.SendOutput, error) {
	s.sendCalls++
	s.sendIn = in
	if s.sendErr != nil {
		return usecase.SendOutput{Log: in.Current}, s.sendErr
	}
	return s.sendOut, nil
}

func (s *stubConversations) LoadOrInitialize(_ context.Context, id string) (domain.ConversationLog, error) {
	out := s.log
	out.ConversationID = id
	return out, s.err
}

func (s *stubConversations) ResetConversation(_ context.Context, id string) (domain.ConversationLog, error) {
	return s.LoadOrInitialize(context.Background(), id)
}

func (s *stubConversations) StartConversation(context.Context) (domain.ConversationLog, error) {
	return s.LoadOrInitialize(context.Background(), "fresh")
}

func (s *stubConversations) ExportJSON(_ context.Context, id string) ([]byte, error) {
	s.exported = id
	return []byte(`{"conversationId":"` + id + `"}`), s.err
}

func (s *stubConversations) ComputeStatistics(context.Context, string) (usecase.Statistics, error) {
	return usecase.Statistics{TotalMessages: 3, UserMessageCount: 1, AssistantMessageCount: 2, AverageContentLength: 4}, s.err
}

func (s *stubConversations) ListConversationIDs(context.Context) ([]string, error) {
	return s.ids, s.err
}

func (s *stubConversations) DeleteConversation(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return s.err
}

var (
	student  = &domain.Identity{Email: "ada@example.com", FullName: "Ada Obi", Role: "student"}
	signedIn = session.State{Phase: session.PhaseIdle, Identity: student}
	greeting = domain.ConversationLog{Messages: []domain.Message{{Role: domain.RoleAssistant, Content: usecase.DefaultGreeting}}}
)

func newTestHandler(t *testing.T, s *stubSessions, c *stubConversations) *Handler {
	t.Helper()
	orig := newCorrelationID
	newCorrelationID = func() string { return "corr-1" }
	t.Cleanup(func() { newCorrelationID = orig })

	h, err := NewHandler(s, c, nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubConversations{}, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubSessions{}, nil, nil)
	require.Error(t, err)
}

// ---- Chat ----

func TestHandle_SendsPlainText(t *testing.T) {
	convs := &stubConversations{log: greeting}
	convs.sendOut = usecase.SendOutput{
		Log:   greeting.Append(domain.Message{Role: domain.RoleUser, Content: "hi"}).Append(domain.Message{Role: domain.RoleAssistant, Content: "hello"}),
		Reply: "hello",
	}
	h := newTestHandler(t, &stubSessions{state: signedIn}, convs)

	resp := h.Handle(context.Background(), "  hi  ")
	require.Empty(t, resp.Code)
	require.Equal(t, "hello", resp.Body)
	require.Equal(t, "corr-1", resp.CorrelationID)
	require.Equal(t, "hi", convs.sendIn.Text)
	require.Equal(t, usecase.DefaultConversationID, convs.sendIn.ConversationID)
	require.Len(t, convs.sendIn.Current.Messages, 1, "the greeting is loaded before the first send")
	require.Len(t, h.Current().Messages, 3)
}

func TestHandle_ChatRequiresSignIn(t *testing.T) {
	convs := &stubConversations{}
	cases := []struct {
		name  string
		state session.State
		body  string
		redir string
	}{
		{"pending", session.State{Phase: session.PhaseChecking}, "checking your session, try again in a moment", ""},
		{"anonymous", session.State{Phase: session.PhaseIdle}, "please sign in: /login <email> <password>", guard.SignInPath},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubSessions{state: tc.state}, convs)
			resp := h.Handle(context.Background(), "hi")
			require.Equal(t, tc.body, resp.Body)
			require.Equal(t, tc.redir, resp.Redirect)
			require.Zero(t, convs.sendCalls)
		})
	}
}

func TestHandle_MapsSendErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		code  string
		body  string
		redir string
	}{
		{name: "validation", err: &usecase.Error{Code: usecase.ErrorValidation, Reason: "empty_message"}, code: "ValidationError", body: "Message cannot be empty"},
		{name: "unauthenticated", err: &usecase.Error{Code: usecase.ErrorUnauthenticated, Reason: "chat_unauthorized"}, code: "Unauthenticated", body: "Session expired. Please log in again.", redir: guard.SignInPath},
		{name: "server", err: &usecase.Error{Code: usecase.ErrorServer, Reason: "chat_server_error"}, code: "ServerError", body: "Server error. Please try again later."},
		{name: "busy", err: &usecase.Error{Code: usecase.ErrorConversationBusy, Reason: "send_in_flight"}, code: "ConversationBusy", body: "Please wait for the current reply."},
		{name: "unexpected", err: errors.New("boom"), code: "UnknownError", body: "Something went wrong. Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			convs := &stubConversations{log: greeting, sendErr: tc.err}
			h := newTestHandler(t, &stubSessions{state: signedIn}, convs)

			resp := h.Handle(context.Background(), "hello")
			require.Equal(t, tc.code, resp.Code)
			require.Equal(t, tc.body, resp.Body)
			require.Equal(t, tc.redir, resp.Redirect)
			require.Len(t, h.Current().Messages, 1, "rolled back to the greeting")
		})
	}
}

func TestHandle_SuggestAsksQuestion(t *testing.T) {
	convs := &stubConversations{log: greeting, sendOut: usecase.SendOutput{Log: greeting, Reply: "ok"}}
	h := newTestHandler(t, &stubSessions{state: signedIn}, convs)

	list := h.Handle(context.Background(), "/suggest")
	require.Contains(t, list.Body, "1. What are the admission requirements?")
	require.Zero(t, convs.sendCalls)

	resp := h.Handle(context.Background(), "/suggest 1")
	require.Equal(t, "ok", resp.Body)
	require.Equal(t, "What are the admission requirements?", convs.sendIn.Text)

	bad := h.Handle(context.Background(), "/suggest 9")
	require.Equal(t, "ValidationError", bad.Code)
}

// ---- Session ----

func TestHandle_LogInChecksAuthAndLands(t *testing.T) {
	sessions := &stubSessions{
		state:      session.State{Phase: session.PhaseIdle},
		logInRes:   session.Result{Success: true, Message: "Login successful"},
		afterCheck: student,
	}
	h := newTestHandler(t, sessions, &stubConversations{log: greeting})

	resp := h.Handle(context.Background(), "/login ada@example.com secret")
	require.Empty(t, resp.Code)
	require.Equal(t, guard.LandingPath, resp.Redirect)
	require.Contains(t, resp.Body, "Login successful")
	require.Contains(t, resp.Body, usecase.DefaultGreeting)
	require.Equal(t, domain.Credentials{Email: "ada@example.com", Password: "secret"}, sessions.lastCreds)
	require.Equal(t, 1, sessions.checkCalls)
}

func TestHandle_LogInFailure(t *testing.T) {
	sessions := &stubSessions{
		state:    session.State{Phase: session.PhaseIdle},
		logInRes: session.Result{Message: "Incorrect email or password"},
	}
	h := newTestHandler(t, sessions, &stubConversations{})

	resp := h.Handle(context.Background(), "/login ada@example.com wrong")
	require.Equal(t, "LoginFailed", resp.Code)
	require.Equal(t, "Incorrect email or password", resp.Body)
	require.Zero(t, sessions.checkCalls)

	require.Equal(t, "ValidationError", h.Handle(context.Background(), "/login only-email").Code)
}

func TestHandle_LogInWhileSignedInRedirects(t *testing.T) {
	h := newTestHandler(t, &stubSessions{state: signedIn}, &stubConversations{})
	resp := h.Handle(context.Background(), "/login a b")
	require.Equal(t, guard.LandingPath, resp.Redirect)
}

func TestHandle_SignUp(t *testing.T) {
	sessions := &stubSessions{
		state:     session.State{Phase: session.PhaseIdle},
		signUpRes: session.Result{Success: true, Message: "Signup successful"},
	}
	h := newTestHandler(t, sessions, &stubConversations{log: greeting})

	resp := h.Handle(context.Background(), "/signup ada@example.com secret Ada Obi")
	require.Empty(t, resp.Code)
	require.Equal(t, guard.LandingPath, resp.Redirect)
	require.Equal(t, "Ada Obi", sessions.lastReg.FullName)
}

func TestHandle_LogOut(t *testing.T) {
	sessions := &stubSessions{state: signedIn, logOutRes: session.LogoutResult{Message: "Logout failed!"}}
	h := newTestHandler(t, sessions, &stubConversations{})

	resp := h.Handle(context.Background(), "/logout")
	require.Equal(t, "LogoutFailed", resp.Code)
	require.Equal(t, guard.SignInPath, resp.Redirect)
	require.Nil(t, sessions.state.Identity)
	require.Equal(t, "not signed in", h.Handle(context.Background(), "/whoami").Body)
}

func TestHandle_WhoAmI(t *testing.T) {
	h := newTestHandler(t, &stubSessions{state: signedIn}, &stubConversations{})
	require.Equal(t, "Ada Obi <ada@example.com> (student)", h.Handle(context.Background(), "/whoami").Body)
}

// ---- Conversations ----

func TestHandle_ConversationCommands(t *testing.T) {
	convs := &stubConversations{log: greeting, ids: []string{"a", "default"}}
	h := newTestHandler(t, &stubSessions{state: signedIn}, convs)
	ctx := context.Background()

	resp := h.Handle(ctx, "/new")
	require.Contains(t, resp.Body, "[fresh]")
	require.Equal(t, "fresh", h.Current().ConversationID)

	resp = h.Handle(ctx, "/export")
	require.Equal(t, `{"conversationId":"fresh"}`, resp.Body)

	resp = h.Handle(ctx, "/stats")
	require.Contains(t, resp.Body, "messages: 3 (user 1, assistant 2)")

	resp = h.Handle(ctx, "/list")
	require.Equal(t, "a\ndefault", resp.Body)

	resp = h.Handle(ctx, "/delete fresh")
	require.Equal(t, "deleted fresh", resp.Body)
	require.Equal(t, usecase.DefaultConversationID, h.Current().ConversationID)

	resp = h.Handle(ctx, "/open a")
	require.Equal(t, "a", h.Current().ConversationID)

	resp = h.Handle(ctx, "/reset")
	require.Contains(t, resp.Body, usecase.DefaultGreeting)

	require.Equal(t, "ValidationError", h.Handle(ctx, "/bogus").Code)
	require.True(t, h.Handle(ctx, "/quit").Quit)
}

func TestHandle_StorageErrorsSurface(t *testing.T) {
	convs := &stubConversations{err: &usecase.Error{Code: usecase.ErrorStorage, Reason: "history_list_error"}}
	h := newTestHandler(t, &stubSessions{state: signedIn}, convs)

	resp := h.Handle(context.Background(), "/list")
	require.Equal(t, "StorageError", resp.Code)
}

func TestHandle_ConversationCommandsRequireSignIn(t *testing.T) {
	convs := &stubConversations{}
	h := newTestHandler(t, &stubSessions{state: session.State{Phase: session.PhaseIdle}}, convs)

	resp := h.Handle(context.Background(), "/delete a")
	require.Equal(t, guard.SignInPath, resp.Redirect)
	require.Empty(t, convs.deleted)
}
