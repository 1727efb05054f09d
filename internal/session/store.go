package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"student-assistant/internal/domain"
	"student-assistant/internal/integrations/api"
	"student-assistant/internal/observability"
)

// Phase is the single in-flight operation of a Store, if any.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseSigningUp
	PhaseLoggingIn
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseSigningUp:
		return "signing_up"
	case PhaseLoggingIn:
		return "logging_in"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of the session. Identity is nil while nobody is
// authenticated.
type State struct {
	Phase    Phase
	Identity *domain.Identity
}

func (s State) Checking() bool      { return s.Phase == PhaseChecking }
func (s State) Authenticated() bool { return s.Identity != nil }

// AuthAPI is the remote auth surface consumed by Store.
type AuthAPI interface {
	SignUp(ctx context.Context, reg domain.Registration) (api.AuthResponse, error)
	LogIn(ctx context.Context, creds domain.Credentials) (api.AuthResponse, error)
	Me(ctx context.Context, token string) (domain.Identity, error)
	LogOut(ctx context.Context, token string) (api.MessageResponse, error)
}

// Result is the envelope returned by SignUp and LogIn.
type Result struct {
	Success bool
	Data    *api.AuthResponse
	Message string
}

// LogoutResult reports the remote logout call. Status is the HTTP status,
// or 0 when the request never got one.
type LogoutResult struct {
	Success bool
	Status  int
	Message string
}

const msgBusy = "another authentication request is in progress"

// Store is the source of truth for whether the visitor is authenticated.
// State changes only through CheckAuth, SignUp, LogIn and LogOut.
type Store struct {
	api     AuthAPI
	creds   *CredentialStore
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	state   State
	running bool
	subs    map[int]func(State)
	nextSub int
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore returns a Store in the Checking phase: nothing is known about the
// visitor until the first CheckAuth settles.
func NewStore(authAPI AuthAPI, creds *CredentialStore, opts ...Option) (*Store, error) {
	if authAPI == nil {
		return nil, errors.New("session: auth api must not be nil")
	}
	if creds == nil {
		return nil, errors.New("session: credential store must not be nil")
	}
	s := &Store{
		api:    authAPI,
		creds:  creds,
		logger: slog.Default(),
		state:  State{Phase: PhaseChecking},
		subs:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every new state. The returned func
// removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// begin enters phase unless another operation is running.
func (s *Store) begin(phase Phase) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.state.Phase = phase
	st, subs := s.state, s.subscribers()
	s.mu.Unlock()
	notify(subs, st)
	return true
}

// finish returns to idle, applying update to the state first.
func (s *Store) finish(update func(*State)) {
	s.mu.Lock()
	if update != nil {
		update(&s.state)
	}
	s.state.Phase = PhaseIdle
	s.running = false
	st, subs := s.state, s.subscribers()
	s.mu.Unlock()
	s.metrics.SetAuthenticated(st.Identity != nil)
	notify(subs, st)
}

func (s *Store) subscribers() []func(State) {
	out := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}

func setIdentity(id *domain.Identity) func(*State) {
	return func(st *State) { st.Identity = id }
}

// CheckAuth re-derives the identity from the stored token. Every failure
// clears the identity and is logged; nothing is returned to the caller.
func (s *Store) CheckAuth(ctx context.Context) {
	if !s.begin(PhaseChecking) {
		s.logger.Debug("session: check skipped, operation in progress")
		return
	}

	var identity *domain.Identity
	defer func() {
		s.metrics.ObserveAuth("check", identity != nil)
		s.finish(setIdentity(identity))
	}()

	token, err := s.creds.Token(ctx)
	if err != nil {
		s.logger.Warn("session: check failed", "err", err)
		return
	}
	if token == "" {
		return
	}

	profile, err := s.api.Me(ctx, token)
	if err != nil {
		s.logger.Warn("session: check failed", "err", err)
		return
	}
	if err := s.creds.SaveProfile(ctx, profile); err != nil {
		s.logger.Warn("session: cache profile", "err", err)
	}
	identity = &profile
}

// SignUp registers a new account. On success the identity is set from the
// response and the token is stored. A failure leaves the identity as is.
func (s *Store) SignUp(ctx context.Context, reg domain.Registration) Result {
	if !s.begin(PhaseSigningUp) {
		return Result{Message: msgBusy}
	}

	var identity *domain.Identity
	defer func() {
		s.metrics.ObserveAuth("signup", identity != nil)
		if identity != nil {
			s.finish(setIdentity(identity))
			return
		}
		s.finish(nil)
	}()

	out, err := s.api.SignUp(ctx, reg)
	if err != nil {
		s.logger.Info("session: signup failed", "err", err)
		return Result{Message: failureMessage(err, "Signup failed")}
	}
	if err := s.creds.Save(ctx, out.AccessToken, out.User); err != nil {
		s.logger.Warn("session: store credentials", "err", err)
	}
	user := out.User
	identity = &user
	return Result{Success: true, Data: &out, Message: successMessage(out.Message, "Signup successful")}
}

// LogIn exchanges credentials for a token. The identity is not touched; the
// caller refreshes it with CheckAuth.
func (s *Store) LogIn(ctx context.Context, creds domain.Credentials) Result {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return Result{Message: "Email and password are required"}
	}
	if !s.begin(PhaseLoggingIn) {
		return Result{Message: msgBusy}
	}

	success := false
	defer func() {
		s.metrics.ObserveAuth("login", success)
		s.finish(nil)
	}()

	out, err := s.api.LogIn(ctx, creds)
	if err != nil {
		s.logger.Info("session: login failed", "err", err)
		return Result{Message: failureMessage(err, "An unexpected error occurred.")}
	}
	if err := s.creds.Save(ctx, out.AccessToken, out.User); err != nil {
		s.logger.Warn("session: store credentials", "err", err)
	}
	success = true
	return Result{Success: true, Data: &out, Message: successMessage(out.Message, "Login successful")}
}

// LogOut notifies the service on a best-effort basis, then clears the
// identity and both credential slots whatever the outcome.
func (s *Store) LogOut(ctx context.Context) (res LogoutResult) {
	defer func() {
		if err := s.creds.Clear(ctx); err != nil {
			s.logger.Warn("session: clear credentials", "err", err)
		}
		s.mu.Lock()
		s.state.Identity = nil
		st, subs := s.state, s.subscribers()
		s.mu.Unlock()
		s.metrics.ObserveAuth("logout", res.Success)
		s.metrics.SetAuthenticated(false)
		notify(subs, st)
	}()

	token, err := s.creds.Token(ctx)
	if err != nil {
		s.logger.Warn("session: logout read token", "err", err)
	}
	if token == "" {
		return LogoutResult{Success: true, Message: "Logout successful"}
	}

	out, err := s.api.LogOut(ctx, token)
	if err != nil {
		s.logger.Warn("session: logout failed", "err", err)
		status := 0
		var statusErr *api.HTTPStatusError
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		msg := api.Detail(err)
		if msg == "" {
			msg = "Logout failed!"
		}
		return LogoutResult{Status: status, Message: msg}
	}
	return LogoutResult{Success: true, Status: http.StatusOK, Message: successMessage(out.Message, "Logout successful")}
}

// failureMessage picks the most specific text available: the service's
// message, then the transport error, then fallback.
func failureMessage(err error, fallback string) string {
	if detail := api.Detail(err); detail != "" {
		return detail
	}
	var statusErr *api.HTTPStatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("Request failed with status code %d", statusErr.StatusCode)
	}
	var transportErr *api.TransportError
	if errors.As(err, &transportErr) && transportErr.Err != nil {
		return transportErr.Err.Error()
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

func successMessage(msg, fallback string) string {
	if strings.TrimSpace(msg) != "" {
		return msg
	}
	return fallback
}
