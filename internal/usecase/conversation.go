package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"student-assistant/internal/domain"
	"student-assistant/internal/integrations/api"
	"student-assistant/internal/observability"
	"student-assistant/internal/repository"
)

const (
	DefaultConversationID = "default"
	DefaultGreeting       = "Hello! I'm your Federal Polytechnic Ado-Ekiti assistant. How can I help you today?"

	historyKeyPrefix = "chat_history_"
	outcomeSuccess   = "success"
)

// ChatClient is the remote chat endpoint.
type ChatClient interface {
	Chat(ctx context.Context, token string, in api.ChatRequest) (string, error)
}

// TokenSource yields the bearer token for chat requests; "" means the
// visitor holds no credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Manager owns the conversation logs: it seeds, persists and exports them,
// and drives the request/response exchange with the remote assistant.
//
// At most one send may be in flight per conversation id. A second send for
// the same id fails with ErrorConversationBusy instead of racing the first
// one to persistence.
type Manager struct {
	store    repository.Store
	chat     ChatClient
	tokens   TokenSource
	greeting string
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

type Option func(*Manager)

func WithGreeting(greeting string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(greeting) != "" {
			m.greeting = greeting
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func NewManager(store repository.Store, chat ChatClient, tokens TokenSource, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if chat == nil {
		return nil, errors.New("usecase: chat client must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("usecase: token source must not be nil")
	}
	m := &Manager{
		store:    store,
		chat:     chat,
		tokens:   tokens,
		greeting: DefaultGreeting,
		logger:   slog.Default(),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendInput is one user turn. Current is the committed log the caller is
// displaying; OnOptimistic, if set, receives the working copy with the user
// message appended before the request goes out.
type SendInput struct {
	ConversationID string
	Text           string
	Current        domain.ConversationLog
	OnOptimistic   func(domain.ConversationLog)
}

// SendOutput carries the log the caller should display: the committed log
// on success, Current unchanged on failure.
type SendOutput struct {
	Log   domain.ConversationLog
	Reply string
}

// SendMessage validates the text, sends it with the reduced history and, only
// once the assistant has replied, persists the log with both new messages.
// A failure persists nothing.
func (m *Manager) SendMessage(ctx context.Context, in SendInput) (SendOutput, error) {
	convID := normalizeID(in.ConversationID)
	current := in.Current.Clone()
	current.ConversationID = convID
	rollback := SendOutput{Log: current}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return rollback, m.fail(newError(ErrorValidation, "empty_message", nil), 0)
	}

	if !m.acquire(convID) {
		return rollback, m.fail(newError(ErrorConversationBusy, "send_in_flight", nil), 0)
	}
	defer m.release(convID)

	token, err := m.tokens.Token(ctx)
	if err != nil {
		return rollback, m.fail(newError(ErrorStorage, "token_read_error", err), 0)
	}
	if token == "" {
		return rollback, m.fail(newError(ErrorUnauthenticated, "missing_token", nil), 0)
	}

	working := current.Append(domain.Message{Role: domain.RoleUser, Content: text, Timestamp: now()})
	if in.OnOptimistic != nil {
		in.OnOptimistic(working.Clone())
	}

	start := time.Now()
	reply, err := m.chat.Chat(ctx, token, api.ChatRequest{
		Message: text,
		History: current.ChatHistory(),
	})
	elapsed := time.Since(start)
	if err != nil {
		return rollback, m.fail(classifyRemote(err), elapsed)
	}

	committed := working.Append(domain.Message{Role: domain.RoleAssistant, Content: reply, Timestamp: now()})
	if err := m.save(ctx, committed); err != nil {
		return rollback, m.fail(newError(ErrorStorage, "history_write_error", err), elapsed)
	}

	m.metrics.ObserveChat(outcomeSuccess, elapsed)
	return SendOutput{Log: committed, Reply: reply}, nil
}

func (m *Manager) fail(err *Error, elapsed time.Duration) *Error {
	m.metrics.ObserveChat(string(err.Code), elapsed)
	if err.Code == ErrorValidation {
		return err
	}
	m.logger.Warn("usecase: send failed", "code", err.Code, "reason", err.Reason, "err", err.Err)
	return err
}

func (m *Manager) acquire(convID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[convID]; busy {
		return false
	}
	m.inflight[convID] = struct{}{}
	return true
}

func (m *Manager) release(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, convID)
}

// LoadOrInitialize returns the persisted log, seeding and persisting a
// greeting-only log when none exists. Without an intervening send it returns
// the same log every time.
func (m *Manager) LoadOrInitialize(ctx context.Context, conversationID string) (domain.ConversationLog, error) {
	convID := normalizeID(conversationID)
	log, err := m.load(ctx, convID)
	if err != nil {
		return domain.ConversationLog{}, err
	}
	if len(log.Messages) > 0 {
		return log, nil
	}
	return m.seed(ctx, convID)
}

// ResetConversation discards the log and seeds it again.
func (m *Manager) ResetConversation(ctx context.Context, conversationID string) (domain.ConversationLog, error) {
	return m.seed(ctx, normalizeID(conversationID))
}

// StartConversation seeds a conversation under a fresh id.
func (m *Manager) StartConversation(ctx context.Context) (domain.ConversationLog, error) {
	return m.seed(ctx, newConversationID())
}

func (m *Manager) seed(ctx context.Context, convID string) (domain.ConversationLog, error) {
	log := domain.ConversationLog{
		ConversationID: convID,
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: m.greeting, Timestamp: now()},
		},
	}
	if err := m.save(ctx, log); err != nil {
		return domain.ConversationLog{}, newError(ErrorStorage, "history_write_error", err)
	}
	return log, nil
}

// ListConversationIDs returns the ids of every persisted conversation.
func (m *Manager) ListConversationIDs(ctx context.Context) ([]string, error) {
	keys, err := m.store.Keys(ctx, historyKeyPrefix)
	if err != nil {
		return nil, newError(ErrorStorage, "history_list_error", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, historyKeyPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteConversation removes the persisted log. Deleting an unknown id is
// not an error.
func (m *Manager) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := m.store.Delete(ctx, historyKey(normalizeID(conversationID))); err != nil {
		return newError(ErrorStorage, "history_delete_error", err)
	}
	return nil
}

func historyKey(convID string) string {
	return historyKeyPrefix + convID
}

func normalizeID(conversationID string) string {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return DefaultConversationID
	}
	return id
}

// load reads the persisted log; a missing entry is an empty log. Entries
// written as a bare message array are accepted too.
func (m *Manager) load(ctx context.Context, convID string) (domain.ConversationLog, error) {
	empty := domain.ConversationLog{ConversationID: convID, Messages: []domain.Message{}}
	raw, err := m.store.Get(ctx, historyKey(convID))
	if errors.Is(err, repository.ErrNotFound) {
		return empty, nil
	}
	if err != nil {
		return domain.ConversationLog{}, newError(ErrorStorage, "history_read_error", err)
	}

	log, err := decodeLog(raw)
	if err != nil {
		m.logger.Warn("usecase: discarding unreadable history", "conversation_id", convID, "err", err)
		return empty, nil
	}
	log.ConversationID = convID
	if log.Messages == nil {
		log.Messages = []domain.Message{}
	}
	return log, nil
}

func decodeLog(raw []byte) (domain.ConversationLog, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var msgs []domain.Message
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return domain.ConversationLog{}, fmt.Errorf("usecase: decode history: %w", err)
		}
		return domain.ConversationLog{Messages: msgs}, nil
	}
	var log domain.ConversationLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return domain.ConversationLog{}, fmt.Errorf("usecase: decode history: %w", err)
	}
	return log, nil
}

func (m *Manager) save(ctx context.Context, log domain.ConversationLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("usecase: encode history: %w", err)
	}
	return m.store.Set(ctx, historyKey(log.ConversationID), raw)
}

var now = func() time.Time {
	return time.Now().UTC()
}

var newConversationID = func() string {
	return uuid.NewString()
}
