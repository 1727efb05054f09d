package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"student-assistant/internal/domain"
)

// Export is a serializable snapshot of one conversation.
type Export struct {
	ConversationID string           `json:"conversationId"`
	ExportedAt     time.Time        `json:"exportedAt"`
	Messages       []domain.Message `json:"messages"`
}

// Statistics summarizes a conversation log. Timestamps are nil for an
// empty log.
type Statistics struct {
	TotalMessages         int        `json:"totalMessages"`
	UserMessageCount      int        `json:"userMessageCount"`
	AssistantMessageCount int        `json:"assistantMessageCount"`
	AverageContentLength  float64    `json:"averageContentLength"`
	FirstTimestamp        *time.Time `json:"firstTimestamp"`
	LastTimestamp         *time.Time `json:"lastTimestamp"`
}

// ExportConversation snapshots the persisted log without changing it.
func (m *Manager) ExportConversation(ctx context.Context, conversationID string) (Export, error) {
	convID := normalizeID(conversationID)
	log, err := m.load(ctx, convID)
	if err != nil {
		return Export{}, err
	}
	return Export{ConversationID: convID, ExportedAt: now(), Messages: log.Messages}, nil
}

// ExportJSON renders ExportConversation as indented JSON.
func (m *Manager) ExportJSON(ctx context.Context, conversationID string) ([]byte, error) {
	snap, err := m.ExportConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("usecase: encode export: %w", err)
	}
	return out, nil
}

// ComputeStatistics summarizes the persisted log.
func (m *Manager) ComputeStatistics(ctx context.Context, conversationID string) (Statistics, error) {
	log, err := m.load(ctx, normalizeID(conversationID))
	if err != nil {
		return Statistics{}, err
	}
	return Summarize(log), nil
}

// Summarize computes Statistics for log. Lengths are counted in characters.
func Summarize(log domain.ConversationLog) Statistics {
	var st Statistics
	st.TotalMessages = len(log.Messages)
	if st.TotalMessages == 0 {
		return st
	}

	total := 0
	for _, msg := range log.Messages {
		switch msg.Role {
		case domain.RoleUser:
			st.UserMessageCount++
		case domain.RoleAssistant:
			st.AssistantMessageCount++
		}
		total += utf8.RuneCountInString(msg.Content)
	}
	st.AverageContentLength = float64(total) / float64(st.TotalMessages)

	first := log.Messages[0].Timestamp
	last := log.Messages[len(log.Messages)-1].Timestamp
	st.FirstTimestamp = &first
	st.LastTimestamp = &last
	return st
}

var suggestions = []string{
	"What are the admission requirements?",
	"How much is the tuition fee?",
	"When is the resumption date?",
	"How do I register for courses?",
	"What programs are available?",
	"How do I pay my fees?",
	"Where is the student dashboard?",
	"What is the application deadline?",
}

// Suggestions returns the quick questions offered on a fresh conversation.
func Suggestions() []string {
	return append([]string(nil), suggestions...)
}

// ShowSuggestions reports whether log is still at its greeting, the point
// at which quick questions are offered.
func ShowSuggestions(log domain.ConversationLog) bool {
	return len(log.Messages) <= 1
}
