package domain

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a conversation log. Messages are never
// edited once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationLog is the ordered message history of one conversation.
type ConversationLog struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// Clone returns a copy whose message slice does not alias the receiver's.
func (l ConversationLog) Clone() ConversationLog {
	msgs := make([]Message, len(l.Messages))
	copy(msgs, l.Messages)
	return ConversationLog{ConversationID: l.ConversationID, Messages: msgs}
}

// Append returns a copy of the log with msg added at the end.
func (l ConversationLog) Append(msg Message) ConversationLog {
	out := l.Clone()
	out.Messages = append(out.Messages, msg)
	return out
}

// ChatHistory reduces the log to the role/content pairs accepted by the
// remote chat endpoint.
func (l ConversationLog) ChatHistory() []ChatMessage {
	history := make([]ChatMessage, 0, len(l.Messages))
	for _, m := range l.Messages {
		history = append(history, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return history
}
