package domain

// ChatMessage is the role/content pair sent to the remote chat endpoint as
// history. Timestamps never leave the client.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
