package api

import (
	"context"
	"errors"
	"net/http"

	"student-assistant/internal/domain"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string               `json:"message"`
	History []domain.ChatMessage `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat sends one user message with the prior history and returns the
// assistant's reply.
func (c *Client) Chat(ctx context.Context, token string, in ChatRequest) (string, error) {
	if in.History == nil {
		in.History = []domain.ChatMessage{}
	}
	var out chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", token, in, &out); err != nil {
		return "", err
	}
	if out.Response == "" {
		return "", errors.New("api: empty response in chat reply")
	}
	return out.Response, nil
}
