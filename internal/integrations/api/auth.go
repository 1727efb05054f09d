package api

import (
	"context"
	"net/http"

	"student-assistant/internal/domain"
)

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type,omitempty"`
	User        domain.Identity `json:"user"`
	Message     string          `json:"message,omitempty"`
}

// MessageResponse is the body of endpoints that only acknowledge.
type MessageResponse struct {
	Message string `json:"message"`
}

func (c *Client) SignUp(ctx context.Context, reg domain.Registration) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", "", reg, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}

func (c *Client) LogIn(ctx context.Context, creds domain.Credentials) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", creds, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}

// Me returns the profile bound to token.
func (c *Client) Me(ctx context.Context, token string) (domain.Identity, error) {
	var out domain.Identity
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &out); err != nil {
		return domain.Identity{}, err
	}
	return out, nil
}

// LogOut notifies the service that token is no longer in use.
func (c *Client) LogOut(ctx context.Context, token string) (MessageResponse, error) {
	var out MessageResponse
	if err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil, &out); err != nil {
		return MessageResponse{}, err
	}
	return out, nil
}
