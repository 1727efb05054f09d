package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"student-assistant/internal/domain"
	"student-assistant/internal/repository"
)

const (
	keyToken   = "token"
	keyProfile = "user"
)

// CredentialStore keeps the bearer token and the last known profile in two
// slots of the persistence store. The cached profile is for display only;
// the session identity is always re-derived through CheckAuth.
type CredentialStore struct {
	store repository.Store
}

func NewCredentialStore(store repository.Store) (*CredentialStore, error) {
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	return &CredentialStore{store: store}, nil
}

// Token returns the stored token, or "" when none is stored.
func (c *CredentialStore) Token(ctx context.Context) (string, error) {
	raw, err := c.store.Get(ctx, keyToken)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: read token: %w", err)
	}
	return string(raw), nil
}

// Profile returns the cached profile, or nil when none is stored.
func (c *CredentialStore) Profile(ctx context.Context) (*domain.Identity, error) {
	raw, err := c.store.Get(ctx, keyProfile)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read profile: %w", err)
	}
	var id domain.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("session: decode profile: %w", err)
	}
	return &id, nil
}

// Save stores token and profile together.
func (c *CredentialStore) Save(ctx context.Context, token string, profile domain.Identity) error {
	if token == "" {
		return errors.New("session: token must not be empty")
	}
	if err := c.store.Set(ctx, keyToken, []byte(token)); err != nil {
		return fmt.Errorf("session: write token: %w", err)
	}
	return c.SaveProfile(ctx, profile)
}

func (c *CredentialStore) SaveProfile(ctx context.Context, profile domain.Identity) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("session: encode profile: %w", err)
	}
	if err := c.store.Set(ctx, keyProfile, raw); err != nil {
		return fmt.Errorf("session: write profile: %w", err)
	}
	return nil
}

// Clear removes both slots. Both deletes are attempted even if one fails.
func (c *CredentialStore) Clear(ctx context.Context) error {
	return errors.Join(
		c.store.Delete(ctx, keyToken),
		c.store.Delete(ctx, keyProfile),
	)
}
