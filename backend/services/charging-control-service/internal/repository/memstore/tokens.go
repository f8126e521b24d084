package memstore

import (
	"context"
	"time"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// AccessTokenStore is the in-memory access token table.
type AccessTokenStore struct {
	s *Store
}

// Create stores a freshly issued token. Raw identifiers are never kept.
func (t *AccessTokenStore) Create(_ context.Context, token *models.AccessToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored := *token
	stored.ID = ""
	stored.URL = ""
	t.s.tokens[token.Hash] = stored
	return nil
}

// GetByHash loads a token by digest.
func (t *AccessTokenStore) GetByHash(_ context.Context, hash string) (*models.AccessToken, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	token, ok := t.s.tokens[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &token, nil
}

// MarkUsed performs the one-way active to used transition for a token that has not expired.
func (t *AccessTokenStore) MarkUsed(_ context.Context, hash string, now time.Time) (*models.AccessToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	token, ok := t.s.tokens[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !token.ValidAt(now) {
		return nil, repository.ErrStatusMismatch
	}
	usedAt := now
	token.Status = models.AccessTokenUsed
	token.UsedAt = &usedAt
	t.s.tokens[hash] = token
	return &token, nil
}

// ExpireBefore flags active tokens whose lifetime ended at or before now.
func (t *AccessTokenStore) ExpireBefore(_ context.Context, now time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var n int64
	for hash, token := range t.s.tokens {
		if token.Status == models.AccessTokenActive && token.ExpiredAt(now) {
			token.Status = models.AccessTokenExpired
			t.s.tokens[hash] = token
			n++
		}
	}
	return n, nil
}
