package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// tokenGenerator returns an unguessable token identifier. Overridden in tests.
var tokenGenerator = func() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenConfig tunes the access token issuer.
type TokenConfig struct {
	BaseURL    string
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	Now        func() time.Time
}

// Validation is the outcome of checking a token. ReservationID is only set for valid tokens.
type Validation struct {
	Valid         bool       `json:"valid"`
	ReservationID string     `json:"reservation_id,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// TokenService issues and redeems single-use QR access tokens. Only token digests are stored.
type TokenService struct {
	store        AccessTokenStore
	reservations ReservationStore
	out          Outbound
	cfg          TokenConfig
	logger       *zap.Logger
}

// NewTokenService builds service.
func NewTokenService(store AccessTokenStore, reservations ReservationStore, out Outbound, cfg TokenConfig, logger *zap.Logger) *TokenService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 24 * time.Hour
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://example.com/qr"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Now == nil {
		cfg.Now = utcNow
	}
	return &TokenService{store: store, reservations: reservations, out: out, cfg: cfg, logger: logger}
}

// Issue creates an active token for a confirmed reservation. ttlSeconds of 0 selects the default.
func (s *TokenService) Issue(ctx context.Context, reservationID string, ttlSeconds int) (*models.AccessToken, error) {
	if strings.TrimSpace(reservationID) == "" {
		return nil, validationf("reservation_id is required")
	}
	ttl := s.cfg.DefaultTTL
	if ttlSeconds != 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if ttl <= 0 || ttl > s.cfg.MaxTTL {
		return nil, validationf("ttl must be between 1 and %d seconds", int(s.cfg.MaxTTL/time.Second))
	}

	res, err := s.reservations.Get(ctx, reservationID)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	if res.Status != models.ReservationConfirmed {
		return nil, fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, res.Status)
	}

	id, err := tokenGenerator()
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	token := &models.AccessToken{
		ID:            id,
		URL:           s.URLFor(id),
		Hash:          digest(id),
		ReservationID: reservationID,
		Status:        models.AccessTokenActive,
		IssuedAt:      now,
		TTLSeconds:    int(ttl / time.Second),
		ExpiresAt:     now.Add(ttl),
	}
	if err := s.store.Create(ctx, token); err != nil {
		return nil, err
	}

	s.out.emit(ctx, s.logger, events.QRGenerated, reservationID, map[string]interface{}{
		"reservation_id": reservationID,
		"user_id":        res.UserID,
		"url":            token.URL,
		"expires_at":     token.ExpiresAt,
	})
	return token, nil
}

// Validate reports whether the token is active and unexpired. Unknown tokens are reported
// as invalid without an error.
func (s *TokenService) Validate(ctx context.Context, tokenID string) (Validation, error) {
	result, token, err := s.lookup(ctx, tokenID)
	if err != nil || token == nil {
		return result, err
	}
	s.out.emit(ctx, s.logger, events.QRValidated, token.ReservationID, map[string]interface{}{
		"reservation_id": token.ReservationID,
		"valid":          result.Valid,
	})
	return result, nil
}

// Check reports the same result as Validate without announcing it.
func (s *TokenService) Check(ctx context.Context, tokenID string) (Validation, error) {
	result, _, err := s.lookup(ctx, tokenID)
	return result, err
}

func (s *TokenService) lookup(ctx context.Context, tokenID string) (Validation, *models.AccessToken, error) {
	if strings.TrimSpace(tokenID) == "" {
		return Validation{}, nil, nil
	}
	token, err := s.store.GetByHash(ctx, digest(tokenID))
	if errors.Is(err, repository.ErrNotFound) {
		return Validation{}, nil, nil
	}
	if err != nil {
		return Validation{}, nil, err
	}
	if !token.ValidAt(s.cfg.Now()) {
		return Validation{}, token, nil
	}
	expires := token.ExpiresAt
	return Validation{Valid: true, ReservationID: token.ReservationID, ExpiresAt: &expires}, token, nil
}

// MarkUsed redeems the token. Unknown, used and expired tokens all fail with ErrTokenInvalid.
func (s *TokenService) MarkUsed(ctx context.Context, tokenID string) (*models.AccessToken, error) {
	if strings.TrimSpace(tokenID) == "" {
		return nil, ErrTokenInvalid
	}
	token, err := s.store.MarkUsed(ctx, digest(tokenID), s.cfg.Now())
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrStatusMismatch) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ExpireOverdue flags active tokens past their lifetime as expired.
func (s *TokenService) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.store.ExpireBefore(ctx, s.cfg.Now())
}

// URLFor returns the check-in URL encoded into the QR code.
func (s *TokenService) URLFor(tokenID string) string {
	return s.cfg.BaseURL + "/" + tokenID
}

func digest(tokenID string) string {
	sum := blake2b.Sum256([]byte(tokenID))
	return hex.EncodeToString(sum[:])
}
