package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiryWorker periodically cancels no-show reservations and expires overdue access tokens.
type ExpiryWorker struct {
	reservations *ReservationService
	tokens       *TokenService
	interval     time.Duration
	threshold    time.Duration
	logger       *zap.Logger
}

// NewExpiryWorker builds worker. tokens may be nil.
func NewExpiryWorker(reservations *ReservationService, tokens *TokenService, interval, threshold time.Duration, logger *zap.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		reservations: reservations,
		tokens:       tokens,
		interval:     interval,
		threshold:    threshold,
		logger:       logger,
	}
}

// Start runs sweeps until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass.
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	if _, err := w.reservations.AutoExpireStale(ctx, w.threshold); err != nil {
		w.logger.Warn("reservation sweep failed", zap.Error(err))
	}
	if w.tokens == nil {
		return
	}
	n, err := w.tokens.ExpireOverdue(ctx)
	if err != nil {
		w.logger.Warn("token sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("expired access tokens", zap.Int64("count", n))
	}
}
