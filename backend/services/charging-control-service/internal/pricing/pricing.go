package pricing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// ErrNoTariff is returned when neither a stored tariff nor a default is available.
var ErrNoTariff = errors.New("pricing: no tariff configured")

// Rate is the price applied to a charging point.
type Rate struct {
	PerKWh    float64 `json:"per_kwh"`
	PerMinute float64 `json:"per_minute"`
	Currency  string  `json:"currency"`
}

// TariffSource looks up the tariff for a point.
type TariffSource interface {
	ForPoint(ctx context.Context, pointID string) (*models.Tariff, error)
}

// Cache stores resolved rates by point id. Get returns ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, pointID string) (Rate, bool, error)
	Set(ctx context.Context, pointID string, rate Rate) error
}

// Service provides per-point rates with a configured fallback.
type Service struct {
	source   TariffSource
	cache    Cache
	fallback Rate
	logger   *zap.Logger
}

// NewService returns service instance. source and cache may be nil.
func NewService(source TariffSource, cache Cache, fallback Rate, logger *zap.Logger) *Service {
	return &Service{
		source:   source,
		cache:    cache,
		fallback: fallback,
		logger:   logger,
	}
}

// RateForPoint returns the point's rate, the cached one when available, or the fallback.
func (s *Service) RateForPoint(ctx context.Context, pointID string) (Rate, error) {
	if s.cache != nil {
		rate, ok, err := s.cache.Get(ctx, pointID)
		if err != nil {
			s.logger.Warn("tariff cache read failed", zap.String("point_id", pointID), zap.Error(err))
		} else if ok {
			return rate, nil
		}
	}

	if s.source == nil {
		return s.defaultRate()
	}

	tariff, err := s.source.ForPoint(ctx, pointID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("tariff lookup failed, using default", zap.String("point_id", pointID), zap.Error(err))
		}
		return s.defaultRate()
	}

	rate := Rate{
		PerKWh:    tariff.PricePerKWh,
		PerMinute: tariff.PricePerMinute,
		Currency:  tariff.Currency,
	}
	if rate.Currency == "" {
		rate.Currency = s.fallback.Currency
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, pointID, rate); err != nil {
			s.logger.Warn("tariff cache write failed", zap.String("point_id", pointID), zap.Error(err))
		}
	}
	return rate, nil
}

func (s *Service) defaultRate() (Rate, error) {
	if s.fallback.PerKWh <= 0 {
		return Rate{}, ErrNoTariff
	}
	return s.fallback, nil
}
