package service

import (
	"errors"
	"fmt"

	"evcsms/backend/services/charging-control-service/internal/repository"
)

var (
	ErrValidation          = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrResourceBusy        = errors.New("resource busy, try again")
	ErrSlotUnavailable     = errors.New("reservation: slot unavailable")
	ErrReservationConflict = errors.New("reservation: conflicts with another reservation")
	ErrReservationStarted  = errors.New("reservation: already started")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidSessionState = errors.New("session: invalid state for operation")
	ErrTokenInvalid        = errors.New("token: not valid")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeErr translates repository sentinels into the service taxonomy.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	default:
		return err
	}
}
