// Package memstore keeps every aggregate in process memory for single-instance
// deployments and tests. All views share one lock so cross-aggregate reads stay consistent.
package memstore

import (
	"errors"
	"sort"
	"sync"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// Store holds all state.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]models.Reservation
	waitlist     map[string]models.WaitlistEntry
	tokens       map[string]models.AccessToken
	sessions     map[string]*models.Session
	events       map[string][]models.SessionEvent
	telemetry    map[string][]models.TelemetryReading
	tariffs      map[string]models.Tariff
	nextID       int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		reservations: make(map[string]models.Reservation),
		waitlist:     make(map[string]models.WaitlistEntry),
		tokens:       make(map[string]models.AccessToken),
		sessions:     make(map[string]*models.Session),
		events:       make(map[string][]models.SessionEvent),
		telemetry:    make(map[string][]models.TelemetryReading),
		tariffs:      make(map[string]models.Tariff),
	}
}

// Reservations returns the reservation view.
func (s *Store) Reservations() *ReservationStore { return &ReservationStore{s: s} }

// Waitlist returns the waitlist view.
func (s *Store) Waitlist() *WaitlistStore { return &WaitlistStore{s: s} }

// AccessTokens returns the access token view.
func (s *Store) AccessTokens() *AccessTokenStore { return &AccessTokenStore{s: s} }

// Sessions returns the session view.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

// Telemetry returns the telemetry view.
func (s *Store) Telemetry() *TelemetryStore { return &TelemetryStore{s: s} }

// Tariffs returns the tariff view.
func (s *Store) Tariffs() *TariffStore { return &TariffStore{s: s} }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// hasSession reports whether a session is bound to the reservation, optionally counting only
// live ones. Caller holds the lock.
func (s *Store) hasSession(reservationID string, liveOnly bool) bool {
	for _, sess := range s.sessions {
		if sess.ReservationID == nil || *sess.ReservationID != reservationID {
			continue
		}
		if !liveOnly || !sess.Status.Terminal() {
			return true
		}
	}
	return false
}

// applyUpdate runs fn on a copy and reports whether the copy should be written.
func applyUpdate(fn func() error) (bool, error) {
	if err := fn(); err != nil {
		if errors.Is(err, repository.ErrNoChange) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func sortReservations(list []models.Reservation, less func(a, b models.Reservation) bool) {
	sort.Slice(list, func(i, j int) bool { return less(list[i], list[j]) })
}
