package memstore

import (
	"context"
	"sort"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// WaitlistStore is the in-memory waitlist table.
type WaitlistStore struct {
	s *Store
}

// Append adds the entry at the tail of its queue and sets its position.
func (w *WaitlistStore) Append(_ context.Context, entry *models.WaitlistEntry) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	length := 0
	for _, e := range w.s.waitlist {
		if sameQueue(e, *entry) && e.Status == models.WaitlistWaiting {
			length++
		}
	}
	entry.Position = length + 1
	w.s.waitlist[entry.ID] = *entry
	return nil
}

// Get loads an entry by id.
func (w *WaitlistStore) Get(_ context.Context, id string) (*models.WaitlistEntry, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	e, ok := w.s.waitlist[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

// ListWaiting returns waiting entries of a station ordered by queue then position.
func (w *WaitlistStore) ListWaiting(_ context.Context, stationID, connectorType string) ([]models.WaitlistEntry, error) {
	w.s.mu.RLock()
	var out []models.WaitlistEntry
	for _, e := range w.s.waitlist {
		if e.StationID != stationID || e.Status != models.WaitlistWaiting {
			continue
		}
		if connectorType != "" && e.ConnectorType != connectorType {
			continue
		}
		out = append(out, e)
	}
	w.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectorType != out[j].ConnectorType {
			return out[i].ConnectorType < out[j].ConnectorType
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

// Delete removes the entry and closes the gap it leaves in its queue.
func (w *WaitlistStore) Delete(_ context.Context, id string) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	e, ok := w.s.waitlist[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(w.s.waitlist, id)
	if e.Status == models.WaitlistWaiting {
		w.compact(e)
	}
	return nil
}

// ChangeStatus moves the entry between statuses, compacting the queue when it stops waiting.
func (w *WaitlistStore) ChangeStatus(_ context.Context, id string, from, to models.WaitlistStatus) (*models.WaitlistEntry, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	e, ok := w.s.waitlist[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if e.Status != from {
		return nil, repository.ErrStatusMismatch
	}
	removed := e
	e.Status = to
	if to != models.WaitlistWaiting {
		e.Position = 0
	}
	w.s.waitlist[id] = e
	if from == models.WaitlistWaiting && to != models.WaitlistWaiting {
		w.compact(removed)
	}
	return &e, nil
}

// compact shifts every waiting entry behind removed one place forward. Caller holds the lock.
func (w *WaitlistStore) compact(removed models.WaitlistEntry) {
	for id, e := range w.s.waitlist {
		if sameQueue(e, removed) && e.Status == models.WaitlistWaiting && e.Position > removed.Position {
			e.Position--
			w.s.waitlist[id] = e
		}
	}
}

func sameQueue(a, b models.WaitlistEntry) bool {
	return a.StationID == b.StationID && a.ConnectorType == b.ConnectorType
}
