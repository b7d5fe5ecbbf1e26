package registry

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

// ErrJobNotFound is returned by Put when no completed job matches the id.
var ErrJobNotFound = errors.New("no completed job for result")

// ResultStore keeps the payloads of completed jobs. It has no expiry of its
// own: entries are removed together with their job by the Registry.
type ResultStore struct {
	mu       *sync.RWMutex
	payloads map[uuid.UUID]models.Payload
	jobState func(uuid.UUID) (models.JobState, bool)
}

// Put stores the payload for a completed job.
func (s *ResultStore) Put(id uuid.UUID, payload models.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(id, payload)
}

func (s *ResultStore) putLocked(id uuid.UUID, payload models.Payload) error {
	state, ok := s.jobState(id)
	if !ok || state != models.JobStateCompleted {
		return ErrJobNotFound
	}
	s.payloads[id] = slices.Clone(payload)
	return nil
}

// Get returns a copy of the stored result.
func (s *ResultStore) Get(id uuid.UUID) (models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.payloads[id]
	if !ok {
		return models.Result{}, ErrNotFound
	}
	return models.Result{JobID: id, Payload: slices.Clone(payload)}, nil
}

// Delete removes the result and reports whether it existed.
func (s *ResultStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *ResultStore) deleteLocked(id uuid.UUID) bool {
	if _, ok := s.payloads[id]; !ok {
		return false
	}
	delete(s.payloads, id)
	return true
}

// IDs returns the ids of all stored results.
func (s *ResultStore) IDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked()
}

func (s *ResultStore) idsLocked() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.payloads))
	for id := range s.payloads {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}
