package waitlist

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound = errors.New("waitlist entry not found")
	ErrMatchNotFound = errors.New("slot match not found")
	ErrEntryConflict = errors.New("waitlist entry was changed concurrently")
)

// Repository is the storage the engine runs against.
type Repository interface {
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	// PutEntry stores a new entry at version 1.
	PutEntry(ctx context.Context, e *Entry) error
	// UpdateEntry writes e only while the stored version equals e.Version and
	// advances e.Version on success. Otherwise it returns ErrEntryConflict.
	UpdateEntry(ctx context.Context, e *Entry) error
	// UpdateScores refreshes wait hours and score of an ACTIVE or NOTIFIED
	// entry without touching its status or version. Other entries are skipped.
	UpdateScores(ctx context.Context, id uuid.UUID, waitHours, score float64, at time.Time) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	// ListByStatus returns entries ordered by AddedAt then ID. No statuses means all.
	ListByStatus(ctx context.Context, statuses ...Status) ([]Entry, error)

	GetMatch(ctx context.Context, id uuid.UUID) (*SlotMatch, error)
	PutMatch(ctx context.Context, m *SlotMatch) error
	DeleteMatch(ctx context.Context, id uuid.UUID) error
	ListMatches(ctx context.Context, entryID uuid.UUID) ([]SlotMatch, error)
}

type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	matches map[uuid.UUID]SlotMatch
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[uuid.UUID]Entry),
		matches: make(map[uuid.UUID]SlotMatch),
	}
}

func (r *MemoryRepository) GetEntry(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[id]
	if !found {
		return nil, ErrEntryNotFound
	}
	e.PreferredDates = slices.Clone(e.PreferredDates)
	return &e, nil
}

func (r *MemoryRepository) PutEntry(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Version = 1
	r.store(e)
	return nil
}

func (r *MemoryRepository) UpdateEntry(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, found := r.entries[e.ID]
	if !found || cur.Version != e.Version {
		return ErrEntryConflict
	}
	e.Version++
	r.store(e)
	return nil
}

func (r *MemoryRepository) UpdateScores(_ context.Context, id uuid.UUID, waitHours, score float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, found := r.entries[id]
	if !found || (cur.Status != StatusActive && cur.Status != StatusNotified) {
		return nil
	}
	cur.WaitHours = waitHours
	cur.Score = score
	cur.UpdatedAt = at
	r.entries[id] = cur
	return nil
}

func (r *MemoryRepository) store(e *Entry) {
	cp := *e
	cp.PreferredDates = slices.Clone(e.PreferredDates)
	r.entries[e.ID] = cp
}

func (r *MemoryRepository) DeleteEntry(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.entries[id]; !found {
		return ErrEntryNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, statuses ...Status) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if len(statuses) > 0 && !slices.Contains(statuses, e.Status) {
			continue
		}
		e.PreferredDates = slices.Clone(e.PreferredDates)
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (r *MemoryRepository) GetMatch(_ context.Context, id uuid.UUID) (*SlotMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, found := r.matches[id]
	if !found {
		return nil, ErrMatchNotFound
	}
	m.Reasons = slices.Clone(m.Reasons)
	return &m, nil
}

func (r *MemoryRepository) PutMatch(_ context.Context, m *SlotMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	cp.Reasons = slices.Clone(m.Reasons)
	r.matches[m.ID] = cp
	return nil
}

func (r *MemoryRepository) DeleteMatch(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.matches[id]; !found {
		return ErrMatchNotFound
	}
	delete(r.matches, id)
	return nil
}

func (r *MemoryRepository) ListMatches(_ context.Context, entryID uuid.UUID) ([]SlotMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SlotMatch
	for _, m := range r.matches {
		if m.EntryID == entryID {
			m.Reasons = slices.Clone(m.Reasons)
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID.String() < out[j].ID.String())
	})
	return out, nil
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].AddedAt.Equal(es[j].AddedAt) {
			return es[i].AddedAt.Before(es[j].AddedAt)
		}
		return es[i].ID.String() < es[j].ID.String()
	})
}
