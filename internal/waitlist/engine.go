package waitlist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/schedule"
)

var (
	ErrOfferExpired      = errors.New("slot offer has expired")
	ErrInvalidTransition = errors.New("invalid waitlist status transition")
	ErrInvalidEntry      = errors.New("invalid waitlist entry")
	ErrNoBooker          = errors.New("no booker configured")
)

const (
	DefaultOfferWindow       = 24 * time.Hour
	DefaultFairnessThreshold = 10.0
	DefaultMaxAttempts       = 3
	DefaultDurationMinutes   = 30
)

type Config struct {
	Weights           Weights
	FairnessThreshold float64
	OfferWindow       time.Duration
	MaxAttempts       int
}

func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		FairnessThreshold: DefaultFairnessThreshold,
		OfferWindow:       DefaultOfferWindow,
		MaxAttempts:       DefaultMaxAttempts,
	}
}

// Booker creates the real appointment once an offer is accepted.
type Booker interface {
	BookSlot(ctx context.Context, e Entry, m SlotMatch) (appointmentID string, err error)
}

type BookerFunc func(ctx context.Context, e Entry, m SlotMatch) (string, error)

func (f BookerFunc) BookSlot(ctx context.Context, e Entry, m SlotMatch) (string, error) {
	return f(ctx, e, m)
}

type Engine struct {
	repo  Repository
	clock clock.Clock
	cfg   Config
	log   *zap.Logger

	// mu serializes transitions within one process. Across processes the
	// entry version guards every write.
	mu sync.Mutex
}

func NewEngine(repo Repository, clk clock.Clock, cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.OfferWindow <= 0 {
		cfg.OfferWindow = DefaultOfferWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.FairnessThreshold < 0 {
		cfg.FairnessThreshold = 0
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{repo: repo, clock: clk, cfg: cfg, log: log}, nil
}

func (w *Engine) Config() Config { return w.cfg }

// Add registers new demand as an ACTIVE entry.
func (w *Engine) Add(ctx context.Context, e Entry) (*Entry, error) {
	if e.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidEntry)
	}
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	if !e.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidEntry, e.Priority)
	}
	if e.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidEntry)
	}
	if e.DurationMinutes == 0 {
		e.DurationMinutes = DefaultDurationMinutes
	}
	if e.PreferredTimeOfDay == "" {
		e.PreferredTimeOfDay = AnyTime
	}

	now := w.clock.Now()
	e.ID = uuid.New()
	e.Status = StatusActive
	if e.AddedAt.IsZero() || e.AddedAt.After(now) {
		e.AddedAt = now
	}
	e.WaitHours = hoursBetween(e.AddedAt, now)
	e.Attempts = 0
	e.NotifiedAt = nil
	e.UpdatedAt = now
	e.Score = PriorityScore(e, w.cfg.Weights)

	if err := w.repo.PutEntry(ctx, &e); err != nil {
		return nil, fmt.Errorf("store waitlist entry: %w", err)
	}
	w.log.Info("waitlist entry added",
		zap.String("entry_id", e.ID.String()),
		zap.String("priority", string(e.Priority)),
		zap.Float64("score", e.Score),
	)
	return &e, nil
}

func (w *Engine) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return w.repo.GetEntry(ctx, id)
}

func (w *Engine) List(ctx context.Context, statuses ...Status) ([]Entry, error) {
	return w.repo.ListByStatus(ctx, statuses...)
}

// Cancel removes an open entry and any outstanding offers.
func (w *Engine) Cancel(ctx context.Context, id uuid.UUID) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.openEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := w.dropMatches(ctx, id); err != nil {
		return nil, err
	}
	if err := w.repo.DeleteEntry(ctx, id); err != nil {
		return nil, fmt.Errorf("delete waitlist entry: %w", err)
	}
	e.Status = StatusCancelled
	e.UpdatedAt = w.clock.Now()
	return e, nil
}

// Dismiss records that the patient declined further contact.
func (w *Engine) Dismiss(ctx context.Context, id uuid.UUID) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.openEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Status = StatusDismissed
	e.UpdatedAt = w.clock.Now()
	if err := w.repo.UpdateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("store waitlist entry: %w", err)
	}
	if err := w.dropMatches(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}

// SetPriority changes an open entry's tier and recomputes its score.
func (w *Engine) SetPriority(ctx context.Context, id uuid.UUID, p Priority) (*Entry, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidEntry, p)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.openEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Priority = p
	e.Score = PriorityScore(*e, w.cfg.Weights)
	e.UpdatedAt = w.clock.Now()
	if err := w.repo.UpdateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("store waitlist entry: %w", err)
	}
	return e, nil
}

// UpdateWaitTimes refreshes wait time and score of every open entry. Scores
// only change when this is called. Status and attempts are left to the
// transitions, so a concurrent offer in another process is never undone.
func (w *Engine) UpdateWaitTimes(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.repo.ListByStatus(ctx, StatusActive, StatusNotified)
	if err != nil {
		return 0, fmt.Errorf("list open entries: %w", err)
	}
	now := w.clock.Now()
	for i := range entries {
		e := &entries[i]
		e.WaitHours = hoursBetween(e.AddedAt, now)
		e.Score = PriorityScore(*e, w.cfg.Weights)
		if err := w.repo.UpdateScores(ctx, e.ID, e.WaitHours, e.Score, now); err != nil {
			return i, fmt.Errorf("store waitlist scores %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

func (w *Engine) Fairness(ctx context.Context) (FairnessMetrics, error) {
	entries, err := w.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return FairnessMetrics{}, fmt.Errorf("list active entries: %w", err)
	}
	return ComputeFairness(entries), nil
}

// FindMatchingSlots pairs every ACTIVE entry with every slot that passes its
// hard filters. Nothing is persisted.
func (w *Engine) FindMatchingSlots(ctx context.Context, slots []FreeSlot) ([]SlotMatch, error) {
	entries, err := w.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	return w.match(entries, slots, w.clock.Now()), nil
}

func (w *Engine) match(entries []Entry, slots []FreeSlot, now time.Time) []SlotMatch {
	var out []SlotMatch
	for _, e := range entries {
		for _, s := range slots {
			if !eligible(e, s, now) {
				continue
			}
			score, reasons := matchScore(e, s, now)
			out = append(out, SlotMatch{
				ID:        uuid.New(),
				EntryID:   e.ID,
				PatientID: e.PatientID,
				Slot:      s,
				Score:     score,
				Reasons:   reasons,
				CreatedAt: now,
				ExpiresAt: now.Add(w.cfg.OfferWindow),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Slot.Start.Equal(out[j].Slot.Start) {
			return out[i].Slot.Start.Before(out[j].Slot.Start)
		}
		return out[i].Slot.ProviderID < out[j].Slot.ProviderID
	})
	return out
}

func eligible(e Entry, s FreeSlot, now time.Time) bool {
	if !s.Start.After(now) {
		return false
	}
	if e.ProviderID != "" && e.ProviderID != s.ProviderID {
		return false
	}
	if s.DurationMinutes > 0 && e.DurationMinutes > s.DurationMinutes {
		return false
	}
	if e.SameDayOnly && !schedule.SameDay(now, s.Start) {
		return false
	}
	if len(e.PreferredDates) > 0 && !e.prefersDate(s.Start) {
		return false
	}
	return e.PreferredTimeOfDay.Contains(s.Start)
}

func matchScore(e Entry, s FreeSlot, now time.Time) (float64, []string) {
	score := e.Score
	reasons := []string{fmt.Sprintf("priority %s (score %.1f)", e.Priority, e.Score)}

	if s.ProviderID == e.PreferredProviderID || (e.ProviderID != "" && s.ProviderID == e.ProviderID) {
		score += 20
		reasons = append(reasons, "preferred provider")
	}

	switch lead := s.Start.Sub(now); {
	case lead < 24*time.Hour:
		score += 15
		reasons = append(reasons, "available within 24 hours")
	case lead < 72*time.Hour:
		score += 10
		reasons = append(reasons, "available within 3 days")
	case lead < 168*time.Hour:
		score += 5
		reasons = append(reasons, "available within a week")
	}

	if e.prefersDate(s.Start) {
		score += 15
		reasons = append(reasons, "on a preferred date")
	}

	if score > 100 {
		score = 100
	}
	return score, reasons
}

// AutoAssignSlots offers each slot to at most one entry and each entry at
// most one slot. Within one slot the highest match wins, except that any
// candidate within FairnessThreshold of the top score who has waited longer
// takes precedence. Slots are processed in start order.
func (w *Engine) AutoAssignSlots(ctx context.Context, slots []FreeSlot) ([]SlotMatch, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	byID := make(map[uuid.UUID]*Entry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}

	now := w.clock.Now()
	matches := w.match(entries, slots, now)

	bySlot := make(map[string][]SlotMatch)
	var keys []string
	slotOf := make(map[string]FreeSlot)
	for _, m := range matches {
		k := m.Slot.Key()
		if _, seen := bySlot[k]; !seen {
			keys = append(keys, k)
			slotOf[k] = m.Slot
		}
		bySlot[k] = append(bySlot[k], m)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := slotOf[keys[i]], slotOf[keys[j]]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ProviderID < b.ProviderID
	})

	assigned := make(map[uuid.UUID]bool)
	var out []SlotMatch
	for _, k := range keys {
		for {
			var cands []SlotMatch
			for _, m := range bySlot[k] {
				if !assigned[m.EntryID] {
					cands = append(cands, m)
				}
			}
			if len(cands) == 0 {
				break
			}

			pick := w.selectFair(cands, byID)
			e := byID[pick.EntryID]
			assigned[pick.EntryID] = true

			e.Status = StatusNotified
			notifiedAt := now
			e.NotifiedAt = &notifiedAt
			e.Attempts++
			e.UpdatedAt = now

			err := w.repo.UpdateEntry(ctx, e)
			if errors.Is(err, ErrEntryConflict) {
				// Changed elsewhere since it was listed; the slot goes to the next candidate.
				w.log.Warn("waitlist entry changed during assignment",
					zap.String("entry_id", e.ID.String()),
					zap.String("slot", k),
				)
				continue
			}
			if err != nil {
				return out, fmt.Errorf("store waitlist entry: %w", err)
			}
			if err := w.repo.PutMatch(ctx, &pick); err != nil {
				return out, fmt.Errorf("store slot match: %w", err)
			}
			out = append(out, pick)

			w.log.Info("slot offered",
				zap.String("entry_id", e.ID.String()),
				zap.String("slot", k),
				zap.Float64("match_score", pick.Score),
				zap.Float64("wait_hours", e.WaitHours),
				zap.Int("attempt", e.Attempts),
			)
			break
		}
	}
	return out, nil
}

// selectFair expects cands sorted by score descending.
func (w *Engine) selectFair(cands []SlotMatch, byID map[uuid.UUID]*Entry) SlotMatch {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		a, b := byID[cands[i].EntryID], byID[cands[j].EntryID]
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	top := cands[0]
	best := top
	for _, c := range cands[1:] {
		if top.Score-c.Score > w.cfg.FairnessThreshold {
			break
		}
		if byID[c.EntryID].WaitHours > byID[best.EntryID].WaitHours {
			best = c
		}
	}
	return best
}

type Acceptance struct {
	AppointmentID string    `json:"appointment_id"`
	Entry         Entry     `json:"entry"`
	Match         SlotMatch `json:"match"`
}

// AcceptSlotMatch books an offered slot through b and removes the entry.
// An offer past its expiry is rejected and nothing changes.
func (w *Engine) AcceptSlotMatch(ctx context.Context, matchID uuid.UUID, b Booker) (*Acceptance, error) {
	if b == nil {
		return nil, ErrNoBooker
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	m, e, err := w.liveOffer(ctx, matchID)
	if err != nil {
		return nil, err
	}

	apptID, err := b.BookSlot(ctx, *e, *m)
	if err != nil {
		return nil, fmt.Errorf("book offered slot: %w", err)
	}

	if err := w.dropMatches(ctx, e.ID); err != nil {
		return nil, err
	}
	if err := w.repo.DeleteEntry(ctx, e.ID); err != nil {
		return nil, fmt.Errorf("delete waitlist entry: %w", err)
	}

	e.Status = StatusAccepted
	e.UpdatedAt = w.clock.Now()
	w.log.Info("slot offer accepted",
		zap.String("entry_id", e.ID.String()),
		zap.String("match_id", m.ID.String()),
		zap.String("appointment_id", apptID),
	)
	return &Acceptance{AppointmentID: apptID, Entry: *e, Match: *m}, nil
}

// DeclineSlotMatch withdraws one offer and puts the entry back in the queue.
func (w *Engine) DeclineSlotMatch(ctx context.Context, matchID uuid.UUID) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, e, err := w.liveOffer(ctx, matchID)
	if err != nil {
		return nil, err
	}
	e.Status = StatusActive
	e.UpdatedAt = w.clock.Now()
	if err := w.repo.UpdateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("store waitlist entry: %w", err)
	}
	if err := w.repo.DeleteMatch(ctx, m.ID); err != nil && !errors.Is(err, ErrMatchNotFound) {
		return nil, fmt.Errorf("delete slot match: %w", err)
	}
	return e, nil
}

type ExpirationReport struct {
	Retried []uuid.UUID `json:"retried"`
	Expired []uuid.UUID `json:"expired"`
}

// ProcessExpirations is driven by an external tick. A NOTIFIED entry whose
// offers have all lapsed goes back to ACTIVE while it has attempts left,
// otherwise it becomes EXPIRED.
func (w *Engine) ProcessExpirations(ctx context.Context) (ExpirationReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var report ExpirationReport
	notified, err := w.repo.ListByStatus(ctx, StatusNotified)
	if err != nil {
		return report, fmt.Errorf("list notified entries: %w", err)
	}

	now := w.clock.Now()
	for i := range notified {
		e := &notified[i]
		matches, err := w.repo.ListMatches(ctx, e.ID)
		if err != nil {
			return report, fmt.Errorf("list matches for %s: %w", e.ID, err)
		}
		if !allExpired(matches, now) {
			continue
		}

		retry := e.Attempts < w.cfg.MaxAttempts
		if retry {
			e.Status = StatusActive
		} else {
			e.Status = StatusExpired
		}
		e.UpdatedAt = now
		err = w.repo.UpdateEntry(ctx, e)
		if errors.Is(err, ErrEntryConflict) {
			w.log.Warn("waitlist entry changed during expiry sweep", zap.String("entry_id", e.ID.String()))
			continue
		}
		if err != nil {
			return report, fmt.Errorf("store waitlist entry: %w", err)
		}
		for _, m := range matches {
			if err := w.repo.DeleteMatch(ctx, m.ID); err != nil && !errors.Is(err, ErrMatchNotFound) {
				return report, fmt.Errorf("delete slot match: %w", err)
			}
		}
		if retry {
			report.Retried = append(report.Retried, e.ID)
		} else {
			report.Expired = append(report.Expired, e.ID)
		}
	}

	if len(report.Retried)+len(report.Expired) > 0 {
		w.log.Info("offer expirations processed",
			zap.Int("retried", len(report.Retried)),
			zap.Int("expired", len(report.Expired)),
		)
	}
	return report, nil
}

func allExpired(ms []SlotMatch, now time.Time) bool {
	for _, m := range ms {
		if !m.Expired(now) {
			return false
		}
	}
	return true
}

func (w *Engine) liveOffer(ctx context.Context, matchID uuid.UUID) (*SlotMatch, *Entry, error) {
	m, err := w.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if m.Expired(w.clock.Now()) {
		return nil, nil, fmt.Errorf("%w: match %s expired at %s", ErrOfferExpired, m.ID, m.ExpiresAt.Format(time.RFC3339))
	}
	e, err := w.repo.GetEntry(ctx, m.EntryID)
	if err != nil {
		return nil, nil, err
	}
	if e.Status != StatusNotified {
		return nil, nil, fmt.Errorf("%w: entry %s is %s", ErrInvalidTransition, e.ID, e.Status)
	}
	return m, e, nil
}

func (w *Engine) openEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := w.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusActive && e.Status != StatusNotified {
		return nil, fmt.Errorf("%w: entry %s is %s", ErrInvalidTransition, e.ID, e.Status)
	}
	return e, nil
}

func (w *Engine) dropMatches(ctx context.Context, entryID uuid.UUID) error {
	ms, err := w.repo.ListMatches(ctx, entryID)
	if err != nil {
		return fmt.Errorf("list matches for %s: %w", entryID, err)
	}
	for _, m := range ms {
		if err := w.repo.DeleteMatch(ctx, m.ID); err != nil && !errors.Is(err, ErrMatchNotFound) {
			return fmt.Errorf("delete slot match: %w", err)
		}
	}
	return nil
}
