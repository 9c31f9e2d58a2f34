package optimize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/schedule"
)

const (
	HorizonDays    = 30
	MaxSuggestions = 20
)

var ErrInvalidDuration = errors.New("requested duration must be positive")

// Snapshot is the explicit state every optimization call works on.
type Snapshot struct {
	Schedules    map[string]schedule.Schedule
	Appointments []schedule.Appointment
}

type SlotRequest struct {
	ProviderIDs     []string  `json:"provider_ids"`
	DurationMinutes int       `json:"duration_minutes"`
	AppointmentType string    `json:"appointment_type,omitempty"`
	PatientID       string    `json:"patient_id,omitempty"`
	RoomID          string    `json:"room_id,omitempty"`
	FillGaps        bool      `json:"fill_gaps"`
	BalanceLoad     bool      `json:"balance_load"`
	From            time.Time `json:"from,omitempty"`
}

type Suggestion struct {
	ProviderID      string    `json:"provider_id"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	RoomID          string    `json:"room_id,omitempty"`
	Score           float64   `json:"score"`
	TravelScore     float64   `json:"travel_score,omitempty"`
	Reasons         []string  `json:"reasons"`
}

func (s Suggestion) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

type Engine struct {
	availability schedule.AvailabilityProvider
	constraints  *constraint.Engine
	clock        clock.Clock
	log          *zap.Logger
}

func NewEngine(availability schedule.AvailabilityProvider, constraints *constraint.Engine, clk clock.Clock, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		availability: availability,
		constraints:  constraints,
		clock:        clk,
		log:          log,
	}
}

// SuggestOptimalSlots scans the horizon for every requested provider in
// parallel and returns the best scoring valid slots.
func (e *Engine) SuggestOptimalSlots(ctx context.Context, req SlotRequest, snap Snapshot) ([]Suggestion, error) {
	if req.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	now := req.From
	if now.IsZero() {
		now = e.clock.Now()
	}

	providers := req.ProviderIDs
	if len(providers) == 0 {
		for id := range snap.Schedules {
			providers = append(providers, id)
		}
		sort.Strings(providers)
	}

	perProvider := make([][]Suggestion, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, providerID := range providers {
		i, providerID := i, providerID // per-iteration copies (go 1.21 loop semantics)
		sched, found := snap.Schedules[providerID]
		if !found {
			e.log.Warn("skipping provider without schedule", zap.String("provider_id", providerID))
			continue
		}
		g.Go(func() error {
			suggestions, err := e.scanProvider(gctx, sched, req, snap.Appointments, now)
			if err != nil {
				return fmt.Errorf("scan provider %s: %w", providerID, err)
			}
			perProvider[i] = suggestions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Suggestion
	for _, s := range perProvider {
		all = append(all, s...)
	}
	SortSuggestions(all)
	if len(all) > MaxSuggestions {
		all = all[:MaxSuggestions]
	}

	e.log.Debug("slot suggestions computed",
		zap.Int("providers", len(providers)),
		zap.Int("returned", len(all)),
	)
	return all, nil
}

func (e *Engine) scanProvider(ctx context.Context, sched schedule.Schedule, req SlotRequest, appts []schedule.Appointment, now time.Time) ([]Suggestion, error) {
	own := schedule.ForProvider(appts, sched.ProviderID)
	dur := time.Duration(req.DurationMinutes) * time.Minute
	first := schedule.StartOfDay(now)

	var out []Suggestion
	for d := 0; d < HorizonDays; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		day := first.AddDate(0, 0, d)
		slots := e.availability.GetAvailability(sched, own, day)

		for _, iv := range openIntervals(slots) {
			if iv.end.Sub(iv.start) < dur {
				continue
			}
			for t := iv.start; !t.Add(dur).After(iv.end); t = t.Add(iv.step) {
				if !t.After(now) {
					continue
				}
				cand := schedule.Appointment{
					ProviderID:      sched.ProviderID,
					PatientID:       req.PatientID,
					RoomID:          req.RoomID,
					Start:           t,
					DurationMinutes: req.DurationMinutes,
					Status:          schedule.StatusScheduled,
					Type:            req.AppointmentType,
				}
				v, err := e.constraints.Confirm(constraint.Input{
					Candidate: cand,
					Schedule:  &sched,
					Existing:  appts,
				})
				if err != nil {
					return nil, err
				}
				if !v.Valid {
					continue
				}

				s := Suggestion{
					ProviderID:      sched.ProviderID,
					Start:           t,
					DurationMinutes: req.DurationMinutes,
					RoomID:          req.RoomID,
				}
				s.Score, s.Reasons = CalculateSlotScore(s, ScoreContext{
					Now:         now,
					Existing:    own,
					FillGaps:    req.FillGaps,
					BalanceLoad: req.BalanceLoad,
				})
				out = append(out, s)
			}
		}
	}
	return out, nil
}

type interval struct {
	start, end time.Time
	step       time.Duration
}

// openIntervals merges contiguous available slots.
func openIntervals(slots []schedule.AvailabilitySlot) []interval {
	var out []interval
	var cur *interval
	for _, s := range slots {
		if !s.Available || s.DurationMinutes <= 0 {
			cur = nil
			continue
		}
		if cur != nil && cur.end.Equal(s.Start) {
			cur.end = s.End()
			continue
		}
		out = append(out, interval{
			start: s.Start,
			end:   s.End(),
			step:  time.Duration(s.DurationMinutes) * time.Minute,
		})
		cur = &out[len(out)-1]
	}
	return out
}

// SortSuggestions orders by score desc, then earliest start, then provider id.
func SortSuggestions(s []Suggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if !s[i].Start.Equal(s[j].Start) {
			return s[i].Start.Before(s[j].Start)
		}
		return s[i].ProviderID < s[j].ProviderID
	})
}
