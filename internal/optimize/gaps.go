package optimize

import (
	"fmt"
	"time"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

const MinFillableMinutes = 15

const (
	TypeExtendedVisit = "extended-visit"
	TypeFollowUp      = "follow-up"
	TypeVaccine       = "vaccine"
	TypeMinimal       = "minimal"
)

type TimeGap struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Minutes       int       `json:"minutes"`
	CanFill       bool      `json:"can_fill"`
	SuggestedType string    `json:"suggested_type"`
}

type GapAnalysis struct {
	ProviderID      string    `json:"provider_id,omitempty"`
	Date            time.Time `json:"date,omitempty"`
	Gaps            []TimeGap `json:"gaps"`
	TotalGapMinutes int       `json:"total_gap_minutes"`
	FillableGaps    int       `json:"fillable_gaps"`
}

// AnalyzeGaps collects contiguous runs of available slots. Slots must be for
// a single provider-day; they are walked in time order.
func AnalyzeGaps(slots []schedule.AvailabilitySlot) GapAnalysis {
	var ga GapAnalysis
	for _, iv := range openIntervals(slots) {
		g := newGap(iv.start, iv.end)
		ga.Gaps = append(ga.Gaps, g)
		ga.TotalGapMinutes += g.Minutes
		if g.CanFill {
			ga.FillableGaps++
		}
	}
	return ga
}

func newGap(start, end time.Time) TimeGap {
	m := int(end.Sub(start).Minutes())
	return TimeGap{
		Start:         start,
		End:           end,
		Minutes:       m,
		CanFill:       m >= MinFillableMinutes,
		SuggestedType: suggestType(m),
	}
}

func suggestType(minutes int) string {
	switch {
	case minutes >= 60:
		return TypeExtendedVisit
	case minutes >= 30:
		return TypeFollowUp
	case minutes >= 15:
		return TypeVaccine
	}
	return TypeMinimal
}

// AnalyzeProviderDay runs AnalyzeGaps over one provider's availability for date.
func (e *Engine) AnalyzeProviderDay(snap Snapshot, providerID string, date time.Time) (GapAnalysis, error) {
	sched, found := snap.Schedules[providerID]
	if !found {
		return GapAnalysis{}, fmt.Errorf("analyze gaps for %s: %w", providerID, schedule.ErrNoSchedule)
	}
	own := schedule.ForProvider(snap.Appointments, providerID)
	ga := AnalyzeGaps(e.availability.GetAvailability(sched, own, schedule.StartOfDay(date)))
	ga.ProviderID = providerID
	ga.Date = schedule.StartOfDay(date)
	return ga, nil
}

// GapCandidate is a piece of pending demand that could backfill a gap.
type GapCandidate struct {
	ID              string  `json:"id"`
	DurationMinutes int     `json:"duration_minutes"`
	Score           float64 `json:"score"`
}

// FillGap picks the candidate whose duration is closest to, without
// exceeding, the gap. Equal fits prefer the higher score, then input order.
func FillGap(gap TimeGap, candidates []GapCandidate) (GapCandidate, bool) {
	best := -1
	for i, c := range candidates {
		if c.DurationMinutes <= 0 || c.DurationMinutes > gap.Minutes {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := candidates[best]
		if c.DurationMinutes > b.DurationMinutes ||
			(c.DurationMinutes == b.DurationMinutes && c.Score > b.Score) {
			best = i
		}
	}
	if best < 0 {
		return GapCandidate{}, false
	}
	return candidates[best], true
}
