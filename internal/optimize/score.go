package optimize

import (
	"fmt"
	"slices"
	"time"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

const (
	baseScore        = 50.0
	soonnessMax      = 20.0
	soonnessDays     = 20.0
	optimalBonus     = 10.0
	gapFillBonus     = 15.0
	gapFillReach     = 30 * time.Minute
	loadAdjust       = 10.0
	lightDayBelow    = 8
	heavyDayAbove    = 12
	prefProvider     = 20.0
	prefDay          = 10.0
	prefTime         = 15.0
	avoidDayPenalty  = 20.0
	defaultTravel    = 50.0
	travelScoreScale = 100.0
)

var optimalWindows = [][2]schedule.ClockTime{
	{schedule.At(9, 0), schedule.At(11, 0)},
	{schedule.At(14, 0), schedule.At(16, 0)},
}

// ScoreContext carries the per-provider facts a slot score depends on.
// Existing must hold only the slot provider's appointments.
type ScoreContext struct {
	Now         time.Time
	Existing    []schedule.Appointment
	FillGaps    bool
	BalanceLoad bool
}

// CalculateSlotScore rates a slot in [0, 100] and explains each adjustment.
func CalculateSlotScore(s Suggestion, sc ScoreContext) (float64, []string) {
	score := baseScore
	var reasons []string

	days := s.Start.Sub(sc.Now).Hours() / 24
	soon := soonnessMax * (1 - days/soonnessDays)
	soon = clamp(soon, 0, soonnessMax)
	if soon > 0 {
		score += soon
		reasons = append(reasons, fmt.Sprintf("soonness +%.1f", soon))
	}

	if inOptimalWindow(s.Start) {
		score += optimalBonus
		reasons = append(reasons, "optimal time of day +10")
	}

	if sc.FillGaps && fillsGap(s, sc.Existing) {
		score += gapFillBonus
		reasons = append(reasons, "fills schedule gap +15")
	}

	if sc.BalanceLoad {
		n := sameDayCount(s.Start, sc.Existing)
		switch {
		case n < lightDayBelow:
			score += loadAdjust
			reasons = append(reasons, fmt.Sprintf("light day (%d booked) +10", n))
		case n > heavyDayAbove:
			score -= loadAdjust
			reasons = append(reasons, fmt.Sprintf("heavy day (%d booked) -10", n))
		}
	}

	return clamp(score, 0, 100), reasons
}

func inOptimalWindow(t time.Time) bool {
	c := schedule.ClockOf(t)
	for _, w := range optimalWindows {
		if c >= w[0] && c < w[1] {
			return true
		}
	}
	return false
}

// fillsGap reports whether appointments end shortly before and start shortly
// after the slot.
func fillsGap(s Suggestion, existing []schedule.Appointment) bool {
	var before, after bool
	for _, a := range existing {
		if !a.Active() {
			continue
		}
		if d := s.Start.Sub(a.End()); d >= 0 && d <= gapFillReach {
			before = true
		}
		if d := a.Start.Sub(s.End()); d >= 0 && d <= gapFillReach {
			after = true
		}
	}
	return before && after
}

func sameDayCount(t time.Time, existing []schedule.Appointment) int {
	n := 0
	for _, a := range existing {
		if a.Active() && schedule.SameDay(t, a.Start) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TimeBand is a half-open range of hours, e.g. {8, 12} for mornings.
type TimeBand struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

func (b TimeBand) Contains(t time.Time) bool {
	return t.Hour() >= b.StartHour && t.Hour() < b.EndHour
}

type Preferences struct {
	PreferredProviderIDs []string       `json:"preferred_provider_ids,omitempty"`
	PreferredDays        []time.Weekday `json:"preferred_days,omitempty"`
	PreferredTimes       []TimeBand     `json:"preferred_times,omitempty"`
	AvoidDays            []time.Weekday `json:"avoid_days,omitempty"`
}

// MatchPreferences re-scores suggestions against patient preferences. Every
// adjustment is recorded as a reason; the input slice is not modified.
func MatchPreferences(in []Suggestion, p Preferences) []Suggestion {
	out := make([]Suggestion, len(in))
	for i, s := range in {
		s.Reasons = slices.Clone(s.Reasons)

		if slices.Contains(p.PreferredProviderIDs, s.ProviderID) {
			s.Score += prefProvider
			s.Reasons = append(s.Reasons, "preferred provider +20")
		}
		day := s.Start.Weekday()
		if slices.Contains(p.PreferredDays, day) {
			s.Score += prefDay
			s.Reasons = append(s.Reasons, "preferred day +10")
		}
		for _, b := range p.PreferredTimes {
			if b.Contains(s.Start) {
				s.Score += prefTime
				s.Reasons = append(s.Reasons, "preferred time +15")
				break
			}
		}
		if slices.Contains(p.AvoidDays, day) {
			s.Score -= avoidDayPenalty
			s.Reasons = append(s.Reasons, fmt.Sprintf("avoided day %s -20", day))
		}
		out[i] = s
	}
	SortSuggestions(out)
	return out
}
