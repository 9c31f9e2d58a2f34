package optimize

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnderloadMargin is how far below the threshold a provider must sit to be
// considered underloaded.
const UnderloadMargin = 20.0

type ProviderLoad struct {
	ProviderID      string  `json:"provider_id"`
	TotalSlots      int     `json:"total_slots"`
	BookedSlots     int     `json:"booked_slots"`
	OverbookedSlots int     `json:"overbooked_slots"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// LoadDistribution reports utilization per provider over [start, end).
func (e *Engine) LoadDistribution(snap Snapshot, start, end time.Time) []ProviderLoad {
	ids := make([]string, 0, len(snap.Schedules))
	for id := range snap.Schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ProviderLoad, 0, len(ids))
	for _, id := range ids {
		c := e.availability.CalculateCapacity(snap.Schedules[id], snap.Appointments, start, end)
		out = append(out, ProviderLoad{
			ProviderID:      id,
			TotalSlots:      c.TotalSlots,
			BookedSlots:     c.BookedSlots,
			OverbookedSlots: c.OverbookedSlots,
			UtilizationRate: c.UtilizationRate,
		})
	}
	return out
}

type Rebalancing struct {
	Threshold   float64        `json:"threshold"`
	Overloaded  []ProviderLoad `json:"overloaded"`
	Underloaded []ProviderLoad `json:"underloaded"`
	Suggestions []string       `json:"suggestions"`
}

// SuggestRebalancing splits providers into overloaded (above threshold) and
// underloaded (more than UnderloadMargin points below it).
func SuggestRebalancing(loads []ProviderLoad, threshold float64) Rebalancing {
	r := Rebalancing{Threshold: threshold}
	for _, l := range loads {
		switch {
		case l.UtilizationRate > threshold:
			r.Overloaded = append(r.Overloaded, l)
		case l.UtilizationRate < threshold-UnderloadMargin:
			r.Underloaded = append(r.Underloaded, l)
		}
	}

	sort.SliceStable(r.Overloaded, func(i, j int) bool {
		return r.Overloaded[i].UtilizationRate > r.Overloaded[j].UtilizationRate
	})
	sort.SliceStable(r.Underloaded, func(i, j int) bool {
		return r.Underloaded[i].UtilizationRate < r.Underloaded[j].UtilizationRate
	})

	targets := make([]string, 0, len(r.Underloaded))
	for _, u := range r.Underloaded {
		targets = append(targets, fmt.Sprintf("%s (%.1f%%)", u.ProviderID, u.UtilizationRate))
	}
	for _, o := range r.Overloaded {
		if len(targets) == 0 {
			r.Suggestions = append(r.Suggestions, fmt.Sprintf(
				"%s is at %.1f%% utilization and no provider has spare capacity", o.ProviderID, o.UtilizationRate))
			continue
		}
		r.Suggestions = append(r.Suggestions, fmt.Sprintf(
			"Move appointments from %s (%.1f%%) to %s", o.ProviderID, o.UtilizationRate, strings.Join(targets, ", ")))
	}
	return r
}
