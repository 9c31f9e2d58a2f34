package optimize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

func TestAnalyzeProviderDay_SingleFollowUpGap(t *testing.T) {
	e := newTestEngine(at(monday, 7, 0))
	snap := Snapshot{
		Schedules: map[string]schedule.Schedule{
			"dr-a": weekdaySchedule("dr-a", schedule.At(9, 0), schedule.At(11, 15)),
		},
		Appointments: []schedule.Appointment{
			booked("a1", "dr-a", at(monday, 9, 0), 60),
			booked("a2", "dr-a", at(monday, 10, 45), 30),
		},
	}

	ga, err := e.AnalyzeProviderDay(snap, "dr-a", at(monday, 13, 0))
	require.NoError(t, err)
	require.Len(t, ga.Gaps, 1)

	g := ga.Gaps[0]
	assert.Equal(t, at(monday, 10, 0), g.Start)
	assert.Equal(t, at(monday, 10, 45), g.End)
	assert.Equal(t, 45, g.Minutes)
	assert.True(t, g.CanFill)
	assert.Equal(t, TypeFollowUp, g.SuggestedType)
	assert.Equal(t, 45, ga.TotalGapMinutes)
	assert.Equal(t, 1, ga.FillableGaps)

	_, err = e.AnalyzeProviderDay(snap, "dr-x", monday)
	assert.ErrorIs(t, err, schedule.ErrNoSchedule)
}

func TestAnalyzeGaps_Classification(t *testing.T) {
	mk := func(start time.Time, n int, available bool) []schedule.AvailabilitySlot {
		var out []schedule.AvailabilitySlot
		for i := 0; i < n; i++ {
			out = append(out, schedule.AvailabilitySlot{Start: start.Add(time.Duration(i*5) * time.Minute), DurationMinutes: 5, Available: available})
		}
		return out
	}
	var slots []schedule.AvailabilitySlot
	slots = append(slots, mk(at(monday, 8, 0), 2, true)...)   // 10m
	slots = append(slots, mk(at(monday, 8, 10), 1, false)...) // busy
	slots = append(slots, mk(at(monday, 8, 15), 3, true)...)  // 15m
	slots = append(slots, mk(at(monday, 8, 30), 1, false)...)
	slots = append(slots, mk(at(monday, 8, 35), 12, true)...) // 60m

	ga := AnalyzeGaps(slots)
	require.Len(t, ga.Gaps, 3)
	assert.Equal(t, []string{TypeMinimal, TypeVaccine, TypeExtendedVisit},
		[]string{ga.Gaps[0].SuggestedType, ga.Gaps[1].SuggestedType, ga.Gaps[2].SuggestedType})
	assert.False(t, ga.Gaps[0].CanFill)
	assert.Equal(t, 2, ga.FillableGaps)
	assert.Equal(t, 85, ga.TotalGapMinutes)
}

func TestFillGap(t *testing.T) {
	gap := TimeGap{Minutes: 45}
	cands := []GapCandidate{
		{ID: "too-long", DurationMinutes: 60},
		{ID: "short", DurationMinutes: 15},
		{ID: "close", DurationMinutes: 40, Score: 10},
		{ID: "close-better", DurationMinutes: 40, Score: 30},
	}
	got, found := FillGap(gap, cands)
	require.True(t, found)
	assert.Equal(t, "close-better", got.ID)

	_, found = FillGap(TimeGap{Minutes: 10}, cands)
	assert.False(t, found)
}

func TestSuggestRebalancing(t *testing.T) {
	loads := []ProviderLoad{
		{ProviderID: "dr-a", UtilizationRate: 95},
		{ProviderID: "dr-b", UtilizationRate: 70},
		{ProviderID: "dr-c", UtilizationRate: 40},
		{ProviderID: "dr-d", UtilizationRate: 64.9},
	}
	r := SuggestRebalancing(loads, 85)

	require.Len(t, r.Overloaded, 1)
	assert.Equal(t, "dr-a", r.Overloaded[0].ProviderID)
	require.Len(t, r.Underloaded, 2)
	assert.Equal(t, "dr-c", r.Underloaded[0].ProviderID)
	assert.Equal(t, "dr-d", r.Underloaded[1].ProviderID)
	require.Len(t, r.Suggestions, 1)
	assert.Equal(t, "Move appointments from dr-a (95.0%) to dr-c (40.0%), dr-d (64.9%)", r.Suggestions[0])

	r = SuggestRebalancing([]ProviderLoad{{ProviderID: "dr-a", UtilizationRate: 90}}, 85)
	require.Len(t, r.Suggestions, 1)
	assert.Contains(t, r.Suggestions[0], "no provider has spare capacity")
}

func TestLoadDistribution(t *testing.T) {
	e := newTestEngine(at(monday, 7, 0))
	snap := Snapshot{
		Schedules: map[string]schedule.Schedule{
			"dr-b": weekdaySchedule("dr-b", schedule.At(9, 0), schedule.At(10, 0)),
			"dr-a": weekdaySchedule("dr-a", schedule.At(9, 0), schedule.At(10, 0)),
		},
		Appointments: []schedule.Appointment{booked("a1", "dr-a", at(monday, 9, 0), 30)},
	}
	loads := e.LoadDistribution(snap, monday, monday.AddDate(0, 0, 1))
	require.Len(t, loads, 2)
	assert.Equal(t, "dr-a", loads[0].ProviderID)
	assert.Equal(t, 4, loads[0].TotalSlots)
	assert.Equal(t, 2, loads[0].BookedSlots)
	assert.InDelta(t, 50.0, loads[0].UtilizationRate, 0.001)
	assert.InDelta(t, 0.0, loads[1].UtilizationRate, 0.001)
}

type countingStore struct {
	MemoryTravelStore
	calls int
}

func (c *countingStore) TravelMinutes(ctx context.Context, o, d string) (int, bool, error) {
	c.calls++
	return c.MemoryTravelStore.TravelMinutes(ctx, o, d)
}

func TestTravelTimes_RankByTravel(t *testing.T) {
	store := &countingStore{MemoryTravelStore: MemoryTravelStore{"home": {"north": 10, "south": 70}}}
	tt := NewTravelTimes(store)
	locations := map[string]string{"dr-a": "south", "dr-b": "north", "dr-c": "east"}

	in := []Suggestion{
		{ProviderID: "dr-a", Start: at(monday, 9, 0), Score: 90},
		{ProviderID: "dr-b", Start: at(monday, 10, 0), Score: 80},
		{ProviderID: "dr-c", Start: at(monday, 11, 0), Score: 70},
		{ProviderID: "dr-b", Start: at(monday, 12, 0), Score: 60},
	}
	out, err := tt.RankByTravel(context.Background(), in, "home", func(id string) string { return locations[id] })
	require.NoError(t, err)

	got := make([]float64, len(out))
	for i, s := range out {
		got[i] = s.TravelScore
	}
	assert.Equal(t, []float64{90, 90, 50, 30}, got)
	assert.Equal(t, at(monday, 10, 0), out[0].Start)
	assert.Equal(t, 3, store.calls, "repeated routes are served from cache")

	tt.Set("home", "east", 5)
	m, found, err := tt.Minutes(context.Background(), "home", "east")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, m)
}
