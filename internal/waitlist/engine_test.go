package waitlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/clock"
)

var start = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	clk   *clock.Manual
	repo  *MemoryRepository
	eng   *Engine
	calls int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), clk: clock.NewManual(start), repo: NewMemoryRepository()}
	eng, err := NewEngine(f.repo, f.clk, cfg, zap.NewNop())
	require.NoError(t, err)
	f.eng = eng
	return f
}

func (f *fixture) add(t *testing.T, e Entry) *Entry {
	t.Helper()
	got, err := f.eng.Add(f.ctx, e)
	require.NoError(t, err)
	return got
}

func (f *fixture) booker() Booker {
	return BookerFunc(func(_ context.Context, e Entry, m SlotMatch) (string, error) {
		f.calls++
		return "appt-" + e.PatientID, nil
	})
}

func slot(provider string, at time.Time) FreeSlot {
	return FreeSlot{ProviderID: provider, Start: at, DurationMinutes: 30}
}

func TestPriorityScore(t *testing.T) {
	w := DefaultWeights()
	cases := []struct {
		name string
		e    Entry
		want float64
	}{
		{"urgent fresh", Entry{Priority: PriorityUrgent, WaitHours: 1}, 63},
		{"high two days", Entry{Priority: PriorityHigh, WaitHours: 48}, 59},
		{"low fresh", Entry{Priority: PriorityLow, WaitHours: 0}, 33},
		{"medium with dates", Entry{Priority: PriorityMedium, WaitHours: 400, PreferredDates: []time.Time{start}}, 73},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, PriorityScore(tc.e, w), 1e-9)
		})
	}
}

func TestWaitBand(t *testing.T) {
	assert.Equal(t, 20.0, WaitBand(23.9))
	assert.Equal(t, 40.0, WaitBand(24))
	assert.Equal(t, 60.0, WaitBand(72))
	assert.Equal(t, 80.0, WaitBand(168))
	assert.Equal(t, 100.0, WaitBand(336))
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	assert.ErrorIs(t, Weights{Urgency: 0.5, WaitTime: 0.5, Preference: 0.5}.Validate(), ErrInvalidWeights)
	assert.ErrorIs(t, Weights{Urgency: 1.2, WaitTime: -0.2}.Validate(), ErrInvalidWeights)

	_, err := NewEngine(NewMemoryRepository(), nil, Config{Weights: Weights{Urgency: 2}}, nil)
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestComputeFairness(t *testing.T) {
	t.Run("equal waits score 100", func(t *testing.T) {
		m := ComputeFairness([]Entry{
			{Status: StatusActive, WaitHours: 12},
			{Status: StatusActive, WaitHours: 12},
			{Status: StatusActive, WaitHours: 12},
		})
		assert.Equal(t, 100.0, m.Score)
		assert.Equal(t, 0.0, m.StdDevWaitHours)
		assert.Equal(t, 3, m.ActiveEntries)
	})

	t.Run("empty queue", func(t *testing.T) {
		assert.Equal(t, 100.0, ComputeFairness(nil).Score)
	})

	t.Run("spread lowers score", func(t *testing.T) {
		m := ComputeFairness([]Entry{
			{Status: StatusActive, WaitHours: 10},
			{Status: StatusActive, WaitHours: 30},
			{Status: StatusNotified, WaitHours: 1000},
		})
		assert.Equal(t, 2, m.ActiveEntries)
		assert.InDelta(t, 20, m.MeanWaitHours, 1e-9)
		assert.InDelta(t, 10, m.StdDevWaitHours, 1e-9)
		assert.InDelta(t, 50, m.Score, 1e-9)
		assert.Equal(t, 10.0, m.MinWaitHours)
		assert.Equal(t, 30.0, m.MaxWaitHours)
	})
}

func TestAdd_Defaults(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	e := f.add(t, Entry{PatientID: "p1", AddedAt: start.Add(-48 * time.Hour)})
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, StatusActive, e.Status)
	assert.Equal(t, PriorityMedium, e.Priority)
	assert.Equal(t, DefaultDurationMinutes, e.DurationMinutes)
	assert.Equal(t, AnyTime, e.PreferredTimeOfDay)
	assert.InDelta(t, 48, e.WaitHours, 1e-9)

	_, err := f.eng.Add(f.ctx, Entry{})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = f.eng.Add(f.ctx, Entry{PatientID: "p2", Priority: "stat"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestUpdateWaitTimes_RescoresOnlyWhenCalled(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1", Priority: PriorityHigh})
	assert.InDelta(t, 53, e.Score, 1e-9)

	f.clk.Advance(80 * time.Hour)
	got, err := f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.InDelta(t, 53, got.Score, 1e-9)

	n, err := f.eng.UpdateWaitTimes(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.InDelta(t, 80, got.WaitHours, 1e-9)
	assert.InDelta(t, 65, got.Score, 1e-9)
}

func TestSetPriority(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1", Priority: PriorityLow})

	got, err := f.eng.SetPriority(f.ctx, e.ID, PriorityUrgent)
	require.NoError(t, err)
	assert.InDelta(t, 63, got.Score, 1e-9)

	_, err = f.eng.SetPriority(f.ctx, e.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = f.eng.SetPriority(f.ctx, uuid.New(), PriorityHigh)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestFindMatchingSlots_Filters(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tomorrow := start.Add(24 * time.Hour)

	pinned := f.add(t, Entry{PatientID: "pinned", ProviderID: "dr-a"})
	sameDay := f.add(t, Entry{PatientID: "same-day", SameDayOnly: true})
	dated := f.add(t, Entry{PatientID: "dated", PreferredDates: []time.Time{tomorrow}})
	evening := f.add(t, Entry{PatientID: "evening", PreferredTimeOfDay: Evening})
	long := f.add(t, Entry{PatientID: "long", DurationMinutes: 60})

	slots := []FreeSlot{
		slot("dr-a", start.Add(2*time.Hour)),     // Mon 10:00
		slot("dr-b", tomorrow.Add(2*time.Hour)),  // Tue 10:00
		slot("dr-b", tomorrow.Add(10*time.Hour)), // Tue 18:00
		slot("dr-a", start.Add(-1*time.Hour)),    // past
	}

	matches, err := f.eng.FindMatchingSlots(f.ctx, slots)
	require.NoError(t, err)

	got := map[uuid.UUID][]string{}
	for _, m := range matches {
		got[m.EntryID] = append(got[m.EntryID], m.Slot.Key())
		assert.Equal(t, start.Add(DefaultOfferWindow), m.ExpiresAt)
		assert.LessOrEqual(t, m.Score, 100.0)
		assert.NotEmpty(t, m.Reasons)
	}

	assert.ElementsMatch(t, []string{slots[0].Key()}, got[pinned.ID])
	assert.ElementsMatch(t, []string{slots[0].Key()}, got[sameDay.ID])
	assert.ElementsMatch(t, []string{slots[1].Key(), slots[2].Key()}, got[dated.ID])
	assert.ElementsMatch(t, []string{slots[2].Key()}, got[evening.ID])
	assert.Empty(t, got[long.ID])

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestFindMatchingSlots_Bonuses(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1", Priority: PriorityLow, PreferredProviderID: "dr-a"})
	base := e.Score

	matches, err := f.eng.FindMatchingSlots(f.ctx, []FreeSlot{
		slot("dr-a", start.Add(2*time.Hour)),
		slot("dr-b", start.Add(48*time.Hour)),
		slot("dr-b", start.Add(100*time.Hour)),
		slot("dr-b", start.Add(200*time.Hour)),
	})
	require.NoError(t, err)
	require.Len(t, matches, 4)

	assert.InDelta(t, base+20+15, matches[0].Score, 1e-9)
	assert.Contains(t, matches[0].Reasons, "preferred provider")
	assert.InDelta(t, base+10, matches[1].Score, 1e-9)
	assert.InDelta(t, base+5, matches[2].Score, 1e-9)
	assert.InDelta(t, base, matches[3].Score, 1e-9)
}

func TestFindMatchingSlots_CapsAt100(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	day := start.Add(2 * time.Hour)
	f.add(t, Entry{
		PatientID:           "p1",
		Priority:            PriorityUrgent,
		AddedAt:             start.Add(-400 * time.Hour),
		PreferredDates:      []time.Time{day},
		PreferredProviderID: "dr-a",
	})

	matches, err := f.eng.FindMatchingSlots(f.ctx, []FreeSlot{slot("dr-a", day)})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 100.0, matches[0].Score)
}

func TestAutoAssign_LongerWaitWinsWithinThreshold(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e1 := f.add(t, Entry{PatientID: "e1", Priority: PriorityHigh, AddedAt: start.Add(-48 * time.Hour)})
	e2 := f.add(t, Entry{PatientID: "e2", Priority: PriorityHigh, AddedAt: start.Add(-1 * time.Hour)})
	require.LessOrEqual(t, e1.Score-e2.Score, DefaultFairnessThreshold)

	s := slot("dr-a", start.Add(30*time.Hour))
	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{s})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, e1.ID, out[0].EntryID)

	got, err := f.eng.Get(f.ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NotifiedAt)
	assert.Equal(t, start, *got.NotifiedAt)

	other, err := f.eng.Get(f.ctx, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, other.Status)
}

func TestAutoAssign_FairnessOverridesHigherScore(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	urgent := f.add(t, Entry{PatientID: "urgent", Priority: PriorityUrgent, AddedAt: start.Add(-1 * time.Hour)})
	waited := f.add(t, Entry{PatientID: "waited", Priority: PriorityHigh, AddedAt: start.Add(-48 * time.Hour)})
	require.Greater(t, urgent.Score, waited.Score)

	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(30*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, waited.ID, out[0].EntryID)
}

func TestAutoAssign_TopScoreWinsOutsideThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FairnessThreshold = 2
	f := newFixture(t, cfg)
	urgent := f.add(t, Entry{PatientID: "urgent", Priority: PriorityUrgent, AddedAt: start.Add(-1 * time.Hour)})
	f.add(t, Entry{PatientID: "waited", Priority: PriorityHigh, AddedAt: start.Add(-48 * time.Hour)})

	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(30*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, urgent.ID, out[0].EntryID)
}

func TestAutoAssign_SlotAndEntryAssignedOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for _, p := range []string{"a", "b", "c", "d"} {
		f.add(t, Entry{PatientID: p, Priority: PriorityMedium})
	}
	s1 := slot("dr-a", start.Add(3*time.Hour))
	s2 := slot("dr-b", start.Add(3*time.Hour))
	s3 := slot("dr-a", start.Add(5*time.Hour))

	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{s3, s1, s2, s1})
	require.NoError(t, err)
	require.Len(t, out, 3)

	slots := map[string]bool{}
	entries := map[uuid.UUID]bool{}
	for _, m := range out {
		assert.False(t, slots[m.Slot.Key()], "slot %s assigned twice", m.Slot.Key())
		assert.False(t, entries[m.EntryID], "entry %s assigned twice", m.EntryID)
		slots[m.Slot.Key()] = true
		entries[m.EntryID] = true
	}
	assert.Equal(t, s1.Key(), out[0].Slot.Key())
	assert.Equal(t, s2.Key(), out[1].Slot.Key())

	active, err := f.eng.List(f.ctx, StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAccept(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1"})
	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(4*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)

	acc, err := f.eng.AcceptSlotMatch(f.ctx, out[0].ID, f.booker())
	require.NoError(t, err)
	assert.Equal(t, "appt-p1", acc.AppointmentID)
	assert.Equal(t, StatusAccepted, acc.Entry.Status)
	assert.Equal(t, 1, f.calls)

	_, err = f.eng.Get(f.ctx, e.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = f.repo.GetMatch(f.ctx, out[0].ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = f.eng.AcceptSlotMatch(f.ctx, out[0].ID, f.booker())
	assert.ErrorIs(t, err, ErrMatchNotFound)
	_, err = f.eng.AcceptSlotMatch(f.ctx, out[0].ID, nil)
	assert.ErrorIs(t, err, ErrNoBooker)
}

func TestAccept_BookerFailureKeepsOffer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1"})
	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(4*time.Hour))})
	require.NoError(t, err)

	boom := errors.New("slot taken")
	_, err = f.eng.AcceptSlotMatch(f.ctx, out[0].ID, BookerFunc(func(context.Context, Entry, SlotMatch) (string, error) {
		return "", boom
	}))
	assert.ErrorIs(t, err, boom)

	got, err := f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, got.Status)
	_, err = f.repo.GetMatch(f.ctx, out[0].ID)
	assert.NoError(t, err)
}

func TestAccept_AfterExpiryThenSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg)
	e := f.add(t, Entry{PatientID: "p1"})

	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(48*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, start.Add(24*time.Hour), out[0].ExpiresAt)

	f.clk.Advance(25 * time.Hour)
	_, err = f.eng.AcceptSlotMatch(f.ctx, out[0].ID, f.booker())
	assert.ErrorIs(t, err, ErrOfferExpired)
	assert.Zero(t, f.calls)

	got, err := f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, got.Status)
	assert.Equal(t, 1, got.Attempts)

	_, err = f.eng.DeclineSlotMatch(f.ctx, out[0].ID)
	assert.ErrorIs(t, err, ErrOfferExpired)

	report, err := f.eng.ProcessExpirations(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e.ID}, report.Retried)
	assert.Empty(t, report.Expired)

	got, err = f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	// second offer lapses with attempts exhausted
	out, err = f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", f.clk.Now().Add(48*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	f.clk.Advance(25 * time.Hour)

	report, err = f.eng.ProcessExpirations(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e.ID}, report.Expired)

	got, err = f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, 2, got.Attempts)

	// expired is terminal
	f.clk.Advance(100 * time.Hour)
	report, err = f.eng.ProcessExpirations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Retried)
	got, err = f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	_, err = f.eng.Cancel(f.ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessExpirations_WaitsForEveryOffer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1"})
	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(48*time.Hour))})
	require.NoError(t, err)

	late := out[0]
	late.ID = uuid.New()
	late.ExpiresAt = start.Add(72 * time.Hour)
	require.NoError(t, f.repo.PutMatch(f.ctx, &late))

	f.clk.Advance(25 * time.Hour)
	report, err := f.eng.ProcessExpirations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Retried)
	assert.Empty(t, report.Expired)

	got, err := f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, got.Status)
}

func TestDecline(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	e := f.add(t, Entry{PatientID: "p1"})
	s := slot("dr-a", start.Add(4*time.Hour))
	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{s})
	require.NoError(t, err)

	got, err := f.eng.DeclineSlotMatch(f.ctx, out[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempts)

	_, err = f.repo.GetMatch(f.ctx, out[0].ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	matches, err := f.eng.FindMatchingSlots(f.ctx, []FreeSlot{s})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, e.ID, matches[0].EntryID)
}

func TestCancelAndDismiss(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.add(t, Entry{PatientID: "a"})
	b := f.add(t, Entry{PatientID: "b"})

	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(4*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	offered := out[0].EntryID

	cancelled, err := f.eng.Cancel(f.ctx, offered)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	_, err = f.eng.Get(f.ctx, offered)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = f.repo.GetMatch(f.ctx, out[0].ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	other := a.ID
	if other == offered {
		other = b.ID
	}
	dismissed, err := f.eng.Dismiss(f.ctx, other)
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, dismissed.Status)
	assert.True(t, dismissed.Status.Terminal())

	_, err = f.eng.Dismiss(f.ctx, other)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	m, err := f.eng.Fairness(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, m.ActiveEntries)
}

func TestTimeOfDay(t *testing.T) {
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	assert.True(t, Morning.Contains(day.Add(6*time.Hour)))
	assert.False(t, Morning.Contains(day.Add(12*time.Hour)))
	assert.True(t, Afternoon.Contains(day.Add(16*time.Hour+59*time.Minute)))
	assert.True(t, Evening.Contains(day.Add(20*time.Hour)))
	assert.False(t, Evening.Contains(day.Add(21*time.Hour)))
	assert.True(t, AnyTime.Contains(day))
}

// listHookRepository runs afterList once, right after the first listing
// returns, to stand in for another process writing between read and write.
type listHookRepository struct {
	Repository
	afterList func()
}

func (r *listHookRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]Entry, error) {
	out, err := r.Repository.ListByStatus(ctx, statuses...)
	if hook := r.afterList; hook != nil {
		r.afterList = nil
		hook()
	}
	return out, err
}

// twoProcesses returns an api engine and a worker engine sharing one store.
func twoProcesses(t *testing.T) (*fixture, *Engine, *listHookRepository) {
	t.Helper()
	f := newFixture(t, DefaultConfig())
	hooked := &listHookRepository{Repository: f.repo}
	worker, err := NewEngine(hooked, f.clk, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return f, worker, hooked
}

func TestUpdateWaitTimes_KeepsOfferMadeElsewhere(t *testing.T) {
	f, worker, hooked := twoProcesses(t)
	e := f.add(t, Entry{PatientID: "p1", Priority: PriorityHigh})
	s := slot("dr-a", start.Add(30*time.Hour))

	f.clk.Advance(2 * time.Hour)
	hooked.afterList = func() {
		out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{s})
		require.NoError(t, err)
		require.Len(t, out, 1)
	}
	n, err := worker.UpdateWaitTimes(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NotifiedAt)
	assert.InDelta(t, 2, got.WaitHours, 1e-9)

	out, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{s})
	require.NoError(t, err)
	assert.Empty(t, out)

	offers, err := f.repo.ListMatches(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 1)
}

func TestProcessExpirations_SkipsEntryChangedElsewhere(t *testing.T) {
	f, worker, hooked := twoProcesses(t)
	e := f.add(t, Entry{PatientID: "p1"})
	_, err := f.eng.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(48*time.Hour))})
	require.NoError(t, err)

	f.clk.Advance(25 * time.Hour)
	hooked.afterList = func() {
		_, err := f.eng.Dismiss(f.ctx, e.ID)
		require.NoError(t, err)
	}
	report, err := worker.ProcessExpirations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Retried)
	assert.Empty(t, report.Expired)

	got, err := f.eng.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, got.Status)
}

func TestAutoAssign_SlotFallsToNextWhenPickChangedElsewhere(t *testing.T) {
	f, worker, hooked := twoProcesses(t)
	waited := f.add(t, Entry{PatientID: "waited", Priority: PriorityHigh, AddedAt: start.Add(-48 * time.Hour)})
	recent := f.add(t, Entry{PatientID: "recent", Priority: PriorityHigh, AddedAt: start.Add(-1 * time.Hour)})

	hooked.afterList = func() {
		_, err := f.eng.Dismiss(f.ctx, waited.ID)
		require.NoError(t, err)
	}
	out, err := worker.AutoAssignSlots(f.ctx, []FreeSlot{slot("dr-a", start.Add(30*time.Hour))})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, recent.ID, out[0].EntryID)

	got, err := f.eng.Get(f.ctx, waited.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, got.Status)
	assert.Zero(t, got.Attempts)
	offers, err := f.repo.ListMatches(f.ctx, waited.ID)
	require.NoError(t, err)
	assert.Empty(t, offers)
}
