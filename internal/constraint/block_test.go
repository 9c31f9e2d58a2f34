package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

func TestCanBookInBlock(t *testing.T) {
	block := schedule.BlockSchedule{
		ID:          "walk-in",
		ProviderID:  "dr-1",
		Start:       at(monday, 9, 0),
		End:         at(monday, 12, 0),
		SlotMinutes: 20,
	}
	before := at(monday, 8, 0)

	assert.Equal(t, 9, block.EffectiveCapacity())
	assert.True(t, CanBookInBlock(block, 20, before).Satisfied)

	r := CanBookInBlock(block, 30, before)
	assert.Equal(t, CodeSlotMismatch, r.Code)

	full := block
	full.Booked = 9
	r = CanBookInBlock(full, 20, before)
	assert.Equal(t, CodeCapacityExceeded, r.Code)

	overridden := full
	overridden.Capacity = 12
	assert.True(t, CanBookInBlock(overridden, 20, before).Satisfied)

	r = CanBookInBlock(block, 20, at(monday, 9, 0))
	assert.Equal(t, CodeBlockStarted, r.Code)
}

func TestCheckOverbooking_MostPermissiveRule(t *testing.T) {
	rules := []schedule.OverbookingRule{
		{ID: "any", MaxOverbook: 1, WindowMinutes: 60},
		{ID: "dr-1", ProviderID: "dr-1", MaxOverbook: 2, WindowMinutes: 60, RequiresApproval: true},
		{ID: "other", ProviderID: "dr-9", MaxOverbook: 10, WindowMinutes: 60},
	}
	existing := []schedule.Appointment{
		appt("a1", "dr-1", at(monday, 10, 0), 30),
		appt("a2", "dr-1", at(monday, 10, 20), 30),
		appt("a3", "dr-2", at(monday, 10, 10), 30),
	}

	d := CheckOverbooking(rules, appt("", "dr-1", at(monday, 10, 10), 30), existing)
	require.NotNil(t, d.Rule)
	assert.Equal(t, "dr-1", d.Rule.ID)
	assert.Equal(t, 2, d.InWindow)
	assert.False(t, d.Satisfied)
	assert.Equal(t, CodeCapacityExceeded, d.Code)

	d = CheckOverbooking(rules, appt("", "dr-1", at(monday, 11, 0), 30), existing)
	assert.True(t, d.Satisfied)
	assert.True(t, d.RequiresApproval)
	assert.Equal(t, 0, d.InWindow)
}

func TestCheckOverbooking_NoRule(t *testing.T) {
	d := CheckOverbooking(nil, appt("", "dr-1", at(monday, 10, 0), 30), nil)
	assert.False(t, d.Satisfied)
	assert.Equal(t, CodeNoOverbookingRule, d.Code)
	assert.Nil(t, d.Rule)
}

func TestDetectConflicts(t *testing.T) {
	saturday := monday.AddDate(0, 0, 5)
	a1 := appt("a1", "dr-1", at(monday, 10, 0), 30)
	a1.RoomID = "R1"
	a2 := appt("a2", "dr-1", at(monday, 10, 15), 30)
	a2.RoomID = "R2"
	a3 := appt("a3", "dr-2", at(monday, 10, 0), 30)
	a3.RoomID = "R1"
	a4 := appt("a4", "dr-3", at(monday, 10, 0), 30)
	a5 := appt("a5", "dr-1", at(saturday, 10, 0), 30)
	a6 := appt("a6", "dr-1", at(monday, 10, 0), 30)
	a6.Status = schedule.StatusCancelled

	schedules := map[string]schedule.Schedule{
		"dr-1": *weekdaySchedule("dr-1"),
		"dr-2": *weekdaySchedule("dr-2"),
	}

	conflicts := NewEngine().DetectConflicts(schedules, []schedule.Appointment{a1, a2, a3, a4, a5, a6})

	byAppt := map[string][]ConflictType{}
	for _, c := range conflicts {
		byAppt[c.AppointmentID] = append(byAppt[c.AppointmentID], c.Type)
	}

	assert.ElementsMatch(t, []ConflictType{ConflictRoom, ConflictDoubleBooking}, byAppt["a1"])
	assert.ElementsMatch(t, []ConflictType{ConflictDoubleBooking}, byAppt["a2"])
	assert.ElementsMatch(t, []ConflictType{ConflictRoom}, byAppt["a3"])
	assert.ElementsMatch(t, []ConflictType{ConflictProviderUnavailable}, byAppt["a4"])
	assert.ElementsMatch(t, []ConflictType{ConflictProviderUnavailable}, byAppt["a5"])
	assert.NotContains(t, byAppt, "a6")
}

func TestClassify(t *testing.T) {
	ct, known := Classify(CodeBufferTime)
	assert.True(t, known)
	assert.Equal(t, ConflictInsufficientTime, ct)

	_, known = Classify(CodeNoOverbookingRule)
	assert.False(t, known)
}
