package constraint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func weekdaySchedule(providerID string) *schedule.Schedule {
	s := &schedule.Schedule{ProviderID: providerID, MaxConcurrent: 1}
	for d := time.Monday; d <= time.Friday; d++ {
		s.Windows = append(s.Windows, schedule.TimeWindow{
			Day: d, Start: schedule.At(9, 0), End: schedule.At(17, 0), Available: true,
		})
	}
	return s
}

func appt(id, provider string, start time.Time, minutes int) schedule.Appointment {
	return schedule.Appointment{
		ID:              id,
		ProviderID:      provider,
		Start:           start,
		DurationMinutes: minutes,
		Status:          schedule.StatusScheduled,
	}
}

func at(day time.Time, h, m int) time.Time {
	return schedule.At(h, m).On(day)
}

func TestValidateAppointment_WorkingHoursAccepted(t *testing.T) {
	e := NewEngine()
	v, err := e.ValidateAppointment(Input{
		Candidate: appt("", "dr-1", at(monday, 9, 0), 30),
		Schedule:  weekdaySchedule("dr-1"),
	})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Violations)
}

func TestValidateAppointment_NotWorkingDay(t *testing.T) {
	e := NewEngine()
	saturday := monday.AddDate(0, 0, 5)

	v, err := e.ValidateAppointment(Input{
		Candidate: appt("", "dr-1", at(saturday, 9, 0), 30),
		Schedule:  weekdaySchedule("dr-1"),
	})
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, CodeNotWorkingDay, v.Violations[0].Code)
	assert.Equal(t, "Provider not working on Saturday", v.Violations[0].Message)

	require.Len(t, v.Suggestions, 1)
	assert.Equal(t, at(monday.AddDate(0, 0, 7), 9, 0), v.Suggestions[0].Start)
}

func TestValidateAppointment_CriticalFailureStopsEvaluation(t *testing.T) {
	e := NewEngine()
	saturday := monday.AddDate(0, 0, 5)
	cand := appt("", "dr-1", at(saturday, 10, 0), 30)
	cand.RoomID = "R1"
	other := appt("x", "dr-2", at(saturday, 10, 0), 30)
	other.RoomID = "R1"

	v, err := e.ValidateAppointment(Input{
		Candidate: cand,
		Schedule:  weekdaySchedule("dr-1"),
		Existing:  []schedule.Appointment{other},
	})
	require.NoError(t, err)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, Critical, v.Violations[0].Priority)
}

func TestValidateAppointment_Exception(t *testing.T) {
	s := weekdaySchedule("dr-1")
	s.Exceptions = []schedule.Exception{{Date: monday, Reason: "annual leave"}}

	v, err := NewEngine().ValidateAppointment(Input{
		Candidate: appt("", "dr-1", at(monday, 11, 0), 30),
		Schedule:  s,
	})
	require.NoError(t, err)
	require.True(t, v.Has(CodeProviderException))
	assert.Contains(t, v.Violations[0].Message, "annual leave")
	require.NotEmpty(t, v.Suggestions)
	assert.Equal(t, at(monday.AddDate(0, 0, 1), 9, 0), v.Suggestions[0].Start)
}

func TestValidateAppointment_PartialException(t *testing.T) {
	s := weekdaySchedule("dr-1")
	s.Exceptions = []schedule.Exception{{Date: monday, Reason: "training", Start: schedule.At(12, 0), End: schedule.At(13, 0)}}
	e := NewEngine()

	v, err := e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 12, 30), 30), Schedule: s})
	require.NoError(t, err)
	assert.True(t, v.Has(CodeProviderException))
	require.NotEmpty(t, v.Suggestions)
	assert.Equal(t, at(monday, 13, 0), v.Suggestions[0].Start)

	v, err = e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 11, 0), 30), Schedule: s})
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestValidateAppointment_OutsideHours(t *testing.T) {
	v, err := NewEngine().ValidateAppointment(Input{
		Candidate: appt("", "dr-1", at(monday, 16, 45), 30),
		Schedule:  weekdaySchedule("dr-1"),
	})
	require.NoError(t, err)
	require.True(t, v.Has(CodeOutsideHours))
	require.NotEmpty(t, v.Suggestions)
	assert.Equal(t, at(monday.AddDate(0, 0, 1), 9, 0), v.Suggestions[0].Start)
}

func TestValidateAppointment_Duration(t *testing.T) {
	v, err := NewEngine().ValidateAppointment(Input{
		Candidate: appt("", "dr-1", at(monday, 10, 0), 0),
		Schedule:  weekdaySchedule("dr-1"),
	})
	require.NoError(t, err)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, CodeInvalidDuration, v.Violations[0].Code)
}

func TestDurationValidity_ExceedsSlot(t *testing.T) {
	r := DurationValidity(Input{
		Candidate: appt("", "dr-1", at(monday, 16, 30), 60),
		Schedule:  weekdaySchedule("dr-1"),
	})
	assert.False(t, r.Satisfied)
	assert.Equal(t, CodeDurationExceedsSlot, r.Code)
}

func TestValidateAppointment_RoomOverlap(t *testing.T) {
	booked := appt("a1", "dr-2", at(monday, 10, 0), 30)
	booked.RoomID = "R1"
	cand := appt("", "dr-1", at(monday, 10, 15), 30)
	cand.RoomID = "R1"

	v, err := NewEngine().ValidateAppointment(Input{
		Candidate:      cand,
		Schedule:       weekdaySchedule("dr-1"),
		Existing:       []schedule.Appointment{booked},
		AvailableRooms: []string{"R1", "R2"},
	})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.True(t, v.Has(CodeRoomConflict))
	require.NotEmpty(t, v.Suggestions)
	assert.Equal(t, "R2", v.Suggestions[0].RoomID)
}

func TestRoomAvailability_CancelledDoesNotBlock(t *testing.T) {
	booked := appt("a1", "dr-2", at(monday, 10, 0), 30)
	booked.RoomID = "R1"
	booked.Status = schedule.StatusCancelled
	cand := appt("", "dr-1", at(monday, 10, 15), 30)
	cand.RoomID = "R1"

	r := RoomAvailability(Input{Candidate: cand, Schedule: weekdaySchedule("dr-1"), Existing: []schedule.Appointment{booked}})
	assert.True(t, r.Satisfied)
}

func TestRoomAvailability_OverlappingPairNeverBothSatisfied(t *testing.T) {
	s := weekdaySchedule("dr-1")
	for offset := -45; offset <= 45; offset += 5 {
		a := appt("a", "dr-1", at(monday, 11, 0), 30)
		a.RoomID = "R1"
		b := appt("b", "dr-2", at(monday, 11, 0).Add(time.Duration(offset)*time.Minute), 30)
		b.RoomID = "R1"

		ra := RoomAvailability(Input{Candidate: a, Schedule: s, Existing: []schedule.Appointment{b}})
		rb := RoomAvailability(Input{Candidate: b, Schedule: s, Existing: []schedule.Appointment{a}})

		if a.OverlapsWith(b) {
			assert.False(t, ra.Satisfied && rb.Satisfied, "offset %d", offset)
		} else {
			assert.True(t, ra.Satisfied && rb.Satisfied, "offset %d", offset)
		}
	}
}

func TestValidateAppointment_EquipmentConflict(t *testing.T) {
	booked := appt("a1", "dr-2", at(monday, 10, 0), 60)
	booked.EquipmentID = "ultrasound-1"
	cand := appt("", "dr-1", at(monday, 10, 30), 30)
	cand.EquipmentID = "ultrasound-1"

	v, err := NewEngine().ValidateAppointment(Input{
		Candidate: cand,
		Schedule:  weekdaySchedule("dr-1"),
		Existing:  []schedule.Appointment{booked},
	})
	require.NoError(t, err)
	assert.True(t, v.Has(CodeEquipmentConflict))
}

func TestValidateAppointment_BufferTime(t *testing.T) {
	s := weekdaySchedule("dr-1")
	s.BufferMinutes = 15
	existing := []schedule.Appointment{appt("a1", "dr-1", at(monday, 9, 0), 30)}
	e := NewEngine()

	v, err := e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 9, 40), 30), Schedule: s, Existing: existing})
	require.NoError(t, err)
	assert.True(t, v.Has(CodeBufferTime))

	v, err = e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 9, 45), 30), Schedule: s, Existing: existing})
	require.NoError(t, err)
	assert.True(t, v.Valid)

	existing = append(existing, appt("a2", "dr-1", at(monday, 11, 0), 30))
	v, err = e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 10, 30), 20), Schedule: s, Existing: existing})
	require.NoError(t, err)
	require.True(t, v.Has(CodeBufferTime))
	assert.Contains(t, v.Violations[0].Message, "next appointment starts at 11:00")
}

func TestValidateAppointment_MaxConcurrent(t *testing.T) {
	existing := []schedule.Appointment{appt("a1", "dr-1", at(monday, 10, 0), 30)}
	cand := appt("", "dr-1", at(monday, 10, 0), 30)
	e := NewEngine()

	v, err := e.ValidateAppointment(Input{Candidate: cand, Schedule: weekdaySchedule("dr-1"), Existing: existing})
	require.NoError(t, err)
	assert.True(t, v.Has(CodeDoubleBooking))

	v, err = e.ValidateAppointment(Input{Candidate: cand, Schedule: weekdaySchedule("dr-1"), Existing: existing, AllowOverbooking: true})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	require.Len(t, v.Notes, 1)
	assert.Contains(t, v.Notes[0], "1 overlapping")

	s := weekdaySchedule("dr-1")
	s.MaxConcurrent = 2
	v, err = e.ValidateAppointment(Input{Candidate: cand, Schedule: s, Existing: existing})
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestValidateAppointment_IgnoresItself(t *testing.T) {
	a := appt("a1", "dr-1", at(monday, 10, 0), 30)
	a.RoomID = "R1"
	v, err := NewEngine().ValidateAppointment(Input{Candidate: a, Schedule: weekdaySchedule("dr-1"), Existing: []schedule.Appointment{a}})
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestValidateAppointment_ProgrammerErrors(t *testing.T) {
	e := NewEngine()
	_, err := e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 9, 0), 30)})
	assert.ErrorIs(t, err, schedule.ErrNoSchedule)

	_, err = e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 9, 0), 30), Schedule: weekdaySchedule("dr-2")})
	assert.ErrorIs(t, err, ErrScheduleMismatch)
}

func TestEngine_CustomConstraintOrdering(t *testing.T) {
	var order []string
	record := func(name string, satisfied bool) func(Input) Result {
		return func(Input) Result {
			order = append(order, name)
			return Result{Satisfied: satisfied, Code: "custom", Message: name}
		}
	}
	e := NewEngine(
		Constraint{Name: "low", Priority: Low, Check: record("low", false)},
		Constraint{Name: "high", Priority: High, Check: record("high", false)},
		Constraint{Name: "medium", Priority: Medium, Check: record("medium", true)},
	)

	v, err := e.ValidateAppointment(Input{Candidate: appt("", "dr-1", at(monday, 9, 0), 30), Schedule: weekdaySchedule("dr-1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "medium", "low"}, order)
	assert.False(t, v.Valid)
	assert.Len(t, v.Violations, 2)
	assert.Equal(t, []string{"medium"}, v.Notes)
}
