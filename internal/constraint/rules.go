package constraint

import (
	"fmt"
	"slices"
	"time"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

const (
	NameProviderAvailability  = "provider_availability"
	NameDuration              = "duration_validity"
	NameRoomAvailability      = "room_availability"
	NameEquipmentAvailability = "equipment_availability"
	NameDoubleBooking         = "double_booking"
	NameBufferTime            = "buffer_time"
)

// Defaults is the standard rule set, in evaluation order within each priority.
func Defaults() []Constraint {
	return []Constraint{
		{Name: NameProviderAvailability, Priority: Critical, Check: ProviderAvailability},
		{Name: NameDuration, Priority: Critical, Check: DurationValidity},
		{Name: NameRoomAvailability, Priority: High, Check: RoomAvailability},
		{Name: NameEquipmentAvailability, Priority: High, Check: EquipmentAvailability},
		{Name: NameDoubleBooking, Priority: High, Check: DoubleBooking},
		{Name: NameBufferTime, Priority: Medium, Check: BufferTime},
	}
}

const timeFmt = "15:04"

func ProviderAvailability(in Input) Result {
	c := in.Candidate
	s := in.Schedule

	if ex, blocked := s.ExceptionAt(c.Start, c.End()); blocked {
		r := fail(CodeProviderException, "Provider unavailable on %s: %s", c.Start.Format("2006-01-02"), ex.Reason)
		r.Suggestion = in.suggest()
		return r
	}

	windows := s.WindowsOn(c.Start.Weekday())
	if len(windows) == 0 {
		r := fail(CodeNotWorkingDay, "Provider not working on %s", c.Start.Weekday())
		r.Suggestion = in.suggest()
		return r
	}

	if _, fits := containingWindow(windows, c); !fits {
		r := fail(CodeOutsideHours, "Requested time %s-%s is outside provider working hours",
			c.Start.Format(timeFmt), c.End().Format(timeFmt))
		r.Suggestion = in.suggest()
		return r
	}

	return ok()
}

func DurationValidity(in Input) Result {
	c := in.Candidate
	if c.DurationMinutes <= 0 {
		return fail(CodeInvalidDuration, "Duration must be positive, got %d minutes", c.DurationMinutes)
	}

	startClock := schedule.ClockOf(c.Start)
	for _, w := range in.Schedule.WindowsOn(c.Start.Weekday()) {
		if startClock < w.Start || startClock >= w.End {
			continue
		}
		if _, fits := containingWindow([]schedule.TimeWindow{w}, c); fits {
			return ok()
		}
		return fail(CodeDurationExceedsSlot, "%d minute appointment does not fit the %s-%s schedule slot",
			c.DurationMinutes, w.Start, w.End)
	}

	return fail(CodeInvalidDuration, "No schedule slot at %s for a %d minute appointment",
		c.Start.Format(timeFmt), c.DurationMinutes)
}

func RoomAvailability(in Input) Result {
	c := in.Candidate
	if c.RoomID == "" {
		return ok()
	}
	if in.AvailableRooms != nil && !slices.Contains(in.AvailableRooms, c.RoomID) {
		return fail(CodeRoomUnavailable, "Room %s is not available", c.RoomID)
	}

	clash, found := firstClash(in.Existing, c, func(a schedule.Appointment) bool { return a.RoomID == c.RoomID })
	if !found {
		return ok()
	}

	r := fail(CodeRoomConflict, "Room %s is already booked from %s to %s",
		c.RoomID, clash.Start.Format(timeFmt), clash.End().Format(timeFmt))
	for _, room := range in.AvailableRooms {
		if room == c.RoomID {
			continue
		}
		if _, busy := firstClash(in.Existing, c, func(a schedule.Appointment) bool { return a.RoomID == room }); !busy {
			r.Suggestion = &Alternative{Start: c.Start, ProviderID: c.ProviderID, RoomID: room}
			break
		}
	}
	return r
}

func EquipmentAvailability(in Input) Result {
	c := in.Candidate
	if c.EquipmentID == "" {
		return ok()
	}
	if in.AvailableEquipment != nil && !slices.Contains(in.AvailableEquipment, c.EquipmentID) {
		return fail(CodeEquipmentUnavailable, "Equipment %s is not available", c.EquipmentID)
	}

	clash, found := firstClash(in.Existing, c, func(a schedule.Appointment) bool { return a.EquipmentID == c.EquipmentID })
	if !found {
		return ok()
	}
	return fail(CodeEquipmentConflict, "Equipment %s is in use from %s to %s",
		c.EquipmentID, clash.Start.Format(timeFmt), clash.End().Format(timeFmt))
}

func BufferTime(in Input) Result {
	buffer := time.Duration(in.Schedule.BufferMinutes) * time.Minute
	if buffer <= 0 {
		return ok()
	}
	c := in.Candidate

	for _, a := range in.Existing {
		if !sameProviderOther(a, c) {
			continue
		}
		before := c.Start.Sub(a.End())
		if before >= 0 && before < buffer {
			return fail(CodeBufferTime, "%d minute buffer required: previous appointment ends at %s",
				in.Schedule.BufferMinutes, a.End().Format(timeFmt))
		}
		after := a.Start.Sub(c.End())
		if after >= 0 && after < buffer {
			return fail(CodeBufferTime, "%d minute buffer required: next appointment starts at %s",
				in.Schedule.BufferMinutes, a.Start.Format(timeFmt))
		}
	}
	return ok()
}

func DoubleBooking(in Input) Result {
	c := in.Candidate
	limit := in.Schedule.Concurrency()

	count := 0
	for _, a := range in.Existing {
		if sameProviderOther(a, c) && a.OverlapsWith(c) {
			count++
		}
	}

	if count < limit {
		return ok()
	}
	if in.AllowOverbooking {
		return Result{
			Satisfied: true,
			Message:   fmt.Sprintf("Overbooking: %d overlapping appointment(s) against a limit of %d", count, limit),
		}
	}
	return fail(CodeDoubleBooking, "Provider already has %d overlapping appointment(s), limit is %d", count, limit)
}

func containingWindow(windows []schedule.TimeWindow, c schedule.Appointment) (schedule.TimeWindow, bool) {
	if !schedule.SameDay(c.Start, c.End().Add(-time.Nanosecond)) {
		return schedule.TimeWindow{}, false
	}
	start := schedule.ClockOf(c.Start)
	end := start + schedule.ClockTime(c.DurationMinutes)
	for _, w := range windows {
		if start >= w.Start && end <= w.End {
			return w, true
		}
	}
	return schedule.TimeWindow{}, false
}

func sameProviderOther(a, c schedule.Appointment) bool {
	return a.Active() && a.ProviderID == c.ProviderID && (c.ID == "" || a.ID != c.ID)
}

func firstClash(existing []schedule.Appointment, c schedule.Appointment, match func(schedule.Appointment) bool) (schedule.Appointment, bool) {
	for _, a := range existing {
		if !a.Active() || (c.ID != "" && a.ID == c.ID) {
			continue
		}
		if match(a) && a.OverlapsWith(c) {
			return a, true
		}
	}
	return schedule.Appointment{}, false
}
