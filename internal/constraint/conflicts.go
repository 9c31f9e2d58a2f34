package constraint

import (
	"sort"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

type ConflictType string

const (
	ConflictDoubleBooking       ConflictType = "double_booking"
	ConflictRoom                ConflictType = "room_conflict"
	ConflictEquipment           ConflictType = "equipment_conflict"
	ConflictInsufficientTime    ConflictType = "insufficient_time"
	ConflictOutsideHours        ConflictType = "outside_hours"
	ConflictProviderUnavailable ConflictType = "provider_unavailable"
)

var conflictByCode = map[Code]ConflictType{
	CodeDoubleBooking:        ConflictDoubleBooking,
	CodeRoomConflict:         ConflictRoom,
	CodeRoomUnavailable:      ConflictRoom,
	CodeEquipmentConflict:    ConflictEquipment,
	CodeEquipmentUnavailable: ConflictEquipment,
	CodeBufferTime:           ConflictInsufficientTime,
	CodeInvalidDuration:      ConflictInsufficientTime,
	CodeDurationExceedsSlot:  ConflictInsufficientTime,
	CodeOutsideHours:         ConflictOutsideHours,
	CodeNotWorkingDay:        ConflictProviderUnavailable,
	CodeProviderException:    ConflictProviderUnavailable,
}

// Classify maps a violation code onto the conflict taxonomy.
func Classify(code Code) (ConflictType, bool) {
	t, found := conflictByCode[code]
	return t, found
}

type Conflict struct {
	AppointmentID string       `json:"appointment_id"`
	ProviderID    string       `json:"provider_id"`
	Type          ConflictType `json:"type"`
	Priority      Priority     `json:"priority"`
	Message       string       `json:"message"`
}

// DetectConflicts validates every active appointment against its provider's
// schedule and the rest of the snapshot. Room and equipment rules see every
// provider's bookings; provider-scoped rules filter by provider themselves.
func (e *Engine) DetectConflicts(schedules map[string]schedule.Schedule, appts []schedule.Appointment) []Conflict {
	var out []Conflict

	for _, a := range appts {
		if !a.Active() {
			continue
		}
		s, found := schedules[a.ProviderID]
		if !found {
			out = append(out, Conflict{
				AppointmentID: a.ID,
				ProviderID:    a.ProviderID,
				Type:          ConflictProviderUnavailable,
				Priority:      Critical,
				Message:       schedule.ErrNoSchedule.Error(),
			})
			continue
		}

		in := Input{
			Candidate: a,
			Schedule:  &s,
			Existing:  appts,
			engine:    e,
			searching: true,
		}
		v := e.run(in)
		for _, vi := range v.Violations {
			t, known := Classify(vi.Code)
			if !known {
				continue
			}
			out = append(out, Conflict{
				AppointmentID: a.ID,
				ProviderID:    a.ProviderID,
				Type:          t,
				Priority:      vi.Priority,
				Message:       vi.Message,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].AppointmentID < out[j].AppointmentID
	})
	return out
}
