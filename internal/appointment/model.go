package appointment

import (
	"time"

	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/schedule"
)

// BookingRequest is a proposed appointment plus the resources the caller
// knows to be free.
type BookingRequest struct {
	ProviderID         string    `json:"provider_id" validate:"required"`
	PatientID          string    `json:"patient_id" validate:"required"`
	RoomID             string    `json:"room_id,omitempty"`
	EquipmentID        string    `json:"equipment_id,omitempty"`
	Start              time.Time `json:"start" validate:"required"`
	DurationMinutes    int       `json:"duration_minutes" validate:"required,gt=0"`
	Type               string    `json:"type,omitempty"`
	AvailableRooms     []string  `json:"available_rooms,omitempty"`
	AvailableEquipment []string  `json:"available_equipment,omitempty"`
	AllowOverbooking   bool      `json:"allow_overbooking"`
}

func (r BookingRequest) candidate() schedule.Appointment {
	return schedule.Appointment{
		ProviderID:      r.ProviderID,
		PatientID:       r.PatientID,
		RoomID:          r.RoomID,
		EquipmentID:     r.EquipmentID,
		Start:           r.Start,
		DurationMinutes: r.DurationMinutes,
		Status:          schedule.StatusScheduled,
		Type:            r.Type,
	}
}

// Booking is the outcome of a booking attempt. Appointment is nil when the
// validation rejected the request.
type Booking struct {
	Appointment *schedule.Appointment `json:"appointment,omitempty"`
	Validation  constraint.Validation `json:"validation"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID string
	Payload       []byte
	CreatedAt     time.Time
}
