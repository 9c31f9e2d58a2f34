package waitlist

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusNotified  Status = "notified"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusDismissed Status = "dismissed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusExpired, StatusCancelled, StatusDismissed:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Urgency maps a priority tier onto its score component.
func (p Priority) Urgency() float64 {
	switch p {
	case PriorityUrgent:
		return 100
	case PriorityHigh:
		return 75
	case PriorityMedium:
		return 50
	case PriorityLow:
		return 25
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Urgency() > 0
}

type TimeOfDay string

const (
	AnyTime   TimeOfDay = "any"
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// Contains reports whether t starts inside the band. Morning is 06:00-12:00,
// afternoon 12:00-17:00, evening 17:00-21:00.
func (b TimeOfDay) Contains(t time.Time) bool {
	h := t.Hour()
	switch b {
	case Morning:
		return h >= 6 && h < 12
	case Afternoon:
		return h >= 12 && h < 17
	case Evening:
		return h >= 17 && h < 21
	}
	return true
}

type Entry struct {
	ID                  uuid.UUID   `json:"id"`
	PatientID           string      `json:"patient_id"`
	ProviderID          string      `json:"provider_id,omitempty"`
	PreferredProviderID string      `json:"preferred_provider_id,omitempty"`
	AppointmentType     string      `json:"appointment_type,omitempty"`
	Reason              string      `json:"reason,omitempty"`
	DurationMinutes     int         `json:"duration_minutes"`
	PreferredDates      []time.Time `json:"preferred_dates,omitempty"`
	PreferredTimeOfDay  TimeOfDay   `json:"preferred_time_of_day"`
	SameDayOnly         bool        `json:"same_day_only"`
	Priority            Priority    `json:"priority"`
	Score               float64     `json:"score"`
	WaitHours           float64     `json:"wait_hours"`
	Attempts            int         `json:"attempts"`
	Status              Status      `json:"status"`
	AddedAt             time.Time   `json:"added_at"`
	NotifiedAt          *time.Time  `json:"notified_at,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`

	// Version advances on every status transition.
	Version int64 `json:"version"`
}

func (e Entry) prefersDate(t time.Time) bool {
	for _, d := range e.PreferredDates {
		if schedule.SameDay(d, t) {
			return true
		}
	}
	return false
}

// FreeSlot is a concrete opening that may be offered to the waitlist.
type FreeSlot struct {
	ProviderID      string    `json:"provider_id"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	RoomID          string    `json:"room_id,omitempty"`
}

// Key identifies the slot by provider and start time.
func (s FreeSlot) Key() string {
	return s.ProviderID + "@" + s.Start.UTC().Format(time.RFC3339)
}

// SlotMatch is a time-limited offer of one slot to one entry.
type SlotMatch struct {
	ID        uuid.UUID `json:"id"`
	EntryID   uuid.UUID `json:"entry_id"`
	PatientID string    `json:"patient_id"`
	Slot      FreeSlot  `json:"slot"`
	Score     float64   `json:"score"`
	Reasons   []string  `json:"reasons"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (m SlotMatch) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}
