package api

import (
	"time"

	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/optimize"
	"github.com/hackgods/care-allocation-core/internal/schedule"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

type ConflictsRequest struct {
	ProviderIDs []string  `json:"provider_ids"`
	From        time.Time `json:"from" validate:"required"`
	To          time.Time `json:"to" validate:"required,gtfield=From"`
}

type ConflictsResponse struct {
	Conflicts []constraint.Conflict `json:"conflicts"`
}

type OverbookingRequest struct {
	Rules       []schedule.OverbookingRule `json:"rules"`
	Appointment schedule.Appointment       `json:"appointment"`
}

type BlockCheckRequest struct {
	Block           schedule.BlockSchedule `json:"block"`
	DurationMinutes int                    `json:"duration_minutes" validate:"gt=0"`
}

type SuggestRequest struct {
	optimize.SlotRequest
	Preferences *optimize.Preferences `json:"preferences,omitempty"`
	// Origin is the patient's location; when set, suggestions are ranked by travel.
	Origin string `json:"origin,omitempty"`
}

type SuggestResponse struct {
	Suggestions []optimize.Suggestion `json:"suggestions"`
}

type LoadResponse struct {
	Loads       []optimize.ProviderLoad `json:"loads"`
	Rebalancing optimize.Rebalancing    `json:"rebalancing"`
}

type CancelResponse struct {
	Appointment *schedule.Appointment `json:"appointment"`
	Offers      []waitlist.SlotMatch  `json:"offers"`
}

type AddWaitlistRequest struct {
	PatientID           string             `json:"patient_id" validate:"required"`
	ProviderID          string             `json:"provider_id,omitempty"`
	PreferredProviderID string             `json:"preferred_provider_id,omitempty"`
	AppointmentType     string             `json:"appointment_type,omitempty"`
	Reason              string             `json:"reason,omitempty"`
	DurationMinutes     int                `json:"duration_minutes" validate:"gte=0,lte=480"`
	PreferredDates      []time.Time        `json:"preferred_dates,omitempty"`
	PreferredTimeOfDay  waitlist.TimeOfDay `json:"preferred_time_of_day,omitempty" validate:"omitempty,oneof=any morning afternoon evening"`
	SameDayOnly         bool               `json:"same_day_only"`
	Priority            waitlist.Priority  `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
}

func (r AddWaitlistRequest) entry() waitlist.Entry {
	return waitlist.Entry{
		PatientID:           r.PatientID,
		ProviderID:          r.ProviderID,
		PreferredProviderID: r.PreferredProviderID,
		AppointmentType:     r.AppointmentType,
		Reason:              r.Reason,
		DurationMinutes:     r.DurationMinutes,
		PreferredDates:      r.PreferredDates,
		PreferredTimeOfDay:  r.PreferredTimeOfDay,
		SameDayOnly:         r.SameDayOnly,
		Priority:            r.Priority,
	}
}

type PriorityRequest struct {
	Priority waitlist.Priority `json:"priority" validate:"required,oneof=low medium high urgent"`
}

// SlotsRequest supplies free slots directly, or asks for them to be found
// among the given providers.
type SlotsRequest struct {
	Slots           []waitlist.FreeSlot `json:"slots" validate:"dive"`
	ProviderIDs     []string            `json:"provider_ids"`
	DurationMinutes int                 `json:"duration_minutes" validate:"gte=0"`
}

type OffersResponse struct {
	Offers []waitlist.SlotMatch `json:"offers"`
}

type RefreshResponse struct {
	Updated  int                      `json:"updated"`
	Fairness waitlist.FairnessMetrics `json:"fairness"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
