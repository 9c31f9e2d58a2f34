package schedule

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNoSchedule is returned when a provider has no schedule configured.
	ErrNoSchedule = errors.New("no schedule found for provider")
	ErrBadClock   = errors.New("invalid clock time, want HH:MM")
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCheckedIn AppointmentStatus = "checked-in"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

func At(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func ParseClock(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return At(h, m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On places the clock time on the calendar day of t, in t's location.
func (c ClockTime) On(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location()).Add(time.Duration(c) * time.Minute)
}

// ClockOf returns the time of day of t.
func ClockOf(t time.Time) ClockTime {
	return At(t.Hour(), t.Minute())
}

// TimeWindow is one recurring weekly block of a provider's schedule.
type TimeWindow struct {
	Day       time.Weekday `json:"day"`
	Start     ClockTime    `json:"start"`
	End       ClockTime    `json:"end"`
	Available bool         `json:"available"`
}

// Exception blocks a specific date. A zero Start and End blocks the whole day.
type Exception struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
	Start  ClockTime `json:"start,omitempty"`
	End    ClockTime `json:"end,omitempty"`
}

func (e Exception) AllDay() bool {
	return e.Start == 0 && e.End == 0
}

// Covers reports whether the exception blocks any part of [start, end).
func (e Exception) Covers(start, end time.Time) bool {
	if !SameDay(e.Date, start) {
		return false
	}
	if e.AllDay() {
		return true
	}
	return Overlaps(e.Start.On(start), e.End.On(start), start, end)
}

type Schedule struct {
	ProviderID    string       `json:"provider_id"`
	Windows       []TimeWindow `json:"windows"`
	Exceptions    []Exception  `json:"exceptions"`
	BufferMinutes int          `json:"buffer_minutes"`
	MaxConcurrent int          `json:"max_concurrent"`
	Location      string       `json:"location,omitempty"`
}

// Concurrency is the effective max-concurrent limit, never below one.
func (s *Schedule) Concurrency() int {
	if s.MaxConcurrent <= 0 {
		return 1
	}
	return s.MaxConcurrent
}

// WindowsOn returns the available windows for the weekday of t, ordered by start.
func (s *Schedule) WindowsOn(day time.Weekday) []TimeWindow {
	var out []TimeWindow
	for _, w := range s.Windows {
		if w.Day == day && w.Available && w.End > w.Start {
			out = append(out, w)
		}
	}
	slices.SortStableFunc(out, func(a, b TimeWindow) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return out
}

// ExceptionAt returns the first exception blocking [start, end).
func (s *Schedule) ExceptionAt(start, end time.Time) (Exception, bool) {
	for _, e := range s.Exceptions {
		if e.Covers(start, end) {
			return e, true
		}
	}
	return Exception{}, false
}

type Appointment struct {
	ID              string            `json:"id"`
	ProviderID      string            `json:"provider_id"`
	PatientID       string            `json:"patient_id,omitempty"`
	RoomID          string            `json:"room_id,omitempty"`
	EquipmentID     string            `json:"equipment_id,omitempty"`
	Start           time.Time         `json:"start"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	Type            string            `json:"type,omitempty"`
}

func (a Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Active reports whether the appointment still occupies its resources.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

func (a Appointment) OverlapsWith(b Appointment) bool {
	return Overlaps(a.Start, a.End(), b.Start, b.End())
}

// BlockSchedule reserves provider time in fixed-length slots.
type BlockSchedule struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	SlotMinutes int       `json:"slot_minutes"`
	Capacity    int       `json:"capacity,omitempty"`
	Booked      int       `json:"booked"`
}

// EffectiveCapacity is Capacity when set, otherwise floor(total minutes / slot minutes).
func (b BlockSchedule) EffectiveCapacity() int {
	if b.Capacity > 0 {
		return b.Capacity
	}
	if b.SlotMinutes <= 0 {
		return 0
	}
	return int(b.End.Sub(b.Start).Minutes()) / b.SlotMinutes
}

// OverbookingRule scopes extra bookings to a provider and/or appointment type.
// Empty ProviderID or AppointmentType matches any.
type OverbookingRule struct {
	ID               string `json:"id"`
	ProviderID       string `json:"provider_id,omitempty"`
	AppointmentType  string `json:"appointment_type,omitempty"`
	MaxOverbook      int    `json:"max_overbook"`
	WindowMinutes    int    `json:"window_minutes"`
	RequiresApproval bool   `json:"requires_approval"`
}

func (r OverbookingRule) Applies(providerID, apptType string) bool {
	if r.ProviderID != "" && r.ProviderID != providerID {
		return false
	}
	if r.AppointmentType != "" && r.AppointmentType != apptType {
		return false
	}
	return true
}

type AvailabilitySlot struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
	RoomID          string    `json:"room_id,omitempty"`
}

func (s AvailabilitySlot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

type Capacity struct {
	TotalSlots      int     `json:"total_slots"`
	BookedSlots     int     `json:"booked_slots"`
	OverbookedSlots int     `json:"overbooked_slots"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// Overlaps is the half-open interval intersection test. It is symmetric.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		v, err := ParseClock(string(b[1 : len(b)-1]))
		if err != nil {
			return err
		}
		*c = v
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(string(b), "%d", &n); err != nil {
		return fmt.Errorf("%w: %s", ErrBadClock, b)
	}
	*c = ClockTime(n)
	return nil
}
