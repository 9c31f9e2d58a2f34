package constraint

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

var (
	ErrMissingSchedule  = fmt.Errorf("validate appointment: %w", schedule.ErrNoSchedule)
	ErrScheduleMismatch = errors.New("schedule belongs to a different provider")
)

// SuggestionHorizonDays bounds the forward scan for the next valid slot.
const SuggestionHorizonDays = 30

type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Code identifies which rule failed. It is set at the point of failure so
// callers never have to inspect message text.
type Code string

const (
	CodeNone                 Code = ""
	CodeProviderException    Code = "provider_exception"
	CodeNotWorkingDay        Code = "not_working_day"
	CodeOutsideHours         Code = "outside_hours"
	CodeInvalidDuration      Code = "invalid_duration"
	CodeDurationExceedsSlot  Code = "duration_exceeds_slot"
	CodeRoomConflict         Code = "room_conflict"
	CodeRoomUnavailable      Code = "room_unavailable"
	CodeEquipmentConflict    Code = "equipment_conflict"
	CodeEquipmentUnavailable Code = "equipment_unavailable"
	CodeBufferTime           Code = "buffer_time"
	CodeDoubleBooking        Code = "double_booking"
	CodeCapacityExceeded     Code = "capacity_exceeded"
	CodeSlotMismatch         Code = "slot_mismatch"
	CodeBlockStarted         Code = "block_started"
	CodeNoOverbookingRule    Code = "no_overbooking_rule"
)

// Alternative is a suggested replacement time, provider or room.
type Alternative struct {
	Start      time.Time `json:"start,omitempty"`
	ProviderID string    `json:"provider_id,omitempty"`
	RoomID     string    `json:"room_id,omitempty"`
}

type Result struct {
	Satisfied  bool         `json:"satisfied"`
	Code       Code         `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
	Suggestion *Alternative `json:"suggestion,omitempty"`
}

func ok() Result { return Result{Satisfied: true} }

func fail(code Code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Input is everything a constraint may look at. Constraints never read
// anything outside of it.
type Input struct {
	Candidate          schedule.Appointment
	Schedule           *schedule.Schedule
	Existing           []schedule.Appointment
	AvailableRooms     []string
	AvailableEquipment []string
	AllowOverbooking   bool

	engine    *Engine
	searching bool
}

// suggest looks for the next valid slot unless we are already inside a search.
func (in Input) suggest() *Alternative {
	if in.searching || in.engine == nil {
		return nil
	}
	return in.engine.nextAvailable(in)
}

type Constraint struct {
	Name     string
	Priority Priority
	Check    func(in Input) Result
}

type Violation struct {
	Constraint string       `json:"constraint"`
	Priority   Priority     `json:"priority"`
	Code       Code         `json:"code"`
	Message    string       `json:"message"`
	Suggestion *Alternative `json:"suggestion,omitempty"`
}

type Validation struct {
	Valid       bool          `json:"valid"`
	Violations  []Violation   `json:"violations,omitempty"`
	Suggestions []Alternative `json:"suggestions,omitempty"`
	Notes       []string      `json:"notes,omitempty"`
}

// Has reports whether any violation carries code.
func (v Validation) Has(code Code) bool {
	for _, vi := range v.Violations {
		if vi.Code == code {
			return true
		}
	}
	return false
}

type Engine struct {
	constraints []Constraint
	stepMinutes int
}

// NewEngine builds an engine over the given constraints, or the default set
// when none are passed.
func NewEngine(constraints ...Constraint) *Engine {
	if len(constraints) == 0 {
		constraints = Defaults()
	}
	e := &Engine{stepMinutes: schedule.DefaultGranularity}
	for _, c := range constraints {
		e.Add(c)
	}
	return e
}

// Add registers a constraint, keeping the list ordered by priority.
// Constraints of equal priority run in registration order.
func (e *Engine) Add(c Constraint) {
	e.constraints = append(e.constraints, c)
	sort.SliceStable(e.constraints, func(i, j int) bool {
		return e.constraints[i].Priority > e.constraints[j].Priority
	})
}

func (e *Engine) Constraints() []Constraint {
	out := make([]Constraint, len(e.constraints))
	copy(out, e.constraints)
	return out
}

// ValidateAppointment runs every constraint against in. The first CRITICAL
// failure short-circuits; any other failures are accumulated.
func (e *Engine) ValidateAppointment(in Input) (Validation, error) {
	if in.Schedule == nil {
		return Validation{}, ErrMissingSchedule
	}
	if in.Schedule.ProviderID != "" && in.Candidate.ProviderID != in.Schedule.ProviderID {
		return Validation{}, fmt.Errorf("%w: candidate %q, schedule %q",
			ErrScheduleMismatch, in.Candidate.ProviderID, in.Schedule.ProviderID)
	}
	in.engine = e
	return e.run(in), nil
}

// Confirm validates in without searching for alternatives. Callers that
// already enumerate candidates use it to filter them cheaply.
func (e *Engine) Confirm(in Input) (Validation, error) {
	if in.Schedule == nil {
		return Validation{}, ErrMissingSchedule
	}
	in.engine = e
	in.searching = true
	return e.run(in), nil
}

func (e *Engine) run(in Input) Validation {
	result := Validation{Valid: true}

	for _, c := range e.constraints {
		r := c.Check(in)
		if r.Satisfied {
			if r.Message != "" {
				result.Notes = append(result.Notes, r.Message)
			}
			continue
		}

		v := Violation{
			Constraint: c.Name,
			Priority:   c.Priority,
			Code:       r.Code,
			Message:    r.Message,
			Suggestion: r.Suggestion,
		}

		if c.Priority == Critical {
			out := Validation{Valid: false, Violations: []Violation{v}}
			if r.Suggestion != nil {
				out.Suggestions = []Alternative{*r.Suggestion}
			}
			return out
		}

		result.Valid = false
		result.Violations = append(result.Violations, v)
		if r.Suggestion != nil {
			result.Suggestions = append(result.Suggestions, *r.Suggestion)
		}
	}

	return result
}

// nextAvailable scans forward day by day for the first start time that
// passes full validation.
func (e *Engine) nextAvailable(in Input) *Alternative {
	cand := in.Candidate
	if cand.DurationMinutes <= 0 {
		return nil
	}
	step := time.Duration(e.stepMinutes) * time.Minute
	dur := time.Duration(cand.DurationMinutes) * time.Minute
	first := schedule.StartOfDay(cand.Start)

	probe := in
	probe.searching = true

	for offset := 0; offset <= SuggestionHorizonDays; offset++ {
		day := first.AddDate(0, 0, offset)
		for _, w := range in.Schedule.WindowsOn(day.Weekday()) {
			end := w.End.On(day)
			for t := w.Start.On(day); !t.Add(dur).After(end); t = t.Add(step) {
				if !t.After(cand.Start) {
					continue
				}
				probe.Candidate = cand
				probe.Candidate.Start = t
				if e.run(probe).Valid {
					return &Alternative{Start: t, ProviderID: cand.ProviderID, RoomID: cand.RoomID}
				}
			}
		}
	}
	return nil
}
