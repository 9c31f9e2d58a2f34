package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/optimize"
	redisclient "github.com/hackgods/care-allocation-core/internal/redis"
	"github.com/hackgods/care-allocation-core/internal/schedule"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var (
	ErrResourceBusy            = errors.New("provider, room or equipment is currently being booked, please retry")
	ErrRejected                = errors.New("appointment rejected by validation")
	ErrInvalidRequest          = errors.New("invalid booking request")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

type Service struct {
	store       Store
	locker      redisclient.Locker
	constraints *constraint.Engine
	clock       clock.Clock
	log         *zap.Logger
}

func NewService(store Store, locker redisclient.Locker, constraints *constraint.Engine, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:       store,
		locker:      locker,
		constraints: constraints,
		clock:       clk,
		log:         log,
	}
}

// Book validates req and commits it while holding the day locks of its
// provider, room and equipment, so the snapshot the validation sees cannot
// go stale before the insert.
// A rejected request is not an error: the returned Booking carries the
// violations and no appointment.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	if req.ProviderID == "" || req.PatientID == "" {
		return nil, fmt.Errorf("%w: provider_id and patient_id are required", ErrInvalidRequest)
	}
	if req.Start.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrInvalidRequest)
	}

	day := schedule.StartOfDay(req.Start)
	var booking Booking

	err := s.locker.WithLocks(ctx, lockKeys(req.candidate()), func(lockCtx context.Context) error {
		sched, err := s.store.GetSchedule(lockCtx, req.ProviderID)
		if err != nil {
			if errors.Is(err, ErrScheduleNotFound) {
				return fmt.Errorf("%w: %s", schedule.ErrNoSchedule, req.ProviderID)
			}
			return fmt.Errorf("load schedule: %w", err)
		}

		// Alternatives may land anywhere in the suggestion horizon.
		existing, err := s.store.ListAppointmentsInRange(lockCtx, day, day.AddDate(0, 0, constraint.SuggestionHorizonDays+1))
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}

		v, err := s.constraints.ValidateAppointment(constraint.Input{
			Candidate:          req.candidate(),
			Schedule:           sched,
			Existing:           existing,
			AvailableRooms:     req.AvailableRooms,
			AvailableEquipment: req.AvailableEquipment,
			AllowOverbooking:   req.AllowOverbooking,
		})
		if err != nil {
			return err
		}
		booking.Validation = v
		if !v.Valid {
			return nil
		}

		created, err := s.store.CreateAppointment(lockCtx, req.candidate())
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		booking.Appointment = created

		s.logEvent(lockCtx, created.ID, EventAppointmentBooked, map[string]any{
			"provider_id": created.ProviderID,
			"patient_id":  created.PatientID,
			"start":       created.Start,
			"duration":    created.DurationMinutes,
			"notes":       v.Notes,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrResourceBusy
		}
		return nil, err
	}

	if booking.Appointment == nil {
		s.log.Info("booking rejected",
			zap.String("provider_id", req.ProviderID),
			zap.Time("start", req.Start),
			zap.Int("violations", len(booking.Validation.Violations)),
		)
	}
	return &booking, nil
}

// lockKeys names every resource-day a's interval occupies. Room and
// equipment checks look across providers, so they need their own keys.
func lockKeys(a schedule.Appointment) []string {
	var keys []string
	last := schedule.StartOfDay(a.Start)
	if end := a.End(); end.After(a.Start) {
		last = schedule.StartOfDay(end.Add(-time.Nanosecond))
	}
	for day := schedule.StartOfDay(a.Start); !day.After(last); day = day.AddDate(0, 0, 1) {
		keys = append(keys, redisclient.ProviderDayKey(a.ProviderID, day))
		if a.RoomID != "" {
			keys = append(keys, redisclient.RoomDayKey(a.RoomID, day))
		}
		if a.EquipmentID != "" {
			keys = append(keys, redisclient.EquipmentDayKey(a.EquipmentID, day))
		}
	}
	return keys
}

// Cancel releases an appointment. The freed interval is returned so the
// caller can offer it to the waitlist.
func (s *Service) Cancel(ctx context.Context, id string) (*schedule.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Active() || appt.Status == schedule.StatusCompleted {
		return nil, fmt.Errorf("%w: appointment %s is %s", ErrInvalidStatusTransition, id, appt.Status)
	}

	var updated *schedule.Appointment
	err = s.locker.WithLocks(ctx, lockKeys(*appt), func(lockCtx context.Context) error {
		a, err := s.store.UpdateAppointmentStatus(lockCtx, id, schedule.StatusCancelled)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		updated = a
		s.logEvent(lockCtx, id, EventAppointmentCancelled, map[string]any{
			"provider_id": appt.ProviderID,
			"start":       appt.Start,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrResourceBusy
		}
		return nil, err
	}
	return updated, nil
}

// Snapshot loads the schedules and appointments the engines work on.
func (s *Service) Snapshot(ctx context.Context, providerIDs []string, from, to time.Time) (optimize.Snapshot, error) {
	schedules, err := s.store.ListSchedules(ctx, providerIDs...)
	if err != nil {
		return optimize.Snapshot{}, fmt.Errorf("load schedules: %w", err)
	}
	appts, err := s.store.ListAppointmentsInRange(ctx, from, to)
	if err != nil {
		return optimize.Snapshot{}, fmt.Errorf("load appointments: %w", err)
	}
	return optimize.Snapshot{Schedules: schedules, Appointments: appts}, nil
}

func (s *Service) Schedule(ctx context.Context, providerID string) (*schedule.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, providerID)
	if errors.Is(err, ErrScheduleNotFound) {
		return nil, fmt.Errorf("%w: %s", schedule.ErrNoSchedule, providerID)
	}
	return sched, err
}

func (s *Service) PutSchedule(ctx context.Context, sched schedule.Schedule) error {
	if sched.ProviderID == "" {
		return fmt.Errorf("%w: provider_id is required", ErrInvalidRequest)
	}
	return s.store.PutSchedule(ctx, sched)
}

// BookSlot turns an accepted waitlist offer into an appointment.
func (s *Service) BookSlot(ctx context.Context, e waitlist.Entry, m waitlist.SlotMatch) (string, error) {
	var rooms []string
	if m.Slot.RoomID != "" {
		rooms = []string{m.Slot.RoomID}
	}
	b, err := s.Book(ctx, BookingRequest{
		ProviderID:      m.Slot.ProviderID,
		PatientID:       e.PatientID,
		RoomID:          m.Slot.RoomID,
		Start:           m.Slot.Start,
		DurationMinutes: e.DurationMinutes,
		Type:            e.AppointmentType,
		AvailableRooms:  rooms,
	})
	if err != nil {
		return "", err
	}
	if b.Appointment == nil {
		msg := "no longer available"
		if len(b.Validation.Violations) > 0 {
			msg = b.Validation.Violations[0].Message
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return b.Appointment.ID, nil
}

var _ waitlist.Booker = (*Service)(nil)

func (s *Service) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID),
			zap.Error(err),
		)
	}
}
