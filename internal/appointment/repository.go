package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

var (
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Store is the persistence the booking service needs. It holds schedules
// and appointments; the engines never touch it directly.
type Store interface {
	GetSchedule(ctx context.Context, providerID string) (*schedule.Schedule, error)
	// ListSchedules returns every schedule when providerIDs is empty.
	ListSchedules(ctx context.Context, providerIDs ...string) (map[string]schedule.Schedule, error)
	PutSchedule(ctx context.Context, s schedule.Schedule) error

	GetAppointment(ctx context.Context, id string) (*schedule.Appointment, error)
	// ListAppointmentsInRange returns appointments of any provider that
	// overlap [from, to), ordered by start.
	ListAppointmentsInRange(ctx context.Context, from, to time.Time) ([]schedule.Appointment, error)
	CreateAppointment(ctx context.Context, a schedule.Appointment) (*schedule.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, to schedule.AppointmentStatus) (*schedule.Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
