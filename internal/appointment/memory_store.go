package appointment

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

// MemoryStore keeps everything in process. It backs tests and the API
// server when no database is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	schedules    map[string]schedule.Schedule
	appointments map[string]schedule.Appointment
	events       []EventLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules:    make(map[string]schedule.Schedule),
		appointments: make(map[string]schedule.Appointment),
	}
}

func (m *MemoryStore) GetSchedule(_ context.Context, providerID string) (*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, found := m.schedules[providerID]
	if !found {
		return nil, ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (m *MemoryStore) ListSchedules(_ context.Context, providerIDs ...string) (map[string]schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]schedule.Schedule)
	for id, s := range m.schedules {
		if len(providerIDs) > 0 && !slices.Contains(providerIDs, id) {
			continue
		}
		out[id] = *cloneSchedule(s)
	}
	return out, nil
}

func (m *MemoryStore) PutSchedule(_ context.Context, s schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ProviderID] = *cloneSchedule(s)
	return nil
}

func (m *MemoryStore) GetAppointment(_ context.Context, id string) (*schedule.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, found := m.appointments[id]
	if !found {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAppointmentsInRange(_ context.Context, from, to time.Time) ([]schedule.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schedule.Appointment
	for _, a := range m.appointments {
		if schedule.Overlaps(a.Start, a.End(), from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateAppointment(_ context.Context, a schedule.Appointment) (*schedule.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(_ context.Context, id string, to schedule.AppointmentStatus) (*schedule.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, found := m.appointments[id]
	if !found {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded event log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

func cloneSchedule(s schedule.Schedule) *schedule.Schedule {
	s.Windows = slices.Clone(s.Windows)
	s.Exceptions = slices.Clone(s.Exceptions)
	return &s
}
