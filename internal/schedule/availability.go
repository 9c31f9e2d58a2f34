package schedule

import (
	"sort"
	"time"
)

// AvailabilityProvider turns a schedule and an appointment snapshot into
// open/occupied slots and utilization numbers.
type AvailabilityProvider interface {
	GetAvailability(s Schedule, appts []Appointment, date time.Time) []AvailabilitySlot
	CalculateCapacity(s Schedule, appts []Appointment, start, end time.Time) Capacity
}

const DefaultGranularity = 15

// Grid is the default AvailabilityProvider. It cuts every available weekly
// window into fixed slots and marks a slot occupied once the number of
// overlapping active appointments reaches the schedule's concurrency limit.
type Grid struct {
	SlotMinutes int
}

func NewGrid(slotMinutes int) Grid {
	if slotMinutes <= 0 {
		slotMinutes = DefaultGranularity
	}
	return Grid{SlotMinutes: slotMinutes}
}

func (g Grid) step() int {
	if g.SlotMinutes <= 0 {
		return DefaultGranularity
	}
	return g.SlotMinutes
}

func (g Grid) GetAvailability(s Schedule, appts []Appointment, date time.Time) []AvailabilitySlot {
	step := g.step()
	var out []AvailabilitySlot

	for _, w := range s.WindowsOn(date.Weekday()) {
		for m := w.Start; m+ClockTime(step) <= w.End; m += ClockTime(step) {
			start := m.On(date)
			end := start.Add(time.Duration(step) * time.Minute)

			slot := AvailabilitySlot{Start: start, DurationMinutes: step}
			if _, blocked := s.ExceptionAt(start, end); blocked {
				out = append(out, slot)
				continue
			}

			busy, room := occupancy(s.ProviderID, appts, start, end)
			slot.Available = busy < s.Concurrency()
			slot.RoomID = room
			out = append(out, slot)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (g Grid) CalculateCapacity(s Schedule, appts []Appointment, start, end time.Time) Capacity {
	var c Capacity
	step := time.Duration(g.step()) * time.Minute

	for day := StartOfDay(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		for _, w := range s.WindowsOn(day.Weekday()) {
			for t := w.Start.On(day); !t.Add(step).After(w.End.On(day)); t = t.Add(step) {
				if t.Before(start) || !t.Before(end) {
					continue
				}
				if _, blocked := s.ExceptionAt(t, t.Add(step)); blocked {
					continue
				}
				c.TotalSlots++
				busy, _ := occupancy(s.ProviderID, appts, t, t.Add(step))
				if busy > 0 {
					c.BookedSlots++
				}
				if busy > s.Concurrency() {
					c.OverbookedSlots++
				}
			}
		}
	}

	if c.TotalSlots > 0 {
		c.UtilizationRate = float64(c.BookedSlots) / float64(c.TotalSlots) * 100
	}
	return c
}

func occupancy(providerID string, appts []Appointment, start, end time.Time) (int, string) {
	count := 0
	room := ""
	for _, a := range appts {
		if a.ProviderID != providerID || !a.Active() {
			continue
		}
		if Overlaps(a.Start, a.End(), start, end) {
			count++
			if room == "" {
				room = a.RoomID
			}
		}
	}
	return count, room
}

// ForProvider filters a snapshot down to one provider's appointments.
func ForProvider(appts []Appointment, providerID string) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out
}
