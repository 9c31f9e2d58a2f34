package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/appointment"
	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/metrics"
	"github.com/hackgods/care-allocation-core/internal/notify"
	"github.com/hackgods/care-allocation-core/internal/optimize"
	"github.com/hackgods/care-allocation-core/internal/schedule"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

// Handlers holds everything the HTTP surface calls into.
type Handlers struct {
	bookings      *appointment.Service
	constraints   *constraint.Engine
	optimizer     *optimize.Engine
	travel        *optimize.TravelTimes
	waitlist      *waitlist.Engine
	publisher     notify.Publisher
	metrics       *metrics.Metrics
	clock         clock.Clock
	log           *zap.Logger
	validate      *validator.Validate
	loadThreshold float64
}

// horizon covers every day a suggestion search may touch.
func (h *Handlers) horizon(from time.Time) (time.Time, time.Time) {
	start := schedule.StartOfDay(from)
	return start, start.AddDate(0, 0, optimize.HorizonDays+1)
}

func (h *Handlers) validateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointment.BookingRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	sched, err := h.bookings.Schedule(r.Context(), req.ProviderID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	from, to := h.horizon(req.Start)
	snap, err := h.bookings.Snapshot(r.Context(), []string{req.ProviderID}, from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}

	v, err := h.constraints.ValidateAppointment(constraint.Input{
		Candidate: schedule.Appointment{
			ProviderID:      req.ProviderID,
			PatientID:       req.PatientID,
			RoomID:          req.RoomID,
			EquipmentID:     req.EquipmentID,
			Start:           req.Start,
			DurationMinutes: req.DurationMinutes,
			Status:          schedule.StatusScheduled,
			Type:            req.Type,
		},
		Schedule:           sched,
		Existing:           snap.Appointments,
		AvailableRooms:     req.AvailableRooms,
		AvailableEquipment: req.AvailableEquipment,
		AllowOverbooking:   req.AllowOverbooking,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointment.BookingRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	b, err := h.bookings.Book(r.Context(), req)
	if err != nil {
		outcome := "error"
		if errors.Is(err, appointment.ErrResourceBusy) {
			outcome = "busy"
		}
		h.metrics.Bookings.WithLabelValues(outcome).Inc()
		h.handleError(w, err)
		return
	}

	if b.Appointment == nil {
		h.metrics.Bookings.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, b)
		return
	}
	h.metrics.Bookings.WithLabelValues("booked").Inc()
	writeJSON(w, http.StatusCreated, b)
}

// cancelAppointment releases the appointment and immediately offers the
// freed interval to the waitlist.
func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := CancelResponse{Appointment: appt, Offers: []waitlist.SlotMatch{}}
	if appt.Start.After(h.clock.Now()) {
		freed := waitlist.FreeSlot{
			ProviderID:      appt.ProviderID,
			Start:           appt.Start,
			DurationMinutes: appt.DurationMinutes,
			RoomID:          appt.RoomID,
		}
		offers, err := h.offer(r.Context(), []waitlist.FreeSlot{freed})
		if err != nil {
			h.log.Warn("offering freed slot failed", zap.String("appointment_id", appt.ID), zap.Error(err))
		}
		resp.Offers = append(resp.Offers, offers...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) detectConflicts(w http.ResponseWriter, r *http.Request) {
	var req ConflictsRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	snap, err := h.bookings.Snapshot(r.Context(), req.ProviderIDs, req.From, req.To)
	if err != nil {
		h.handleError(w, err)
		return
	}

	appts := snap.Appointments
	if len(req.ProviderIDs) > 0 {
		appts = slices.DeleteFunc(slices.Clone(appts), func(a schedule.Appointment) bool {
			return !slices.Contains(req.ProviderIDs, a.ProviderID)
		})
	}

	conflicts := h.constraints.DetectConflicts(snap.Schedules, appts)
	if conflicts == nil {
		conflicts = []constraint.Conflict{}
	}
	writeJSON(w, http.StatusOK, ConflictsResponse{Conflicts: conflicts})
}

func (h *Handlers) checkOverbooking(w http.ResponseWriter, r *http.Request) {
	var req OverbookingRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	if req.Appointment.ProviderID == "" || req.Appointment.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "appointment provider_id and start are required")
		return
	}

	reach := overbookingReach(req.Rules, req.Appointment)
	from := req.Appointment.Start.Add(-reach)
	to := req.Appointment.Start.Add(reach + time.Nanosecond)
	snap, err := h.bookings.Snapshot(r.Context(), []string{req.Appointment.ProviderID}, from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, constraint.CheckOverbooking(req.Rules, req.Appointment, snap.Appointments))
}

// overbookingReach is half the widest window among the rules applying to a.
func overbookingReach(rules []schedule.OverbookingRule, a schedule.Appointment) time.Duration {
	widest := 0
	for _, rule := range rules {
		if rule.Applies(a.ProviderID, a.Type) {
			widest = max(widest, rule.WindowMinutes)
		}
	}
	return time.Duration(widest) * time.Minute / 2
}

func (h *Handlers) checkBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockCheckRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	writeJSON(w, http.StatusOK, constraint.CanBookInBlock(req.Block, req.DurationMinutes, h.clock.Now()))
}

func (h *Handlers) suggestSlots(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}

	from := req.From
	if from.IsZero() {
		from = h.clock.Now()
	}
	start, end := h.horizon(from)
	snap, err := h.bookings.Snapshot(r.Context(), req.ProviderIDs, start, end)
	if err != nil {
		h.handleError(w, err)
		return
	}

	out, err := h.optimizer.SuggestOptimalSlots(r.Context(), req.SlotRequest, snap)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if req.Preferences != nil {
		out = optimize.MatchPreferences(out, *req.Preferences)
	}
	if req.Origin != "" && h.travel != nil {
		out, err = h.travel.RankByTravel(r.Context(), out, req.Origin, func(id string) string {
			return snap.Schedules[id].Location
		})
		if err != nil {
			h.handleError(w, err)
			return
		}
	}
	if out == nil {
		out = []optimize.Suggestion{}
	}
	writeJSON(w, http.StatusOK, SuggestResponse{Suggestions: out})
}

func (h *Handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.bookings.Schedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handlers) putSchedule(w http.ResponseWriter, r *http.Request) {
	var sched schedule.Schedule
	if !decodeBody(w, r, h.validate, &sched) {
		return
	}
	sched.ProviderID = chi.URLParam(r, "id")
	if err := h.bookings.PutSchedule(r.Context(), sched); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handlers) providerGaps(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	date, err := parseDate(r.URL.Query().Get("date"), h.clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	snap, err := h.bookings.Snapshot(r.Context(), []string{providerID}, date, date.AddDate(0, 0, 1))
	if err != nil {
		h.handleError(w, err)
		return
	}
	analysis, err := h.optimizer.AnalyzeProviderDay(snap, providerID, date)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *Handlers) providerLoad(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"), h.clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(q.Get("to"), from.AddDate(0, 0, 7))
	if err != nil || !to.After(from) {
		writeError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD after from")
		return
	}
	threshold := h.loadThreshold
	if v := q.Get("threshold"); v != "" {
		threshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_threshold", err.Error())
			return
		}
	}

	snap, err := h.bookings.Snapshot(r.Context(), nil, from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}
	loads := h.optimizer.LoadDistribution(snap, from, to)
	writeJSON(w, http.StatusOK, LoadResponse{
		Loads:       loads,
		Rebalancing: optimize.SuggestRebalancing(loads, threshold),
	})
}

// offer runs auto-assignment over slots and hands every offer to the
// publisher. Publish failures are logged and counted, never fatal: the
// offer stays valid and the expiry sweep recovers it.
func (h *Handlers) offer(ctx context.Context, slots []waitlist.FreeSlot) ([]waitlist.SlotMatch, error) {
	offers, err := h.waitlist.AutoAssignSlots(ctx, slots)
	h.metrics.Offers.Add(float64(len(offers)))
	for _, m := range offers {
		if perr := h.publisher.PublishOffer(ctx, m); perr != nil {
			h.metrics.PublishFailures.Inc()
			h.log.Warn("publish slot offer failed", zap.String("match_id", m.ID.String()), zap.Error(perr))
		}
	}
	return offers, err
}

func (h *Handlers) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrNoSchedule), errors.Is(err, constraint.ErrMissingSchedule):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, waitlist.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry_not_found", err.Error())
	case errors.Is(err, waitlist.ErrMatchNotFound):
		writeError(w, http.StatusNotFound, "match_not_found", err.Error())
	case errors.Is(err, waitlist.ErrOfferExpired):
		writeError(w, http.StatusGone, "offer_expired", err.Error())
	case errors.Is(err, waitlist.ErrEntryConflict):
		writeError(w, http.StatusConflict, "entry_changed", err.Error())
	case errors.Is(err, appointment.ErrResourceBusy):
		writeError(w, http.StatusConflict, "resource_busy", "provider, room or equipment is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrRejected):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition), errors.Is(err, waitlist.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest), errors.Is(err, waitlist.ErrInvalidEntry),
		errors.Is(err, optimize.ErrInvalidDuration), errors.Is(err, constraint.ErrScheduleMismatch):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled", err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return schedule.StartOfDay(def), nil
	}
	return time.ParseInLocation(time.DateOnly, s, def.Location())
}
