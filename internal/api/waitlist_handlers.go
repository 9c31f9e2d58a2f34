package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/care-allocation-core/internal/optimize"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

const defaultSlotMinutes = 30

func pathUUID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) addWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	var req AddWaitlistRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	e, err := h.waitlist.Add(r.Context(), req.entry())
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handlers) listWaitlist(w http.ResponseWriter, r *http.Request) {
	var statuses []waitlist.Status
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, waitlist.Status(s))
	}
	entries, err := h.waitlist.List(r.Context(), statuses...)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if entries == nil {
		entries = []waitlist.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) getWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "invalid_entry_id")
	if !ok {
		return
	}
	e, err := h.waitlist.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) cancelWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "invalid_entry_id")
	if !ok {
		return
	}
	e, err := h.waitlist.Cancel(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) dismissWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "invalid_entry_id")
	if !ok {
		return
	}
	e, err := h.waitlist.Dismiss(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) setWaitlistPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "invalid_entry_id")
	if !ok {
		return
	}
	var req PriorityRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	e, err := h.waitlist.SetPriority(r.Context(), id, req.Priority)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) refreshWaitlist(w http.ResponseWriter, r *http.Request) {
	n, err := h.waitlist.UpdateWaitTimes(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	m, err := h.fairness(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Updated: n, Fairness: m})
}

func (h *Handlers) waitlistFairness(w http.ResponseWriter, r *http.Request) {
	m, err := h.fairness(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) fairness(r *http.Request) (waitlist.FairnessMetrics, error) {
	m, err := h.waitlist.Fairness(r.Context())
	if err != nil {
		return m, err
	}
	h.metrics.WaitlistActive.Set(float64(m.ActiveEntries))
	h.metrics.FairnessScore.Set(m.Score)
	return m, nil
}

// freeSlots returns the slots in req, or asks the optimizer for open ones.
func (h *Handlers) freeSlots(r *http.Request, req SlotsRequest) ([]waitlist.FreeSlot, error) {
	if len(req.Slots) > 0 || len(req.ProviderIDs) == 0 {
		return req.Slots, nil
	}

	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = defaultSlotMinutes
	}
	from, to := h.horizon(h.clock.Now())
	snap, err := h.bookings.Snapshot(r.Context(), req.ProviderIDs, from, to)
	if err != nil {
		return nil, err
	}
	found, err := h.optimizer.SuggestOptimalSlots(r.Context(), optimize.SlotRequest{
		ProviderIDs:     req.ProviderIDs,
		DurationMinutes: minutes,
	}, snap)
	if err != nil {
		return nil, err
	}

	slots := make([]waitlist.FreeSlot, 0, len(found))
	for _, s := range found {
		slots = append(slots, waitlist.FreeSlot{
			ProviderID:      s.ProviderID,
			Start:           s.Start,
			DurationMinutes: s.DurationMinutes,
			RoomID:          s.RoomID,
		})
	}
	return slots, nil
}

func (h *Handlers) findMatches(w http.ResponseWriter, r *http.Request) {
	var req SlotsRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	slots, err := h.freeSlots(r, req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	matches, err := h.waitlist.FindMatchingSlots(r.Context(), slots)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if matches == nil {
		matches = []waitlist.SlotMatch{}
	}
	writeJSON(w, http.StatusOK, OffersResponse{Offers: matches})
}

func (h *Handlers) assignSlots(w http.ResponseWriter, r *http.Request) {
	var req SlotsRequest
	if !decodeBody(w, r, h.validate, &req) {
		return
	}
	slots, err := h.freeSlots(r, req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	offers, err := h.offer(r.Context(), slots)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if offers == nil {
		offers = []waitlist.SlotMatch{}
	}
	writeJSON(w, http.StatusOK, OffersResponse{Offers: offers})
}

func (h *Handlers) acceptMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "invalid_match_id")
	if !ok {
		return
	}
	acc, err := h.waitlist.AcceptSlotMatch(r.Context(), id, h.bookings)
	if err != nil {
		if errors.Is(err, waitlist.ErrOfferExpired) {
			h.metrics.OfferOutcomes.WithLabelValues("rejected_expired").Inc()
		}
		h.handleError(w, err)
		return
	}
	h.metrics.OfferOutcomes.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handlers) declineMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "invalid_match_id")
	if !ok {
		return
	}
	e, err := h.waitlist.DeclineSlotMatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, waitlist.ErrOfferExpired) {
			h.metrics.OfferOutcomes.WithLabelValues("rejected_expired").Inc()
		}
		h.handleError(w, err)
		return
	}
	h.metrics.OfferOutcomes.WithLabelValues("declined").Inc()
	writeJSON(w, http.StatusOK, e)
}
