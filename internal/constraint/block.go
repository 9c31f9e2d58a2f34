package constraint

import (
	"time"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

// CanBookInBlock checks a booking of durationMinutes against a block schedule.
func CanBookInBlock(b schedule.BlockSchedule, durationMinutes int, now time.Time) Result {
	if durationMinutes != b.SlotMinutes {
		return fail(CodeSlotMismatch, "Block %s takes %d minute slots, requested %d",
			b.ID, b.SlotMinutes, durationMinutes)
	}
	if capacity := b.EffectiveCapacity(); b.Booked >= capacity {
		return fail(CodeCapacityExceeded, "Block %s is full (%d/%d booked)", b.ID, b.Booked, capacity)
	}
	if !now.Before(b.Start) {
		return fail(CodeBlockStarted, "Block %s started at %s", b.ID, b.Start.Format(time.RFC3339))
	}
	return ok()
}

type OverbookingDecision struct {
	Result
	Rule             *schedule.OverbookingRule `json:"rule,omitempty"`
	InWindow         int                       `json:"in_window"`
	RequiresApproval bool                      `json:"requires_approval"`
}

// CheckOverbooking picks the most permissive rule that applies to the
// candidate and counts the provider's active appointments starting within
// half the rule's window either side of the candidate start.
func CheckOverbooking(rules []schedule.OverbookingRule, candidate schedule.Appointment, existing []schedule.Appointment) OverbookingDecision {
	var best *schedule.OverbookingRule
	for i := range rules {
		r := &rules[i]
		if !r.Applies(candidate.ProviderID, candidate.Type) {
			continue
		}
		if best == nil || r.MaxOverbook > best.MaxOverbook {
			best = r
		}
	}
	if best == nil {
		return OverbookingDecision{
			Result: fail(CodeNoOverbookingRule, "No overbooking rule applies to provider %s", candidate.ProviderID),
		}
	}

	half := time.Duration(best.WindowMinutes) * time.Minute / 2
	from, to := candidate.Start.Add(-half), candidate.Start.Add(half)

	count := 0
	for _, a := range existing {
		if !sameProviderOther(a, candidate) {
			continue
		}
		if !a.Start.Before(from) && !a.Start.After(to) {
			count++
		}
	}

	rule := *best
	d := OverbookingDecision{Rule: &rule, InWindow: count, RequiresApproval: best.RequiresApproval}
	if count >= best.MaxOverbook {
		d.Result = fail(CodeCapacityExceeded, "Overbooking limit reached: %d appointment(s) within %d minutes, max %d",
			count, best.WindowMinutes, best.MaxOverbook)
		return d
	}
	d.Result = ok()
	return d
}
