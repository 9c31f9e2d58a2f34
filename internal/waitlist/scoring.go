package waitlist

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidWeights = errors.New("score weights must be non-negative and sum to 1.0")

// Weights combine the four priority score components.
type Weights struct {
	Urgency    float64 `json:"urgency"`
	WaitTime   float64 `json:"wait_time"`
	Preference float64 `json:"preference"`
	History    float64 `json:"history"`
}

func DefaultWeights() Weights {
	return Weights{Urgency: 0.4, WaitTime: 0.3, Preference: 0.2, History: 0.1}
}

func (w Weights) Validate() error {
	if w.Urgency < 0 || w.WaitTime < 0 || w.Preference < 0 || w.History < 0 {
		return ErrInvalidWeights
	}
	if sum := w.Urgency + w.WaitTime + w.Preference + w.History; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: got %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// historyFactor stands in for a cancellation-history signal until one is fed in.
const historyFactor = 70.0

// WaitBand steps the wait component as elapsed hours cross 24/72/168/336.
func WaitBand(hours float64) float64 {
	switch {
	case hours >= 336:
		return 100
	case hours >= 168:
		return 80
	case hours >= 72:
		return 60
	case hours >= 24:
		return 40
	}
	return 20
}

func preferenceFactor(e Entry) float64 {
	if len(e.PreferredDates) > 0 {
		return 80
	}
	return 50
}

// PriorityScore is the weighted sum of urgency, wait band, preference
// specificity and history, clamped to [0, 100].
func PriorityScore(e Entry, w Weights) float64 {
	s := w.Urgency*e.Priority.Urgency() +
		w.WaitTime*WaitBand(e.WaitHours) +
		w.Preference*preferenceFactor(e) +
		w.History*historyFactor
	return math.Max(0, math.Min(100, s))
}

type FairnessMetrics struct {
	ActiveEntries   int     `json:"active_entries"`
	MeanWaitHours   float64 `json:"mean_wait_hours"`
	MinWaitHours    float64 `json:"min_wait_hours"`
	MaxWaitHours    float64 `json:"max_wait_hours"`
	StdDevWaitHours float64 `json:"stddev_wait_hours"`
	Score           float64 `json:"score"`
}

// ComputeFairness measures how evenly wait time is spread over ACTIVE entries.
func ComputeFairness(entries []Entry) FairnessMetrics {
	var waits []float64
	for _, e := range entries {
		if e.Status == StatusActive {
			waits = append(waits, e.WaitHours)
		}
	}
	m := FairnessMetrics{ActiveEntries: len(waits), Score: 100}
	if len(waits) == 0 {
		return m
	}

	m.MinWaitHours, m.MaxWaitHours = waits[0], waits[0]
	var sum float64
	for _, w := range waits {
		sum += w
		m.MinWaitHours = math.Min(m.MinWaitHours, w)
		m.MaxWaitHours = math.Max(m.MaxWaitHours, w)
	}
	m.MeanWaitHours = sum / float64(len(waits))

	if m.MinWaitHours == m.MaxWaitHours {
		return m
	}

	var sq float64
	for _, w := range waits {
		d := w - m.MeanWaitHours
		sq += d * d
	}
	m.StdDevWaitHours = math.Sqrt(sq / float64(len(waits)))

	if m.MeanWaitHours > 0 {
		m.Score = 100 - math.Min(100, 100*m.StdDevWaitHours/m.MeanWaitHours)
	}
	return m
}

func hoursBetween(from, to time.Time) float64 {
	h := to.Sub(from).Hours()
	if h < 0 {
		return 0
	}
	return h
}
