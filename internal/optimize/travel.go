package optimize

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TravelStore is the backing lookup for travel minutes between two locations.
type TravelStore interface {
	TravelMinutes(ctx context.Context, origin, destination string) (minutes int, found bool, err error)
}

// MemoryTravelStore is a fixed table keyed by origin then destination.
type MemoryTravelStore map[string]map[string]int

func (m MemoryTravelStore) TravelMinutes(_ context.Context, origin, destination string) (int, bool, error) {
	v, found := m[origin][destination]
	return v, found, nil
}

type route struct{ origin, destination string }

type cachedRoute struct {
	minutes int
	found   bool
}

// TravelTimes caches store lookups, misses included.
type TravelTimes struct {
	store TravelStore

	mu    sync.RWMutex
	cache map[route]cachedRoute
}

func NewTravelTimes(store TravelStore) *TravelTimes {
	if store == nil {
		store = MemoryTravelStore{}
	}
	return &TravelTimes{store: store, cache: make(map[route]cachedRoute)}
}

// Set seeds the cache directly.
func (t *TravelTimes) Set(origin, destination string, minutes int) {
	t.mu.Lock()
	t.cache[route{origin, destination}] = cachedRoute{minutes: minutes, found: true}
	t.mu.Unlock()
}

func (t *TravelTimes) Minutes(ctx context.Context, origin, destination string) (int, bool, error) {
	key := route{origin, destination}

	t.mu.RLock()
	c, hit := t.cache[key]
	t.mu.RUnlock()
	if hit {
		return c.minutes, c.found, nil
	}

	m, found, err := t.store.TravelMinutes(ctx, origin, destination)
	if err != nil {
		return 0, false, fmt.Errorf("travel lookup %s->%s: %w", origin, destination, err)
	}

	t.mu.Lock()
	t.cache[key] = cachedRoute{minutes: m, found: found}
	t.mu.Unlock()
	return m, found, nil
}

// RankByTravel scores each suggestion by 100 minus the travel minutes from
// origin to the provider's location (50 when unknown) and re-orders by that
// score, falling back to the usual suggestion order.
func (t *TravelTimes) RankByTravel(ctx context.Context, in []Suggestion, origin string, locationOf func(providerID string) string) ([]Suggestion, error) {
	out := make([]Suggestion, len(in))
	copy(out, in)

	for i := range out {
		out[i].TravelScore = defaultTravel
		dest := locationOf(out[i].ProviderID)
		if origin == "" || dest == "" {
			continue
		}
		m, found, err := t.Minutes(ctx, origin, dest)
		if err != nil {
			return nil, err
		}
		if found {
			out[i].TravelScore = clamp(travelScoreScale-float64(m), 0, travelScoreScale)
		}
	}

	SortSuggestions(out)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TravelScore > out[j].TravelScore
	})
	return out, nil
}
