package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// TravelStore reads location-to-location travel minutes from hashes named
// travel:<origin>, keyed by destination.
type TravelStore struct {
	client *redis.Client
}

func NewTravelStore(client *redis.Client) *TravelStore {
	return &TravelStore{client: client}
}

func travelKey(origin string) string {
	return "travel:" + origin
}

func (s *TravelStore) TravelMinutes(ctx context.Context, origin, destination string) (int, bool, error) {
	v, err := s.client.HGet(ctx, travelKey(origin), destination).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read travel time %s->%s: %w", origin, destination, err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("parse travel time %s->%s: %w", origin, destination, err)
	}
	return n, true, nil
}

// SetTravelMinutes stores the value both ways.
func (s *TravelStore) SetTravelMinutes(ctx context.Context, a, b string, minutes int) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, travelKey(a), b, minutes)
		p.HSet(ctx, travelKey(b), a, minutes)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store travel time %s<->%s: %w", a, b, err)
	}
	return nil
}
