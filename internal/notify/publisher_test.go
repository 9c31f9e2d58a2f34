package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

type recordingChannel struct {
	key  string
	msgs []amqp.Publishing
	err  error
}

func (c *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.key = key
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Close() error { return nil }

func offer() waitlist.SlotMatch {
	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	return waitlist.SlotMatch{
		ID:        uuid.New(),
		EntryID:   uuid.New(),
		PatientID: "p1",
		Slot:      waitlist.FreeSlot{ProviderID: "dr-a", Start: created.Add(26 * time.Hour), DurationMinutes: 30},
		Score:     72,
		Reasons:   []string{"preferred provider"},
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	}
}

func TestAMQPPublisher_PublishOffer(t *testing.T) {
	ch := &recordingChannel{}
	p := NewAMQPPublisher(ch, "waitlist.offers", zap.NewNop())
	m := offer()

	require.NoError(t, p.PublishOffer(context.Background(), m))
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "waitlist.offers", ch.key)

	msg := ch.msgs[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, m.ID.String(), msg.MessageId)
	assert.Equal(t, "86400000", msg.Expiration)

	var body OfferMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, m.ID.String(), body.MatchID)
	assert.Equal(t, "dr-a", body.ProviderID)
	assert.True(t, m.ExpiresAt.Equal(body.ExpiresAt))
}

func TestAMQPPublisher_PropagatesErrors(t *testing.T) {
	boom := errors.New("channel closed")
	p := NewAMQPPublisher(&recordingChannel{err: boom}, "q", nil)
	assert.ErrorIs(t, p.PublishOffer(context.Background(), offer()), boom)
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, NewLogPublisher(nil).PublishOffer(context.Background(), offer()))
}
