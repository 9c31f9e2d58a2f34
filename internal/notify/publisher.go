package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

const contentTypeJSON = "application/json"

// Publisher hands slot offers to whatever delivers them to patients.
// Delivery results come back out of band.
type Publisher interface {
	PublishOffer(ctx context.Context, m waitlist.SlotMatch) error
}

// OfferMessage is the wire shape of one offer.
type OfferMessage struct {
	MatchID    string    `json:"match_id"`
	EntryID    string    `json:"entry_id"`
	PatientID  string    `json:"patient_id"`
	ProviderID string    `json:"provider_id"`
	Start      time.Time `json:"start"`
	Minutes    int       `json:"duration_minutes"`
	RoomID     string    `json:"room_id,omitempty"`
	Score      float64   `json:"score"`
	Reasons    []string  `json:"reasons"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewOfferMessage(m waitlist.SlotMatch) OfferMessage {
	return OfferMessage{
		MatchID:    m.ID.String(),
		EntryID:    m.EntryID.String(),
		PatientID:  m.PatientID,
		ProviderID: m.Slot.ProviderID,
		Start:      m.Slot.Start,
		Minutes:    m.Slot.DurationMinutes,
		RoomID:     m.Slot.RoomID,
		Score:      m.Score,
		Reasons:    m.Reasons,
		ExpiresAt:  m.ExpiresAt,
	}
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	mu    sync.Mutex
	ch    Channel
	queue string
	log   *zap.Logger
}

// DialAMQP connects, declares the durable offer queue and returns a
// publisher together with the connection so the caller can close it.
func DialAMQP(url, queue string, log *zap.Logger) (*AMQPPublisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return NewAMQPPublisher(ch, queue, log), conn, nil
}

func NewAMQPPublisher(ch Channel, queue string, log *zap.Logger) *AMQPPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPPublisher{ch: ch, queue: queue, log: log}
}

func (p *AMQPPublisher) PublishOffer(ctx context.Context, m waitlist.SlotMatch) error {
	body, err := json.Marshal(NewOfferMessage(m))
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID.String(),
		Timestamp:    m.CreatedAt,
		Expiration:   expiration(m),
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish offer to %s: %w", p.queue, err)
	}
	p.log.Debug("slot offer published",
		zap.String("match_id", m.ID.String()),
		zap.String("queue", p.queue),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// expiration drops undelivered offers from the queue once they lapse.
func expiration(m waitlist.SlotMatch) string {
	ttl := m.ExpiresAt.Sub(m.CreatedAt)
	if ttl <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", ttl.Milliseconds())
}

// LogPublisher writes offers to the log. Used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishOffer(_ context.Context, m waitlist.SlotMatch) error {
	p.log.Info("slot offer",
		zap.String("match_id", m.ID.String()),
		zap.String("patient_id", m.PatientID),
		zap.String("provider_id", m.Slot.ProviderID),
		zap.Time("start", m.Slot.Start),
		zap.Time("expires_at", m.ExpiresAt),
	)
	return nil
}
