package library

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// EventType names a committed circulation change.
type EventType string

const (
	EventCheckout EventType = "checkout"
	EventCheckin  EventType = "checkin"
	EventBorrow   EventType = "borrow"
	EventReturn   EventType = "return"
)

// DefaultEventStream is the Redis stream circulation events go to.
const DefaultEventStream = "library:circulation"

// CirculationEvent describes a loan change after it has been committed.
type CirculationEvent struct {
	Type            EventType       `json:"type"`
	TransactionID   int64           `json:"transaction_id"`
	BookID          int64           `json:"book_id"`
	BookUUID        string          `json:"book_uuid"`
	MemberID        int64           `json:"member_id"`
	CopiesAvailable int             `json:"copies_available"`
	CopiesTotal     int             `json:"copies_total"`
	DueDate         time.Time       `json:"due_date"`
	FineAmount      decimal.Decimal `json:"fine_amount"`
	ConditionFee    decimal.Decimal `json:"condition_fee"`
	Condition       Condition       `json:"condition,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// EventPublisher delivers circulation events to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, ev CirculationEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CirculationEvent) error { return nil }

// RedisStreamPublisher appends events to a Redis stream with XADD.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher publishes to stream, trimming it to roughly maxLen
// entries when maxLen > 0.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, ev CirculationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":           string(ev.Type),
			"transaction_id": fmt.Sprintf("%d", ev.TransactionID),
			"book_uuid":      ev.BookUUID,
			"data":           string(data),
			"timestamp":      fmt.Sprintf("%d", ev.OccurredAt.Unix()),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
