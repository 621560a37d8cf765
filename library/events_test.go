package library

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	pub := NewRedisStreamPublisher(client, "", 100)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(ctx, CirculationEvent{
		Type:          EventCheckin,
		TransactionID: 42,
		BookUUID:      "u-1",
		FineAmount:    decimal.NewFromInt(3),
		ConditionFee:  decimal.NewFromInt(15),
		Condition:     ConditionDamaged,
		OccurredAt:    at,
	}))

	msgs, err := client.XRange(ctx, DefaultEventStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	v := msgs[0].Values
	assert.Equal(t, "checkin", v["type"])
	assert.Equal(t, "42", v["transaction_id"])
	assert.Equal(t, "u-1", v["book_uuid"])
	assert.Equal(t, "1740819600", v["timestamp"])

	var ev CirculationEvent
	require.NoError(t, json.Unmarshal([]byte(v["data"].(string)), &ev))
	assert.Equal(t, ConditionDamaged, ev.Condition)
	assert.True(t, ev.ConditionFee.Equal(decimal.NewFromInt(15)))
}

func TestPublishFailureDoesNotUndoCheckout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	mgr, _ := newManager(t, WithEventPublisher(NewRedisStreamPublisher(client, "loans", 0)))
	ctx := context.Background()
	b := addTestBook(t, mgr, "Offline", 1)
	m := addTestMember(t, mgr, "E1", 5)

	res, err := mgr.Checkout(ctx, CheckoutRequest{BookUUID: b.UUID, MemberID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Book.CopiesAvailable)
	assert.Equal(t, 0, reloadBook(t, mgr, b.ID).CopiesAvailable)
}
