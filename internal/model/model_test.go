package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrder_QuantityAndItemsTotal(t *testing.T) {
	o := Order{Items: []OrderItem{
		{Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("0.10")},
		{Quantity: 3, UnitPrice: decimal.RequireFromString("0.20")},
	}}

	assert.Equal(t, 6, o.Quantity())
	assert.True(t, o.ItemsTotal().Equal(decimal.RequireFromString("25.70")), o.ItemsTotal().String())
}

func TestOrder_EmptyItems(t *testing.T) {
	var o Order
	assert.Zero(t, o.Quantity())
	assert.True(t, o.ItemsTotal().IsZero())
}

func TestOrder_Age(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	o := Order{CreatedAt: now.Add(-90 * time.Minute)}
	assert.Equal(t, 90*time.Minute, o.Age(now))
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.False(t, OrderStatusPendingVerification.IsTerminal())
	for _, s := range []OrderStatus{OrderStatusCompleted, OrderStatusFailed, OrderStatusExpired, OrderStatusManualReview, OrderStatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
	}
}

// Значения хранятся в базе и записываются внешними инструментами маркетплейса.
func TestStatusValues_MatchStoredStrings(t *testing.T) {
	assert.Equal(t, "expired", string(OrderStatusExpired))
	assert.Equal(t, "cancelled", string(OrderStatusCancelled))
	assert.Equal(t, "requires_manual_review", string(OrderStatusManualReview))
	assert.Equal(t, "used", string(TicketStatusUsed))
	assert.Equal(t, "cancelled", string(TicketStatusCancelled))
	assert.Equal(t, "artwork", string(ItemKindArtwork))
	assert.Equal(t, "event", string(ItemKindEvent))
}
