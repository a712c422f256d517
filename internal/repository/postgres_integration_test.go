package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

// newTestRepository подключается к базе из TEST_DATABASE_URI и очищает таблицы.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	r, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.pool.Exec(context.Background(),
		`TRUNCATE tickets, checkout_sessions, order_items, orders, merchant_accounts RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return r
}

func insertOrder(t *testing.T, r *PostgresRepository, number string, createdAt time.Time, quantity int, price string) int64 {
	t.Helper()
	ctx := context.Background()

	unit := decimal.RequireFromString(price)
	total := unit.Mul(decimal.NewFromInt(int64(quantity)))

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (number, seller_id, total, created_at, customer_email)
		 VALUES ($1, 1, $2::numeric, $3, 'buyer@example.com') RETURNING id`,
		number, total.StringFixed(2), createdAt,
	).Scan(&id)
	require.NoError(t, err)

	_, err = r.pool.Exec(ctx,
		`INSERT INTO order_items (order_id, item_id, kind, quantity, unit_price) VALUES ($1, 10, 'event', $2, $3::numeric)`,
		id, quantity, unit.StringFixed(2),
	)
	require.NoError(t, err)

	_, err = r.pool.Exec(ctx,
		`INSERT INTO checkout_sessions (order_id, checkout_id, amount, currency) VALUES ($1, $2, $3::numeric, 'EUR')`,
		id, "chk_"+number, total.StringFixed(2),
	)
	require.NoError(t, err)

	return id
}

func TestPostgres_PendingAndOverdueOrders(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	insertOrder(t, r, "ORD-NEW00001", now.Add(-5*time.Minute), 1, "10.00")
	insertOrder(t, r, "ORD-MID00001", now.Add(-30*time.Minute), 1, "10.00")
	insertOrder(t, r, "ORD-OLD00001", now.Add(-60*time.Minute), 1, "10.00")
	insertOrder(t, r, "ORD-GONE0001", now.Add(-3*time.Hour), 1, "10.00")

	cutoff := now.Add(-2 * time.Hour)

	pending, err := r.PendingOrders(ctx, 2, cutoff)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "ORD-OLD00001", pending[0].Number)
	assert.Equal(t, "ORD-MID00001", pending[1].Number)
	assert.True(t, pending[0].Total.Equal(decimal.RequireFromString("10")))

	overdue, err := r.OverdueOrders(ctx, 10, cutoff)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "ORD-GONE0001", overdue[0].Number)
}

func TestPostgres_WithOrderLockSerializesCompletion(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	id := insertOrder(t, r, "ORD-LOCK0001", time.Now().Add(-10*time.Minute), 3, "5.00")

	var (
		mu          sync.Mutex
		completions int
		wg          sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.WithOrderLock(ctx, id, func(ctx context.Context, tx OrderTx) error {
				if tx.Order().Status != model.OrderStatusPendingVerification {
					return nil
				}
				// Держим блокировку, чтобы второй проход гарантированно ждал.
				time.Sleep(100 * time.Millisecond)

				if err := tx.Complete(ctx, model.PaymentConfirmation{TransactionRef: "TX-1", PaidAt: time.Now()}); err != nil {
					return err
				}
				tickets := make([]model.Ticket, 0, tx.Order().Quantity())
				for n := 0; n < tx.Order().Quantity(); n++ {
					tickets = append(tickets, model.Ticket{OrderID: id, ItemID: 10, Serial: uuid.NewString(), Status: model.TicketStatusValid})
				}
				if err := tx.InsertTickets(ctx, tickets); err != nil {
					return err
				}

				mu.Lock()
				completions++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completions)

	tickets, err := r.TicketsByOrder(ctx, id)
	require.NoError(t, err)
	assert.Len(t, tickets, 3)

	o, err := r.OrderByNumber(ctx, "ORD-LOCK0001")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, o.Status)
	assert.True(t, o.IsPaid)

	chk, err := r.CheckoutByOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutStatusPaid, chk.Status)
}
