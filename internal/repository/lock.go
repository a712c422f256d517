package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

// OrderTx описывает операции над заказом, заблокированным в рамках транзакции.
type OrderTx interface {
	// Order возвращает заказ с позициями, прочитанный под блокировкой.
	Order() *model.Order
	// Complete переводит заказ в completed, а платёжную сессию в paid.
	Complete(ctx context.Context, c model.PaymentConfirmation) error
	// InsertTickets сохраняет билеты заказа и заполняет их идентификаторы.
	InsertTickets(ctx context.Context, tickets []model.Ticket) error
}

// WithOrderLock выполняет fn в транзакции, удерживая блокировку строки заказа (SELECT ... FOR UPDATE).
// Транзакция фиксируется, если fn вернула nil, иначе откатывается.
// Обрыв соединения во время фиксации не повторяется и возвращается как ErrCommitUnknown.
func (r *PostgresRepository) WithOrderLock(ctx context.Context, orderID int64, fn func(ctx context.Context, tx OrderTx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order for update: %w", err)
		}

		if o.Items, err = loadItems(ctx, tx, o.ID); err != nil {
			return err
		}

		if err := fn(ctx, &pgOrderTx{tx: tx, order: o}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				// Сервер ответил отказом: транзакция откатилась, повтор безопасен.
				return fmt.Errorf("commit tx: %w", err)
			}
			return fmt.Errorf("%w: %v", ErrCommitUnknown, err)
		}
		return nil
	})
}

type pgOrderTx struct {
	tx    pgx.Tx
	order *model.Order
}

func (t *pgOrderTx) Order() *model.Order {
	return t.order
}

func (t *pgOrderTx) Complete(ctx context.Context, c model.PaymentConfirmation) error {
	var ref *string
	if c.TransactionRef != "" {
		ref = &c.TransactionRef
	}

	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, is_paid = TRUE, paid_at = $3, transaction_ref = $4 WHERE id = $1`,
		t.order.ID, string(model.OrderStatusCompleted), c.PaidAt, ref,
	)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE checkout_sessions
		 SET status = $2, paid_at = $3, raw_response = $4::jsonb, updated_at = now()
		 WHERE order_id = $1`,
		t.order.ID, string(model.CheckoutStatusPaid), c.PaidAt, nullableJSON(c.RawResponse),
	)
	if err != nil {
		return fmt.Errorf("mark checkout paid: %w", err)
	}

	paidAt := c.PaidAt
	t.order.Status = model.OrderStatusCompleted
	t.order.IsPaid = true
	t.order.PaidAt = &paidAt
	t.order.TransactionRef = ref

	return nil
}

func (t *pgOrderTx) InsertTickets(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, tk := range tickets {
		batch.Queue(
			`INSERT INTO tickets (order_id, item_id, serial, status) VALUES ($1, $2, $3::uuid, $4) RETURNING id, created_at`,
			tk.OrderID, tk.ItemID, tk.Serial, string(tk.Status),
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for i := range tickets {
		if err := br.QueryRow().Scan(&tickets[i].ID, &tickets[i].CreatedAt); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert ticket: %w", err)
		}
	}

	if err := br.Close(); err != nil {
		return fmt.Errorf("close ticket batch: %w", err)
	}
	return nil
}
