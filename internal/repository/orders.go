package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

const orderColumns = `id, number, seller_id, total::text, status, is_paid, paid_at, created_at,
	payment_notes, transaction_ref, customer_email, customer_name`

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o      model.Order
		total  string
		status string
	)

	err := row.Scan(&o.ID, &o.Number, &o.SellerID, &total, &status, &o.IsPaid, &o.PaidAt, &o.CreatedAt,
		&o.PaymentNotes, &o.TransactionRef, &o.CustomerEmail, &o.CustomerName)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	if o.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}

	return &o, nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	var res []model.Order

	err := r.withRetry(ctx, func() error {
		res = nil

		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("scan order: %w", err)
			}
			res = append(res, *o)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})

	return res, err
}

// PendingOrders возвращает до limit заказов, ожидающих проверки и созданных после createdAfter,
// от самых старых к новым. Позиции заказов не загружаются.
func (r *PostgresRepository) PendingOrders(ctx context.Context, limit int, createdAfter time.Time) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND created_at >= $2
		 ORDER BY created_at, id
		 LIMIT $3`,
		string(model.OrderStatusPendingVerification), createdAfter, limit,
	)
}

// OverdueOrders возвращает до limit заказов, всё ещё ожидающих проверки и созданных раньше createdBefore,
// от самых старых к новым.
func (r *PostgresRepository) OverdueOrders(ctx context.Context, limit int, createdBefore time.Time) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at, id
		 LIMIT $3`,
		string(model.OrderStatusPendingVerification), createdBefore, limit,
	)
}

// StuckOrders возвращает заказы, ожидающие проверки и созданные в интервале [createdAfter, createdBefore).
func (r *PostgresRepository) StuckOrders(ctx context.Context, createdBefore, createdAfter time.Time) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND created_at < $2 AND created_at >= $3
		 ORDER BY created_at, id`,
		string(model.OrderStatusPendingVerification), createdBefore, createdAfter,
	)
}

// OrderByNumber возвращает заказ вместе с позициями по его номеру.
func (r *PostgresRepository) OrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if o.Items, err = loadItems(ctx, r.pool, o.ID); err != nil {
		return nil, err
	}

	return o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]model.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, item_id, kind, title, quantity, unit_price::text
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var (
			it    model.OrderItem
			kind  string
			price string
		)
		if err := rows.Scan(&it.ID, &it.ItemID, &kind, &it.Title, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.Kind = model.ItemKind(kind)
		if it.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CheckoutByOrder возвращает платёжную сессию заказа.
func (r *PostgresRepository) CheckoutByOrder(ctx context.Context, orderID int64) (*model.CheckoutSession, error) {
	var (
		s      model.CheckoutSession
		amount string
		status string
		raw    []byte
	)

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, order_id, checkout_id, amount::text, currency, status, raw_response, paid_at, created_at
			 FROM checkout_sessions
			 WHERE order_id = $1`,
			orderID,
		).Scan(&s.ID, &s.OrderID, &s.CheckoutID, &amount, &s.Currency, &status, &raw, &s.PaidAt, &s.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}

	s.Status = model.CheckoutStatus(status)
	s.RawResponse = json.RawMessage(raw)
	if s.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}

	return &s, nil
}

// MarkManualReview переводит ожидающий заказ в ручную проверку и дописывает note в заметки об оплате.
func (r *PostgresRepository) MarkManualReview(ctx context.Context, orderID int64, note string) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET status = $2,
			     payment_notes = CASE WHEN payment_notes = '' THEN $3 ELSE payment_notes || E'\n' || $3 END
			 WHERE id = $1 AND status = $4`,
			orderID, string(model.OrderStatusManualReview), note, string(model.OrderStatusPendingVerification),
		)
		if err != nil {
			return fmt.Errorf("mark manual review: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotPending
		}
		return nil
	})
}

// MarkFailed переводит ожидающий заказ и его платёжную сессию в статус failed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, orderID int64, note string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`UPDATE orders
			 SET status = $2,
			     payment_notes = CASE WHEN payment_notes = '' THEN $3 ELSE payment_notes || E'\n' || $3 END
			 WHERE id = $1 AND status = $4`,
			orderID, string(model.OrderStatusFailed), note, string(model.OrderStatusPendingVerification),
		)
		if err != nil {
			return fmt.Errorf("mark order failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotPending
		}

		_, err = tx.Exec(ctx,
			`UPDATE checkout_sessions SET status = $2, updated_at = now() WHERE order_id = $1 AND status <> $3`,
			orderID, string(model.CheckoutStatusFailed), string(model.CheckoutStatusPaid),
		)
		if err != nil {
			return fmt.Errorf("mark checkout failed: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// MarkCheckoutPending отмечает, что шлюз видит чекаут в ожидании оплаты.
func (r *PostgresRepository) MarkCheckoutPending(ctx context.Context, orderID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE checkout_sessions SET status = $2, updated_at = now() WHERE order_id = $1 AND status = $3`,
		orderID, string(model.CheckoutStatusPending), string(model.CheckoutStatusCreated),
	)
	if err != nil {
		return fmt.Errorf("mark checkout pending: %w", err)
	}
	return nil
}

// TicketsByOrder возвращает билеты заказа.
func (r *PostgresRepository) TicketsByOrder(ctx context.Context, orderID int64) ([]model.Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, item_id, serial::text, status, created_at
		 FROM tickets
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tickets: %w", err)
	}
	defer rows.Close()

	var res []model.Ticket
	for rows.Next() {
		var (
			t      model.Ticket
			status string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.ItemID, &t.Serial, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.Status = model.TicketStatus(status)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
