// Package ticket выпускает билеты по оплаченным заказам.
package ticket

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/marketplace-payments/internal/model"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
)

// Issuer создаёт по одному билету на каждую оплаченную единицу заказа.
// Не проверяет повторный выпуск: вызывающий код обязан вызывать его один раз на заказ.
type Issuer struct {
	newSerial func() string
}

// NewIssuer создаёт выпускающего билеты с UUID-серийными номерами.
func NewIssuer() *Issuer {
	return &Issuer{newSerial: func() string { return uuid.NewString() }}
}

// IssueTickets выпускает билеты для заказа, заблокированного в tx.
func (i *Issuer) IssueTickets(ctx context.Context, tx repository.OrderTx) ([]model.Ticket, error) {
	order := tx.Order()

	tickets := make([]model.Ticket, 0, order.Quantity())
	for _, item := range order.Items {
		for n := 0; n < item.Quantity; n++ {
			tickets = append(tickets, model.Ticket{
				OrderID: order.ID,
				ItemID:  item.ItemID,
				Serial:  i.newSerial(),
				Status:  model.TicketStatusValid,
			})
		}
	}

	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return nil, fmt.Errorf("issue tickets for order %s: %w", order.Number, err)
	}

	return tickets, nil
}
