// Package notify отправляет уведомления покупателям и оповещения администраторам.
// Письма формирует отдельный почтовый сервис, который читает сообщения из брокера.
package notify

import (
	"time"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

// Типы сообщений, они же ключи маршрутизации.
const (
	KindOrderConfirmation = "email.order_confirmation"
	KindPaymentFailed     = "email.payment_failed"
	KindAdminAlert        = "alert.admin"
	KindCriticalAlert     = "alert.critical"
)

// Message описывает сообщение для почтового сервиса.
type Message struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	To        string          `json:"to"`
	Subject   string          `json:"subject,omitempty"`
	Body      string          `json:"body,omitempty"`
	Order     *OrderPayload   `json:"order,omitempty"`
	Tickets   []TicketPayload `json:"tickets,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderPayload содержит данные заказа для шаблона письма.
type OrderPayload struct {
	Number       string `json:"number"`
	Total        string `json:"total"`
	CustomerName string `json:"customer_name"`
	Status       string `json:"status"`
}

// TicketPayload содержит данные билета для вложения в письмо.
type TicketPayload struct {
	Serial string `json:"serial"`
	ItemID int64  `json:"item_id"`
}

func orderPayload(o *model.Order) *OrderPayload {
	return &OrderPayload{
		Number:       o.Number,
		Total:        o.Total.StringFixed(2),
		CustomerName: o.CustomerName,
		Status:       string(o.Status),
	}
}

func ticketPayloads(tickets []model.Ticket) []TicketPayload {
	res := make([]TicketPayload, 0, len(tickets))
	for _, t := range tickets {
		res = append(res, TicketPayload{Serial: t.Serial, ItemID: t.ItemID})
	}
	return res
}
