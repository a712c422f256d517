// Package model содержит доменные сущности сервиса проверки платежей маркетплейса.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа.
// Сервис проверки сам записывает только completed, failed и requires_manual_review.
// Остальные терминальные статусы выставляют внешние инструменты маркетплейса.
type OrderStatus string

const (
	OrderStatusPendingVerification OrderStatus = "pending_verification"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusFailed              OrderStatus = "failed"
	// OrderStatusExpired выставляется только внешними инструментами. Истечение срока оплаты
	// сервис проверки записывает как OrderStatusFailed.
	OrderStatusExpired      OrderStatus = "expired"
	OrderStatusManualReview OrderStatus = "requires_manual_review"
	// OrderStatusCancelled выставляется админкой маркетплейса при отмене заказа.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal сообщает, что из статуса нет автоматических переходов.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPendingVerification
}

// CheckoutStatus описывает жизненный цикл платёжной сессии.
type CheckoutStatus string

const (
	CheckoutStatusCreated CheckoutStatus = "created"
	CheckoutStatusPending CheckoutStatus = "pending"
	CheckoutStatusPaid    CheckoutStatus = "paid"
	CheckoutStatusFailed  CheckoutStatus = "failed"
)

// TicketStatus описывает статус выданного билета.
// Сервис выдаёт билеты только со статусом valid. Статусы used и cancelled
// записывают контроль входа и админка маркетплейса.
type TicketStatus string

const (
	TicketStatusValid     TicketStatus = "valid"
	TicketStatusUsed      TicketStatus = "used"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// ItemKind описывает тип покупаемой позиции. Значение задаёт каталог маркетплейса,
// билеты выдаются на каждую единицу независимо от типа.
type ItemKind string

const (
	ItemKindArtwork ItemKind = "artwork"
	ItemKindEvent   ItemKind = "event"
)

// OrderItem описывает позицию заказа.
type OrderItem struct {
	ID        int64
	ItemID    int64
	Kind      ItemKind
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal возвращает стоимость позиции.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order описывает заказ покупателя.
type Order struct {
	ID             int64
	Number         string
	SellerID       int64
	Total          decimal.Decimal
	Status         OrderStatus
	IsPaid         bool
	PaidAt         *time.Time
	CreatedAt      time.Time
	PaymentNotes   string
	TransactionRef *string
	CustomerEmail  string
	CustomerName   string
	Items          []OrderItem
}

// Age возвращает возраст заказа относительно now.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// Quantity возвращает суммарное количество единиц по всем позициям.
func (o *Order) Quantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// ItemsTotal возвращает сумму стоимостей всех позиций.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

// CheckoutSession описывает платёжную сессию шлюза, связанную с заказом.
type CheckoutSession struct {
	ID          int64
	OrderID     int64
	CheckoutID  string
	Amount      decimal.Decimal
	Currency    string
	Status      CheckoutStatus
	RawResponse json.RawMessage
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// Ticket описывает билет, выданный на одну оплаченную единицу.
type Ticket struct {
	ID        int64
	OrderID   int64
	ItemID    int64
	Serial    string
	Status    TicketStatus
	CreatedAt time.Time
}

// MerchantAccount содержит OAuth-данные продавца, подключённого к шлюзу.
type MerchantAccount struct {
	SellerID       int64
	MerchantCode   string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
}

// PaymentConfirmation содержит данные, фиксируемые при подтверждении оплаты.
type PaymentConfirmation struct {
	TransactionRef string
	PaidAt         time.Time
	RawResponse    json.RawMessage
}
