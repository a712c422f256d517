package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-payments/internal/validation"
)

// Статусы чекаута в шлюзе.
const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
	StatusFailed  = "FAILED"
)

// TransactionStatusSuccessful обозначает успешную транзакцию в истории шлюза.
const TransactionStatusSuccessful = "SUCCESSFUL"

// amountTolerance используется только при сопоставлении транзакций и до отправки чекаута.
var amountTolerance = decimal.New(1, -2)

// CheckoutRequest описывает параметры создания чекаута.
type CheckoutRequest struct {
	Amount       decimal.Decimal
	Currency     string
	Reference    string
	Description  string
	ReturnURL    string
	MerchantCode string
	// ExpectedAmount, если задан, должен совпадать с Amount.
	ExpectedAmount *decimal.Decimal
}

type checkoutPayload struct {
	CheckoutReference string      `json:"checkout_reference"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	Description       string      `json:"description,omitempty"`
	ReturnURL         string      `json:"return_url,omitempty"`
	MerchantCode      string      `json:"merchant_code,omitempty"`
}

// Checkout описывает созданный в шлюзе чекаут.
type Checkout struct {
	ID          string          `json:"id"`
	Reference   string          `json:"checkout_reference"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Transaction описывает транзакцию шлюза.
type Transaction struct {
	ID              string          `json:"id"`
	TransactionCode string          `json:"transaction_code"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
}

// CheckoutStatus описывает состояние чекаута в шлюзе.
type CheckoutStatus struct {
	ID              string          `json:"id"`
	Reference       string          `json:"checkout_reference"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	TransactionCode string          `json:"transaction_code,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Transactions    []Transaction   `json:"transactions,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

// TransactionReference возвращает идентификатор транзакции, по которой оплачен чекаут.
func (s *CheckoutStatus) TransactionReference() string {
	if s.TransactionCode != "" {
		return s.TransactionCode
	}
	for _, tx := range s.Transactions {
		if tx.TransactionCode != "" {
			return tx.TransactionCode
		}
	}
	return s.TransactionID
}

// CreateCheckout создаёт чекаут в шлюзе. Несовпадение суммы с ExpectedAmount
// отклоняется до сетевого запроса.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.ExpectedAmount != nil && req.Amount.Sub(*req.ExpectedAmount).Abs().GreaterThanOrEqual(amountTolerance) {
		return nil, &AmountValidationError{Amount: req.Amount, Expected: *req.ExpectedAmount}
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !validation.IsValidCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: invalid currency %q", ErrInvalidRequest, req.Currency)
	}
	if req.Reference == "" {
		return nil, fmt.Errorf("%w: checkout reference is required", ErrInvalidRequest)
	}

	token, err := c.PlatformToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := checkoutPayload{
		CheckoutReference: req.Reference,
		Amount:            json.Number(req.Amount.StringFixed(2)),
		Currency:          req.Currency,
		Description:       req.Description,
		ReturnURL:         req.ReturnURL,
		MerchantCode:      req.MerchantCode,
	}

	var checkout Checkout
	raw, err := c.doJSON(ctx, "create checkout", http.MethodPost, "/checkouts", token, payload, &checkout)
	if err != nil {
		return nil, err
	}
	checkout.Raw = raw

	return &checkout, nil
}

// GetCheckoutStatus запрашивает статус чекаута с токеном платформы.
func (c *Client) GetCheckoutStatus(ctx context.Context, checkoutID string) (*CheckoutStatus, error) {
	token, err := c.PlatformToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.getCheckout(ctx, token, checkoutID)
}

func (c *Client) getCheckout(ctx context.Context, token, checkoutID string) (*CheckoutStatus, error) {
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: checkout id is required", ErrInvalidRequest)
	}

	var status CheckoutStatus
	raw, err := c.doJSON(ctx, "get checkout", http.MethodGet, "/checkouts/"+url.PathEscape(checkoutID), token, nil, &status)
	if err != nil {
		return nil, err
	}
	status.Raw = raw

	return &status, nil
}

// TransactionQuery описывает фильтр истории транзакций.
type TransactionQuery struct {
	Limit        int
	ChangesSince time.Time
}

type transactionHistory struct {
	Items []Transaction `json:"items"`
}

// ListTransactions возвращает историю транзакций платформы.
func (c *Client) ListTransactions(ctx context.Context, q TransactionQuery) ([]Transaction, error) {
	token, err := c.PlatformToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("order", "descending")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.ChangesSince.IsZero() {
		params.Set("changes_since", q.ChangesSince.UTC().Format(time.RFC3339))
	}

	var history transactionHistory
	if _, err := c.doJSON(ctx, "list transactions", http.MethodGet, "/me/transactions/history?"+params.Encode(), token, nil, &history); err != nil {
		return nil, err
	}

	return history.Items, nil
}

// MatchTransaction ищет успешную транзакцию с суммой, совпадающей с amount с точностью до 0.01.
// Не используется при проверке оплаченных заказов: там суммы сравниваются точно.
func MatchTransaction(txs []Transaction, amount decimal.Decimal) (*Transaction, bool) {
	for i := range txs {
		if txs[i].Status != TransactionStatusSuccessful {
			continue
		}
		if txs[i].Amount.Sub(amount).Abs().LessThan(amountTolerance) {
			return &txs[i], true
		}
	}
	return nil, false
}

// FindTransaction загружает историю транзакций и ищет в ней транзакцию на сумму amount.
func (c *Client) FindTransaction(ctx context.Context, q TransactionQuery, amount decimal.Decimal) (*Transaction, bool, error) {
	txs, err := c.ListTransactions(ctx, q)
	if err != nil {
		return nil, false, err
	}
	tx, ok := MatchTransaction(txs, amount)
	return tx, ok, nil
}

type refundPayload struct {
	Amount json.Number `json:"amount,omitempty"`
}

// Refund оформляет возврат по транзакции. Если amount равен nil, возвращается полная сумма.
func (c *Client) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) error {
	if transactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	}
	if amount != nil && !amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be positive", ErrInvalidRequest)
	}

	token, err := c.PlatformToken(ctx)
	if err != nil {
		return err
	}

	var payload refundPayload
	if amount != nil {
		payload.Amount = json.Number(amount.StringFixed(2))
	}

	_, err = c.doJSON(ctx, "refund", http.MethodPost, "/me/refund/"+url.PathEscape(transactionID), token, payload, nil)
	return err
}
