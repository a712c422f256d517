// Package handler содержит HTTP-обработчики административного API сервиса проверки платежей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-payments/internal/middleware"
	"github.com/mmeshcher/marketplace-payments/internal/model"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
	"github.com/mmeshcher/marketplace-payments/internal/service"
	"github.com/mmeshcher/marketplace-payments/internal/validation"
	"github.com/mmeshcher/marketplace-payments/internal/verification"
)

// Service определяет контракт операций, используемых HTTP-обработчиками.
type Service interface {
	RunVerification(ctx context.Context) (verification.CycleResult, error)
	StuckOrders(ctx context.Context) ([]model.Order, error)
	OrderDetails(ctx context.Context, number string) (*service.OrderDetails, error)
}

// Handler реализует HTTP-обработчики административного API.
type Handler struct {
	service   Service
	logger    *zap.Logger
	adminAuth *middleware.AdminAuth
	now       func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AdminAuth) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		adminAuth: auth,
		now:       time.Now,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// RunVerification запускает внеочередной цикл проверки и возвращает его итоги.
func (h *Handler) RunVerification(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RunVerification(r.Context())
	if err != nil {
		h.logger.Error("run verification error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if res.Empty() {
		h.writeJSON(w, http.StatusOK, messageResponse{Message: "No pending orders"})
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

type stuckOrderResponse struct {
	Number     string `json:"number"`
	Total      string `json:"total"`
	CreatedAt  string `json:"created_at"`
	AgeMinutes int    `json:"age_minutes"`
}

// GetStuckOrders возвращает заказы, слишком долго ожидающие проверки.
func (h *Handler) GetStuckOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.StuckOrders(r.Context())
	if err != nil {
		h.logger.Error("get stuck orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	now := h.now()
	resp := make([]stuckOrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, stuckOrderResponse{
			Number:     o.Number,
			Total:      o.Total.StringFixed(2),
			CreatedAt:  o.CreatedAt.Format(time.RFC3339),
			AgeMinutes: int(o.Age(now).Minutes()),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type checkoutResponse struct {
	CheckoutID string `json:"checkout_id"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

type orderResponse struct {
	Number         string            `json:"number"`
	Status         string            `json:"status"`
	Total          string            `json:"total"`
	IsPaid         bool              `json:"is_paid"`
	PaidAt         string            `json:"paid_at,omitempty"`
	TransactionRef string            `json:"transaction_ref,omitempty"`
	CreatedAt      string            `json:"created_at"`
	PaymentNotes   string            `json:"payment_notes,omitempty"`
	Checkout       *checkoutResponse `json:"checkout,omitempty"`
	Tickets        int               `json:"tickets"`
}

// GetOrder возвращает состояние оплаты заказа.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	if !validation.IsValidOrderNumber(number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	d, err := h.service.OrderDetails(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := orderResponse{
		Number:       d.Order.Number,
		Status:       string(d.Order.Status),
		Total:        d.Order.Total.StringFixed(2),
		IsPaid:       d.Order.IsPaid,
		CreatedAt:    d.Order.CreatedAt.Format(time.RFC3339),
		PaymentNotes: d.Order.PaymentNotes,
		Tickets:      len(d.Tickets),
	}
	if d.Order.PaidAt != nil {
		resp.PaidAt = d.Order.PaidAt.Format(time.RFC3339)
	}
	if d.Order.TransactionRef != nil {
		resp.TransactionRef = *d.Order.TransactionRef
	}
	if d.Checkout != nil {
		resp.Checkout = &checkoutResponse{
			CheckoutID: d.Checkout.CheckoutID,
			Status:     string(d.Checkout.Status),
			Amount:     d.Checkout.Amount.StringFixed(2),
			Currency:   d.Checkout.Currency,
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Ping отвечает 200, пока процесс жив.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
