// Package verification сверяет ожидающие заказы с платёжным шлюзом и переводит
// заказы, платёжные сессии и билеты по машине состояний проверки оплаты.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-payments/internal/gateway"
	"github.com/mmeshcher/marketplace-payments/internal/model"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
)

// Store описывает контракт хранилища заказов, используемый движком.
type Store interface {
	PendingOrders(ctx context.Context, limit int, createdAfter time.Time) ([]model.Order, error)
	OverdueOrders(ctx context.Context, limit int, createdBefore time.Time) ([]model.Order, error)
	StuckOrders(ctx context.Context, createdBefore, createdAfter time.Time) ([]model.Order, error)
	CheckoutByOrder(ctx context.Context, orderID int64) (*model.CheckoutSession, error)
	MerchantForSeller(ctx context.Context, sellerID int64) (*model.MerchantAccount, error)
	MarkManualReview(ctx context.Context, orderID int64, note string) error
	MarkFailed(ctx context.Context, orderID int64, note string) error
	MarkCheckoutPending(ctx context.Context, orderID int64) error
	WithOrderLock(ctx context.Context, orderID int64, fn func(ctx context.Context, tx repository.OrderTx) error) error
}

// Gateway возвращает статус чекаута от имени продавца.
type Gateway interface {
	CheckoutStatus(ctx context.Context, merchant *model.MerchantAccount, checkoutID string) (*gateway.CheckoutStatus, error)
}

// TicketIssuer выпускает билеты заказа в рамках заблокированной транзакции.
type TicketIssuer interface {
	IssueTickets(ctx context.Context, tx repository.OrderTx) ([]model.Ticket, error)
}

// Notifier отправляет письма покупателям и оповещения администраторам.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *model.Order, tickets []model.Ticket) error
	SendPaymentFailedNotice(ctx context.Context, order *model.Order)
	SendAdminAlert(ctx context.Context, subject, body string)
	SendCriticalAdminAlert(ctx context.Context, subject, body string)
}

// Options содержит параметры цикла проверки.
type Options struct {
	MaxOrdersPerCycle int
	MaxOrderAge       time.Duration
	StuckThreshold    time.Duration
	OrderTimeout      time.Duration
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		MaxOrdersPerCycle: 20,
		MaxOrderAge:       2 * time.Hour,
		StuckThreshold:    30 * time.Minute,
		OrderTimeout:      30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxOrdersPerCycle <= 0 {
		o.MaxOrdersPerCycle = def.MaxOrdersPerCycle
	}
	if o.MaxOrderAge <= 0 {
		o.MaxOrderAge = def.MaxOrderAge
	}
	if o.StuckThreshold <= 0 {
		o.StuckThreshold = def.StuckThreshold
	}
	if o.OrderTimeout <= 0 {
		o.OrderTimeout = def.OrderTimeout
	}
	return o
}

// Engine проверяет оплату ожидающих заказов.
type Engine struct {
	store    Store
	gateway  Gateway
	issuer   TicketIssuer
	notifier Notifier
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewEngine создаёт движок проверки с указанными зависимостями.
func NewEngine(store Store, gw Gateway, issuer TicketIssuer, notifier Notifier, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		gateway:  gw,
		issuer:   issuer,
		notifier: notifier,
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Start запускает периодическую проверку и блокируется до отмены ctx.
// Каждый цикл после проверки ищет зависшие заказы.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := e.RunCycle(ctx); err != nil {
		e.logger.Error("verification cycle failed", zap.Error(err))
	}

	if _, err := e.DetectStuckOrders(ctx); err != nil {
		e.logger.Error("stuck order detection failed", zap.Error(err))
	}
}

// RunCycle проверяет очередную пачку ожидающих заказов, начиная с самых старых.
// Заказы старше максимального возраста проверяются отдельной пачкой: оплаченные завершаются,
// ожидающие истекают. Ошибка возвращается только если не удалось получить список заказов.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	cutoff := e.now().Add(-e.opts.MaxOrderAge)
	orders, err := e.store.PendingOrders(ctx, e.opts.MaxOrdersPerCycle, cutoff)
	if err != nil {
		return res, fmt.Errorf("load pending orders: %w", err)
	}

	overdue, err := e.store.OverdueOrders(ctx, e.opts.MaxOrdersPerCycle, cutoff)
	if err != nil {
		e.logger.Error("load overdue orders", zap.Error(err))
		overdue = nil
	}

	if len(orders) == 0 && len(overdue) == 0 {
		e.logger.Debug("no pending orders")
		return res, nil
	}

	// Просроченные заказы старше любого заказа из окна, поэтому идут первыми.
	batch := append(overdue, orders...)
	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		res.Record(e.verifyIsolated(ctx, &batch[i]))
	}

	e.logger.Info("verification cycle finished",
		zap.Int("verified", res.Verified),
		zap.Int("failed", res.Failed),
		zap.Int("stillPending", res.StillPending),
		zap.Int("errors", res.Errors),
	)

	return res, nil
}

// verifyIsolated не даёт ошибке или панике одного заказа прервать всю пачку.
func (e *Engine) verifyIsolated(ctx context.Context, order *model.Order) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("order verification panicked",
				zap.String("order", order.Number),
				zap.Any("panic", r),
			)
			outcome = OutcomeError
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.OrderTimeout)
	defer cancel()

	return e.VerifyOrder(ctx, order)
}

// VerifyOrder проверяет оплату одного заказа и выполняет соответствующий переход состояния.
func (e *Engine) VerifyOrder(ctx context.Context, order *model.Order) Outcome {
	log := e.logger.With(zap.String("order", order.Number), zap.Int64("orderID", order.ID))

	checkout, err := e.store.CheckoutByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCheckoutNotFound) {
			note := "checkout session not found"
			e.requireManualReview(ctx, log, order, note)
			e.notifier.SendCriticalAdminAlert(ctx,
				fmt.Sprintf("Order %s has no checkout session", order.Number),
				fmt.Sprintf("Order %s (total %s) reached payment verification without a checkout session.", order.Number, order.Total.StringFixed(2)),
			)
			return OutcomeError
		}
		log.Error("load checkout session", zap.Error(err))
		return OutcomeError
	}

	if checkout.CheckoutID == "" {
		note := "checkout session has no gateway checkout id"
		e.requireManualReview(ctx, log, order, note)
		e.notifier.SendAdminAlert(ctx, fmt.Sprintf("Order %s requires manual review", order.Number), note)
		return OutcomeError
	}

	merchant, err := e.store.MerchantForSeller(ctx, order.SellerID)
	if err != nil {
		if errors.Is(err, repository.ErrMerchantNotFound) {
			note := fmt.Sprintf("seller %d has no connected gateway account", order.SellerID)
			e.requireManualReview(ctx, log, order, note)
			e.notifier.SendAdminAlert(ctx, fmt.Sprintf("Order %s requires manual review", order.Number), note)
			return OutcomeError
		}
		log.Error("load merchant account", zap.Error(err))
		return OutcomeError
	}

	status, err := e.gateway.CheckoutStatus(ctx, merchant, checkout.CheckoutID)
	if err != nil {
		// Недоступность шлюза не повод отклонять заказ: он будет проверен в следующем цикле.
		log.Warn("gateway status request failed, will retry",
			zap.Error(err),
			zap.String("checkoutID", checkout.CheckoutID),
			zap.Bool("transient", gateway.IsTransient(err)),
		)
		return OutcomeError
	}

	switch status.Status {
	case gateway.StatusPaid:
		return e.handlePaid(ctx, log, order, checkout, status)
	case gateway.StatusFailed:
		return e.handleFailed(ctx, log, order, "gateway reported payment failed")
	case gateway.StatusPending:
		return e.handlePending(ctx, log, order, checkout)
	default:
		log.Warn("unknown gateway checkout status", zap.String("status", status.Status))
		return OutcomeError
	}
}

func (e *Engine) handlePaid(ctx context.Context, log *zap.Logger, order *model.Order, checkout *model.CheckoutSession, status *gateway.CheckoutStatus) Outcome {
	if mismatch := amountMismatch(order, checkout, status); mismatch != "" {
		note := "SECURITY: " + mismatch
		log.Error("payment amount mismatch",
			zap.String("gatewayAmount", status.Amount.String()),
			zap.String("orderTotal", order.Total.String()),
			zap.String("checkoutAmount", checkout.Amount.String()),
		)
		e.requireManualReview(ctx, log, order, note)
		e.notifier.SendCriticalAdminAlert(ctx,
			fmt.Sprintf("Payment amount mismatch for order %s", order.Number),
			note+". Tickets were not issued.",
		)
		return OutcomeError
	}

	return e.completePayment(ctx, log, order, status)
}

// amountMismatch сравнивает суммы точно: обе стороны хранятся в фиксированной точке.
func amountMismatch(order *model.Order, checkout *model.CheckoutSession, status *gateway.CheckoutStatus) string {
	if !status.Amount.Equal(order.Total) {
		return fmt.Sprintf("gateway reported amount %s, order total is %s", status.Amount.StringFixed(2), order.Total.StringFixed(2))
	}
	if !checkout.Amount.Equal(order.Total) {
		return fmt.Sprintf("checkout amount %s, order total is %s", checkout.Amount.StringFixed(2), order.Total.StringFixed(2))
	}
	if status.Currency != "" && checkout.Currency != "" && !strings.EqualFold(status.Currency, checkout.Currency) {
		return fmt.Sprintf("gateway reported currency %s, checkout currency is %s", status.Currency, checkout.Currency)
	}
	return ""
}

func (e *Engine) completePayment(ctx context.Context, log *zap.Logger, order *model.Order, status *gateway.CheckoutStatus) Outcome {
	var (
		tickets   []model.Ticket
		completed model.Order
		already   bool
		skipped   model.OrderStatus
	)

	err := e.store.WithOrderLock(ctx, order.ID, func(ctx context.Context, tx repository.OrderTx) error {
		tickets, already, skipped = nil, false, ""

		locked := tx.Order()
		switch locked.Status {
		case model.OrderStatusCompleted:
			already = true
			return nil
		case model.OrderStatusPendingVerification:
		default:
			skipped = locked.Status
			return nil
		}

		confirmation := model.PaymentConfirmation{
			TransactionRef: status.TransactionReference(),
			PaidAt:         e.now(),
			RawResponse:    status.Raw,
		}
		if err := tx.Complete(ctx, confirmation); err != nil {
			return err
		}

		issued, err := e.issuer.IssueTickets(ctx, tx)
		if err != nil {
			return err
		}

		tickets = issued
		completed = *tx.Order()
		return nil
	})
	if errors.Is(err, repository.ErrCommitUnknown) {
		// Повторная проверка увидит completed и не отправит письмо, поэтому нужен администратор.
		log.Error("verified payment commit outcome unknown", zap.Error(err))
		e.notifier.SendCriticalAdminAlert(ctx,
			fmt.Sprintf("Payment commit for order %s may not have completed", order.Number),
			fmt.Sprintf("The gateway confirmed payment for order %s (total %s), but the database connection was lost while committing. "+
				"Check the order status; if it is completed, tickets exist but the confirmation email was not sent.",
				order.Number, order.Total.StringFixed(2)),
		)
		return OutcomeError
	}
	if err != nil {
		log.Error("commit verified payment", zap.Error(err))
		return OutcomeError
	}

	if already {
		log.Info("order already completed, skipping")
		return OutcomeVerified
	}
	if skipped != "" {
		log.Warn("order left pending verification before commit", zap.String("status", string(skipped)))
		return OutcomeError
	}

	log.Info("payment verified",
		zap.Int("tickets", len(tickets)),
		zap.String("transactionRef", status.TransactionReference()),
	)

	// Письмо отправляется после фиксации транзакции; его сбой не отменяет оплату.
	if err := e.notifier.SendOrderConfirmation(ctx, &completed, tickets); err != nil {
		log.Error("send order confirmation", zap.Error(err))
		e.notifier.SendAdminAlert(ctx,
			fmt.Sprintf("Confirmation email failed for order %s", order.Number),
			fmt.Sprintf("Order %s is completed with %d tickets, but the confirmation email could not be sent: %v", order.Number, len(tickets), err),
		)
	}

	return OutcomeVerified
}

func (e *Engine) handleFailed(ctx context.Context, log *zap.Logger, order *model.Order, note string) Outcome {
	if err := e.store.MarkFailed(ctx, order.ID, note); err != nil {
		log.Error("mark order failed", zap.Error(err))
		return OutcomeError
	}

	log.Info("payment failed", zap.String("reason", note))

	failed := *order
	failed.Status = model.OrderStatusFailed
	e.notifier.SendPaymentFailedNotice(ctx, &failed)

	return OutcomeFailed
}

func (e *Engine) handlePending(ctx context.Context, log *zap.Logger, order *model.Order, checkout *model.CheckoutSession) Outcome {
	age := order.Age(e.now())
	if age > e.opts.MaxOrderAge {
		note := fmt.Sprintf("payment expired: still pending after %s", age.Truncate(time.Minute))
		outcome := e.handleFailed(ctx, log, order, note)
		if outcome == OutcomeFailed {
			e.notifier.SendAdminAlert(ctx,
				fmt.Sprintf("Order %s expired", order.Number),
				fmt.Sprintf("Order %s (total %s) was still pending at the gateway after %s and was marked failed.", order.Number, order.Total.StringFixed(2), age.Truncate(time.Minute)),
			)
		}
		return outcome
	}

	if checkout.Status == model.CheckoutStatusCreated {
		if err := e.store.MarkCheckoutPending(ctx, order.ID); err != nil {
			log.Warn("mark checkout pending", zap.Error(err))
		}
	}

	return OutcomeStillPending
}

func (e *Engine) requireManualReview(ctx context.Context, log *zap.Logger, order *model.Order, note string) {
	log.Warn("order requires manual review", zap.String("reason", note))

	if err := e.store.MarkManualReview(ctx, order.ID, note); err != nil {
		log.Error("mark order for manual review", zap.Error(err))
	}
}

// StuckOrders возвращает заказы, ожидающие проверки дольше порога,
// но ещё не вышедшие за максимальный возраст.
func (e *Engine) StuckOrders(ctx context.Context) ([]model.Order, error) {
	now := e.now()

	orders, err := e.store.StuckOrders(ctx, now.Add(-e.opts.StuckThreshold), now.Add(-e.opts.MaxOrderAge))
	if err != nil {
		return nil, fmt.Errorf("load stuck orders: %w", err)
	}
	return orders, nil
}

// DetectStuckOrders отправляет одно оповещение о зависших заказах. Состояние заказов не меняется.
func (e *Engine) DetectStuckOrders(ctx context.Context) (int, error) {
	now := e.now()

	orders, err := e.StuckOrders(ctx)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d orders have been pending verification for more than %s:\n", len(orders), e.opts.StuckThreshold)
	for _, o := range orders {
		fmt.Fprintf(&b, "- %s total %s, created %s (%s ago)\n",
			o.Number, o.Total.StringFixed(2), o.CreatedAt.UTC().Format(time.RFC3339), o.Age(now).Truncate(time.Minute))
	}

	e.notifier.SendAdminAlert(ctx, fmt.Sprintf("%d orders stuck in payment verification", len(orders)), b.String())
	e.logger.Warn("stuck orders detected", zap.Int("count", len(orders)))

	return len(orders), nil
}
