package verification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-payments/internal/gateway"
	"github.com/mmeshcher/marketplace-payments/internal/model"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
)

// memStore хранит данные в памяти и блокирует заказы построчно.
type memStore struct {
	mu        sync.Mutex
	orders    map[int64]*model.Order
	checkouts map[int64]*model.CheckoutSession
	merchants map[int64]*model.MerchantAccount
	tickets   map[int64][]model.Ticket
	rowLocks  map[int64]*sync.Mutex

	pendingErr  error
	lockErr     error
	completions int
	ticketSeq   int64
}

func newMemStore() *memStore {
	return &memStore{
		orders:    map[int64]*model.Order{},
		checkouts: map[int64]*model.CheckoutSession{},
		merchants: map[int64]*model.MerchantAccount{},
		tickets:   map[int64][]model.Ticket{},
		rowLocks:  map[int64]*sync.Mutex{},
	}
}

// addOrder добавляет ожидающий заказ с сессией и продавцом; total = quantity * price.
func (s *memStore) addOrder(id int64, createdAt time.Time, quantity int, price string) *model.Order {
	unit := decimal.RequireFromString(price)
	o := &model.Order{
		ID:            id,
		Number:        "ORD-" + decimal.NewFromInt(10000000+id).String(),
		SellerID:      100 + id,
		Status:        model.OrderStatusPendingVerification,
		CreatedAt:     createdAt,
		CustomerEmail: "buyer@example.com",
		Items: []model.OrderItem{
			{ID: id, ItemID: 500, Kind: model.ItemKindEvent, Quantity: quantity, UnitPrice: unit},
		},
	}
	o.Total = o.ItemsTotal()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[id] = o
	s.checkouts[id] = &model.CheckoutSession{
		ID:         id,
		OrderID:    id,
		CheckoutID: checkoutID(id),
		Amount:     o.Total,
		Currency:   "EUR",
		Status:     model.CheckoutStatusCreated,
	}
	s.merchants[o.SellerID] = &model.MerchantAccount{SellerID: o.SellerID, MerchantCode: "MC", AccessToken: "tok"}

	cp := *o
	return &cp
}

func checkoutID(orderID int64) string {
	return "chk_" + decimal.NewFromInt(orderID).String()
}

func (s *memStore) order(id int64) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memStore) checkout(id int64) model.CheckoutSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.checkouts[id]
}

func (s *memStore) ticketCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets[id])
}

func (s *memStore) PendingOrders(ctx context.Context, limit int, createdAfter time.Time) ([]model.Order, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderStatusPendingVerification && !o.CreatedAt.Before(createdAfter) {
			cp := *o
			cp.Items = nil
			res = append(res, cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *memStore) OverdueOrders(ctx context.Context, limit int, createdBefore time.Time) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderStatusPendingVerification && o.CreatedAt.Before(createdBefore) {
			cp := *o
			cp.Items = nil
			res = append(res, cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *memStore) StuckOrders(ctx context.Context, createdBefore, createdAfter time.Time) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderStatusPendingVerification && o.CreatedAt.Before(createdBefore) && !o.CreatedAt.Before(createdAfter) {
			res = append(res, *o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *memStore) CheckoutByOrder(ctx context.Context, orderID int64) (*model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkouts[orderID]
	if !ok {
		return nil, repository.ErrCheckoutNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) MerchantForSeller(ctx context.Context, sellerID int64) (*model.MerchantAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[sellerID]
	if !ok {
		return nil, repository.ErrMerchantNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) transition(orderID int64, to model.OrderStatus, note string) error {
	o := s.orders[orderID]
	if o.Status != model.OrderStatusPendingVerification {
		return repository.ErrOrderNotPending
	}
	o.Status = to
	if o.PaymentNotes != "" {
		o.PaymentNotes += "\n"
	}
	o.PaymentNotes += note
	return nil
}

func (s *memStore) MarkManualReview(ctx context.Context, orderID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(orderID, model.OrderStatusManualReview, note)
}

func (s *memStore) MarkFailed(ctx context.Context, orderID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(orderID, model.OrderStatusFailed, note); err != nil {
		return err
	}
	if c, ok := s.checkouts[orderID]; ok && c.Status != model.CheckoutStatusPaid {
		c.Status = model.CheckoutStatusFailed
	}
	return nil
}

func (s *memStore) MarkCheckoutPending(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.checkouts[orderID]; ok && c.Status == model.CheckoutStatusCreated {
		c.Status = model.CheckoutStatusPending
	}
	return nil
}

func (s *memStore) WithOrderLock(ctx context.Context, orderID int64, fn func(ctx context.Context, tx repository.OrderTx) error) error {
	if s.lockErr != nil {
		return s.lockErr
	}

	s.mu.Lock()
	rowLock, ok := s.rowLocks[orderID]
	if !ok {
		rowLock = &sync.Mutex{}
		s.rowLocks[orderID] = rowLock
	}
	stored, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok {
		return repository.ErrOrderNotFound
	}

	rowLock.Lock()
	defer rowLock.Unlock()

	s.mu.Lock()
	snapshot := *stored
	snapshot.Items = append([]model.OrderItem(nil), stored.Items...)
	s.mu.Unlock()

	tx := &memTx{order: &snapshot}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.confirmation != nil {
		s.completions++
		*stored = *tx.order
		c := s.checkouts[orderID]
		c.Status = model.CheckoutStatusPaid
		paidAt := tx.confirmation.PaidAt
		c.PaidAt = &paidAt
		c.RawResponse = tx.confirmation.RawResponse
	}
	for _, t := range tx.tickets {
		s.ticketSeq++
		t.ID = s.ticketSeq
		s.tickets[orderID] = append(s.tickets[orderID], t)
	}
	return nil
}

type memTx struct {
	order        *model.Order
	confirmation *model.PaymentConfirmation
	tickets      []model.Ticket
}

func (t *memTx) Order() *model.Order { return t.order }

func (t *memTx) Complete(ctx context.Context, c model.PaymentConfirmation) error {
	t.confirmation = &c
	paidAt := c.PaidAt
	ref := c.TransactionRef
	t.order.Status = model.OrderStatusCompleted
	t.order.IsPaid = true
	t.order.PaidAt = &paidAt
	t.order.TransactionRef = &ref
	return nil
}

func (t *memTx) InsertTickets(ctx context.Context, tickets []model.Ticket) error {
	t.tickets = append(t.tickets, tickets...)
	return nil
}

// fakeGateway возвращает заданный статус или ошибку по идентификатору чекаута.
type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]*gateway.CheckoutStatus
	errs     map[string]error
	panics   map[string]bool
	calls    []string
	// barrier, если задан, задерживает ответ до закрытия канала.
	barrier chan struct{}
	arrived chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: map[string]*gateway.CheckoutStatus{},
		errs:     map[string]error{},
		panics:   map[string]bool{},
	}
}

func (g *fakeGateway) set(id string, status, amount string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = &gateway.CheckoutStatus{
		ID:              id,
		Status:          status,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "EUR",
		TransactionCode: "TX-" + id,
		Raw:             []byte(`{"id":"` + id + `","status":"` + status + `"}`),
	}
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) CheckoutStatus(ctx context.Context, merchant *model.MerchantAccount, id string) (*gateway.CheckoutStatus, error) {
	g.mu.Lock()
	g.calls = append(g.calls, id)
	status, err, panics := g.statuses[id], g.errs[id], g.panics[id]
	barrier, arrived := g.barrier, g.arrived
	g.mu.Unlock()

	if arrived != nil {
		arrived <- struct{}{}
	}
	if barrier != nil {
		<-barrier
	}
	if panics {
		panic("gateway exploded")
	}
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, &gateway.UnavailableError{Op: "get checkout", StatusCode: 404, Err: errors.New("unexpected status: 404")}
	}
	cp := *status
	return &cp, nil
}

type alert struct {
	critical bool
	subject  string
	body     string
}

// fakeNotifier запоминает все отправленные уведомления.
type fakeNotifier struct {
	mu            sync.Mutex
	confirmations []string
	ticketsSent   []int
	failedNotices []string
	alerts        []alert
	confirmErr    error
}

func (n *fakeNotifier) SendOrderConfirmation(ctx context.Context, order *model.Order, tickets []model.Ticket) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.confirmErr != nil {
		return n.confirmErr
	}
	n.confirmations = append(n.confirmations, order.Number)
	n.ticketsSent = append(n.ticketsSent, len(tickets))
	return nil
}

func (n *fakeNotifier) SendPaymentFailedNotice(ctx context.Context, order *model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failedNotices = append(n.failedNotices, order.Number)
}

func (n *fakeNotifier) SendAdminAlert(ctx context.Context, subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert{subject: subject, body: body})
}

func (n *fakeNotifier) SendCriticalAdminAlert(ctx context.Context, subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert{critical: true, subject: subject, body: body})
}

func (n *fakeNotifier) criticalCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.alerts {
		if a.critical {
			c++
		}
	}
	return c
}
