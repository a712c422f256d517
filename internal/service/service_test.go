package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-payments/internal/model"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
	"github.com/mmeshcher/marketplace-payments/internal/verification"
)

type stubRepo struct {
	order       *model.Order
	orderErr    error
	checkout    *model.CheckoutSession
	checkoutErr error
	tickets     []model.Ticket
	ticketsErr  error
}

func (s *stubRepo) OrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubRepo) CheckoutByOrder(ctx context.Context, orderID int64) (*model.CheckoutSession, error) {
	return s.checkout, s.checkoutErr
}

func (s *stubRepo) TicketsByOrder(ctx context.Context, orderID int64) ([]model.Ticket, error) {
	return s.tickets, s.ticketsErr
}

type stubVerifier struct {
	result verification.CycleResult
	err    error
	stuck  []model.Order
	calls  int
}

func (v *stubVerifier) RunCycle(ctx context.Context) (verification.CycleResult, error) {
	v.calls++
	return v.result, v.err
}

func (v *stubVerifier) StuckOrders(ctx context.Context) ([]model.Order, error) {
	return v.stuck, v.err
}

func TestOrderDetails_CollectsCheckoutAndTickets(t *testing.T) {
	repo := &stubRepo{
		order:    &model.Order{ID: 7, Number: "ORD-ABCDEF12", Total: decimal.RequireFromString("20.00")},
		checkout: &model.CheckoutSession{CheckoutID: "chk_7", Status: model.CheckoutStatusPaid},
		tickets:  []model.Ticket{{Serial: "a"}, {Serial: "b"}},
	}
	s := NewService(repo, &stubVerifier{})

	d, err := s.OrderDetails(context.Background(), "ORD-ABCDEF12")
	if err != nil {
		t.Fatalf("OrderDetails returned error: %v", err)
	}
	if d.Checkout == nil || d.Checkout.CheckoutID != "chk_7" {
		t.Fatalf("checkout = %+v", d.Checkout)
	}
	if len(d.Tickets) != 2 {
		t.Fatalf("tickets = %d, want 2", len(d.Tickets))
	}
}

func TestOrderDetails_MissingCheckoutIsNotAnError(t *testing.T) {
	repo := &stubRepo{
		order:       &model.Order{ID: 7, Number: "ORD-ABCDEF12"},
		checkoutErr: repository.ErrCheckoutNotFound,
	}
	s := NewService(repo, &stubVerifier{})

	d, err := s.OrderDetails(context.Background(), "ORD-ABCDEF12")
	if err != nil {
		t.Fatalf("OrderDetails returned error: %v", err)
	}
	if d.Checkout != nil {
		t.Fatalf("checkout = %+v, want nil", d.Checkout)
	}
}

func TestOrderDetails_PropagatesNotFound(t *testing.T) {
	s := NewService(&stubRepo{orderErr: repository.ErrOrderNotFound}, &stubVerifier{})

	_, err := s.OrderDetails(context.Background(), "ORD-ABCDEF12")
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestOrderDetails_WrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewService(&stubRepo{order: &model.Order{ID: 1}, checkoutErr: boom}, &stubVerifier{})

	_, err := s.OrderDetails(context.Background(), "ORD-ABCDEF12")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestRunVerification_DelegatesToVerifier(t *testing.T) {
	v := &stubVerifier{result: verification.CycleResult{Verified: 2, Errors: 1}}
	s := NewService(&stubRepo{}, v)

	res, err := s.RunVerification(context.Background())
	if err != nil {
		t.Fatalf("RunVerification returned error: %v", err)
	}
	if v.calls != 1 {
		t.Fatalf("RunCycle calls = %d, want 1", v.calls)
	}
	if res.Verified != 2 || res.Errors != 1 {
		t.Fatalf("result = %+v", res)
	}
}
