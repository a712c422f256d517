// Package service реализует операции административного API поверх движка проверки и хранилища.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/marketplace-payments/internal/model"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
	"github.com/mmeshcher/marketplace-payments/internal/verification"
)

// Repository описывает операции чтения, используемые сервисом.
type Repository interface {
	OrderByNumber(ctx context.Context, number string) (*model.Order, error)
	CheckoutByOrder(ctx context.Context, orderID int64) (*model.CheckoutSession, error)
	TicketsByOrder(ctx context.Context, orderID int64) ([]model.Ticket, error)
}

// Verifier запускает проверку оплаты и поиск зависших заказов.
type Verifier interface {
	RunCycle(ctx context.Context) (verification.CycleResult, error)
	StuckOrders(ctx context.Context) ([]model.Order, error)
}

// OrderDetails описывает заказ вместе с платёжной сессией и выданными билетами.
type OrderDetails struct {
	Order    model.Order
	Checkout *model.CheckoutSession
	Tickets  []model.Ticket
}

// Service содержит логику административных операций.
type Service struct {
	repo     Repository
	verifier Verifier
}

// NewService создаёт сервис с указанным хранилищем и движком проверки.
func NewService(repo Repository, verifier Verifier) *Service {
	return &Service{repo: repo, verifier: verifier}
}

// RunVerification выполняет внеочередной цикл проверки.
func (s *Service) RunVerification(ctx context.Context) (verification.CycleResult, error) {
	return s.verifier.RunCycle(ctx)
}

// StuckOrders возвращает зависшие заказы.
func (s *Service) StuckOrders(ctx context.Context) ([]model.Order, error) {
	return s.verifier.StuckOrders(ctx)
}

// OrderDetails возвращает заказ по номеру. Отсутствие платёжной сессии не является ошибкой.
func (s *Service) OrderDetails(ctx context.Context, number string) (*OrderDetails, error) {
	order, err := s.repo.OrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	d := &OrderDetails{Order: *order}

	checkout, err := s.repo.CheckoutByOrder(ctx, order.ID)
	switch {
	case err == nil:
		d.Checkout = checkout
	case !errors.Is(err, repository.ErrCheckoutNotFound):
		return nil, fmt.Errorf("load checkout for order %s: %w", number, err)
	}

	if d.Tickets, err = s.repo.TicketsByOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("load tickets for order %s: %w", number, err)
	}

	return d, nil
}
