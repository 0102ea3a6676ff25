// Package admin implements the back-office order operations: terminal
// status changes and manual re-runs of fulfillment steps.
package admin

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// ErrTerminalStatus rejects operations on orders already in a terminal
// status.
var ErrTerminalStatus = errors.New("order is in a terminal status")

// Refunder refunds the payment behind a card order's session.
type Refunder interface {
	Refund(ctx context.Context, sessionKey string) error
}

// SagaSteps is the subset of fulfillment steps admins can re-run or undo.
// Satisfied by *saga.Saga.
type SagaSteps interface {
	ProvisionShipment(ctx context.Context, o *order.Order) error
	IssueInvoice(ctx context.Context, o *order.Order) error
	CancelShipment(ctx context.Context, o *order.Order) error
}

// Service wires admin actions to the order store, the saga steps, and the
// payment provider.
type Service struct {
	orders   order.Repository
	saga     SagaSteps
	payments Refunder
}

// NewService creates an admin Service.
func NewService(orders order.Repository, steps SagaSteps, payments Refunder) *Service {
	return &Service{orders: orders, saga: steps, payments: payments}
}

// Fulfill marks an order as fulfilled.
func (s *Service) Fulfill(ctx context.Context, id string) (*order.Order, error) {
	return s.setTerminal(ctx, id, order.StatusFulfilled, false)
}

// Cancel cancels an order: the carrier shipment is cancelled best-effort,
// the status moves to cancelled, and line items return to stock.
func (s *Service) Cancel(ctx context.Context, id string) (*order.Order, error) {
	return s.setTerminal(ctx, id, order.StatusCancelled, true)
}

// Refund refunds a card payment with the provider and marks the order
// refunded; line items return to stock. Cash-on-delivery orders have no
// provider payment, so only the status and stock change.
func (s *Service) Refund(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrTerminalStatus
	}

	if o.PaymentMethod == order.MethodCard && o.SessionKey != "" {
		if err := s.payments.Refund(ctx, o.SessionKey); err != nil {
			return nil, errors.Wrap(err, "refund payment")
		}
	}
	return s.finishTerminal(ctx, o, order.StatusRefunded, true)
}

// RetryShipment re-runs the shipment provisioning step for an order whose
// first attempt failed. The step keeps its own failure boundary.
func (s *Service) RetryShipment(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrTerminalStatus
	}
	if err := s.saga.ProvisionShipment(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// RetryInvoice re-runs the invoice step. Orders that already carry an
// invoice are returned unchanged.
func (s *Service) RetryInvoice(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrTerminalStatus
	}
	if err := s.saga.IssueInvoice(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder loads an order for admin inspection.
func (s *Service) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) setTerminal(ctx context.Context, id string, status order.Status, restock bool) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrTerminalStatus
	}
	if status == order.StatusCancelled {
		// The shipment may already be with the carrier; cancellation there
		// is best-effort and never blocks the status change.
		if err := s.saga.CancelShipment(ctx, o); err != nil {
			zctx.From(ctx).Warn("carrier cancel failed",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return s.finishTerminal(ctx, o, status, restock)
}

func (s *Service) finishTerminal(ctx context.Context, o *order.Order, status order.Status, restock bool) (*order.Order, error) {
	if err := s.orders.SetStatus(ctx, o.ID, o.Version, status); err != nil {
		return nil, err
	}
	o.Status = status
	o.Version++

	// Stock only moves back when it was reserved in the first place.
	if restock && o.PaymentStatus == order.PaymentCompleted {
		if err := s.orders.Restock(ctx, o.ID); err != nil {
			return nil, errors.Wrap(err, "restock")
		}
	}
	return o, nil
}
