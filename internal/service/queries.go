package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// GetPurchase returns a purchase by id.
func (s *PurchaseService) GetPurchase(ctx context.Context, id uint64) (*model.Purchase, error) {
	p, err := s.purchases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPurchaseNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrPurchaseNotFound, id)
		}
		return nil, persistence("load purchase", err)
	}
	return p, nil
}

// GetCustomerPurchase returns a purchase only if it belongs to
// customerID.  Someone else's purchase is reported as not found.
func (s *PurchaseService) GetCustomerPurchase(ctx context.Context, customerID, id uint64) (*model.Purchase, error) {
	p, err := s.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CustomerID != customerID {
		return nil, fmt.Errorf("%w: id %d", ErrPurchaseNotFound, id)
	}
	return p, nil
}

// ListPurchases returns the purchases of a customer.
func (s *PurchaseService) ListPurchases(ctx context.Context, customerID uint64) ([]model.Purchase, error) {
	items, err := s.purchases.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, persistence("list purchases", err)
	}
	return items, nil
}

// ListReservations returns the reservation history of a customer.
func (s *PurchaseService) ListReservations(ctx context.Context, customerID uint64) ([]model.Reservation, error) {
	items, err := s.reservations.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, persistence("list reservations", err)
	}
	return items, nil
}

func queueEvent(p *model.Purchase, ticketIDs []uint64, paymentRef string, at time.Time) queue.PurchasePaidEvent {
	ids := make([]uint64, len(ticketIDs))
	copy(ids, ticketIDs)
	return queue.PurchasePaidEvent{
		PurchaseID:  p.ID,
		CustomerID:  p.CustomerID,
		TicketIDs:   ids,
		TotalAmount: p.TotalAmount.StringFixed(2),
		PaymentRef:  paymentRef,
		PaidAt:      at.Format(time.RFC3339),
	}
}
