package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/model"
)

const sweepBatch = 100

type chargedHold struct {
	purchase  model.Purchase
	ticketIDs []uint64
}

// ReleaseExpiredHolds resolves pending purchases older than olderThan.
// A purchase whose charge was recorded is completed as paid; any other
// is cancelled and its held tickets return to available.  Purchases
// whose settlement is still running hold a row lock and are skipped.
// It returns how many purchases were resolved.
func (s *PurchaseService) ReleaseExpiredHolds(ctx context.Context, olderThan time.Duration) (int, error) {
	tx, err := s.tx.BeginTx(ctx)
	if err != nil {
		return 0, persistence("begin sweep transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stale, err := s.purchases.ExpiredPendingTx(ctx, tx, s.now().Add(-olderThan), sweepBatch)
	if err != nil {
		return 0, persistence("find expired holds", err)
	}
	var charged []chargedHold
	cancelled := 0
	for _, p := range stale {
		ids, err := s.purchases.TicketIDsTx(ctx, tx, p.ID)
		if err != nil {
			return 0, persistence("load purchase tickets", err)
		}
		if p.PaymentRef != nil {
			if err := s.completeTx(ctx, tx, &p, ids); err != nil {
				return 0, err
			}
			charged = append(charged, chargedHold{purchase: p, ticketIDs: ids})
			continue
		}
		if err := s.releaseTx(ctx, tx, p.ID, ids, model.PurchaseCancelled); err != nil {
			return 0, persistence("release expired hold", err)
		}
		cancelled++
	}

	if err := tx.Commit(); err != nil {
		return 0, persistence("commit sweep transaction", err)
	}
	committed = true

	log := s.logger.WithContext(ctx)
	if cancelled > 0 {
		holdsReleased.Add(float64(cancelled))
		log.WithField("count", cancelled).Info("released expired ticket holds")
	}
	for _, h := range charged {
		settlementsRecovered.Inc()
		log.WithFields(logrus.Fields{
			"purchase_id": h.purchase.ID,
			"payment_ref": *h.purchase.PaymentRef,
		}).Info("completed charged purchase left pending")
		s.publishPaid(ctx, &h.purchase, h.ticketIDs)
	}
	return len(stale), nil
}

// completeTx settles a pending purchase whose charge is already
// recorded: one reservation per ticket, then paid and sold.
func (s *PurchaseService) completeTx(ctx context.Context, tx database.Tx, p *model.Purchase, ticketIDs []uint64) error {
	for _, ticketID := range ticketIDs {
		if _, err := s.reservations.ReserveTx(ctx, tx, p.CustomerID, ticketID, model.ReservationReserved); err != nil {
			return persistence("reserve ticket", err)
		}
	}
	if err := s.markPaidTx(ctx, tx, p.ID, ticketIDs, nil); err != nil {
		return err
	}
	p.Status = model.PurchasePaid
	return nil
}

// RunHoldSweeper calls ReleaseExpiredHolds every interval until ctx
// is cancelled.
func (s *PurchaseService) RunHoldSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := s.logger.WithFields(logrus.Fields{"interval": interval.String(), "ttl": ttl.String()})
	log.Info("hold sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info("hold sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ReleaseExpiredHolds(ctx, ttl); err != nil {
				log.WithError(err).Error("hold sweep failed")
			}
		}
	}
}
