package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// Deps are the collaborators of PurchaseService.  Events and Logger
// are optional.
type Deps struct {
	Tx           database.Transactor
	Tickets      TicketInventory
	Purchases    PurchaseStore
	Reservations ReservationLedger
	Customers    CustomerDirectory
	Gateway      payment.Gateway
	Events       EventPublisher
	Logger       *logrus.Logger
}

// Options tune the workflow.  Zero values fall back to defaults.
type Options struct {
	PaymentTimeout time.Duration         // bound on a single gateway call (default 10s)
	SettleMaxTries uint                  // settlement attempts once a charge succeeded, the first included (default 3)
	SettleBackOff  func() backoff.BackOff // delay between those attempts (default exponential)
}

func (o Options) withDefaults() Options {
	if o.PaymentTimeout <= 0 {
		o.PaymentTimeout = 10 * time.Second
	}
	if o.SettleMaxTries == 0 {
		o.SettleMaxTries = 3
	}
	if o.SettleBackOff == nil {
		o.SettleBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return o
}

// PurchaseService turns a customer, a set of tickets and a payment
// token into a paid purchase or a well defined failure.
//
// Tickets move available -> held in a first transaction together
// with the pending purchase header and its associations.  A second
// transaction records one reservation per ticket, charges the
// gateway and, only on success, marks the purchase paid and the
// tickets sold.  When the charge fails the held tickets go back to
// available, so inventory is never consumed by an unpaid purchase.
type PurchaseService struct {
	tx           database.Transactor
	tickets      TicketInventory
	purchases    PurchaseStore
	reservations ReservationLedger
	customers    CustomerDirectory
	gateway      payment.Gateway
	events       EventPublisher
	logger       *logrus.Logger
	tracer       trace.Tracer
	opts         Options
	now          func() time.Time
}

// NewPurchaseService wires a PurchaseService and panics if a
// required dependency is missing.
func NewPurchaseService(d Deps, opts Options) *PurchaseService {
	if d.Tx == nil || d.Tickets == nil || d.Purchases == nil || d.Reservations == nil || d.Customers == nil || d.Gateway == nil {
		panic("nil dependency passed to NewPurchaseService")
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PurchaseService{
		tx:           d.Tx,
		tickets:      d.Tickets,
		purchases:    d.Purchases,
		reservations: d.Reservations,
		customers:    d.Customers,
		gateway:      d.Gateway,
		events:       d.Events,
		logger:       logger,
		tracer:       otel.Tracer("github.com/iliyamo/ticket-marketplace/internal/service"),
		opts:         opts.withDefaults(),
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Purchase runs the whole purchase workflow for customerID.
func (s *PurchaseService) Purchase(ctx context.Context, customerID uint64, ticketIDs []uint64, paymentToken string) (_ *model.Purchase, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "purchase.create", trace.WithAttributes(
		attribute.Int64("customer.id", int64(customerID)),
		attribute.Int("tickets.count", len(ticketIDs)),
	))
	defer func() {
		observePurchase(err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validatePurchase(ticketIDs, paymentToken); err != nil {
		return nil, err
	}

	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrCustomerNotFound, customerID)
		}
		return nil, persistence("load customer", err)
	}

	found, err := s.tickets.FindMany(ctx, ticketIDs)
	if err != nil {
		return nil, persistence("load tickets", err)
	}
	if err := checkTickets(ticketIDs, found); err != nil {
		return nil, err
	}

	p, err := s.holdTickets(ctx, customer.ID, ticketIDs)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("purchase.id", int64(p.ID)))

	// The tickets are held from here on.  Finish even if the caller
	// goes away so they do not stay held until the sweeper runs.
	ctx = context.WithoutCancel(ctx)

	if err := s.settle(ctx, customer, p, ticketIDs, paymentToken); err != nil {
		return nil, err
	}
	s.publishPaid(ctx, p, ticketIDs)

	paid, err := s.purchases.GetByID(ctx, p.ID)
	if err != nil {
		return nil, persistence("reload purchase", err)
	}
	return paid, nil
}

func validatePurchase(ticketIDs []uint64, paymentToken string) error {
	if len(ticketIDs) == 0 {
		return fmt.Errorf("%w: ticket_ids must not be empty", ErrInvalidPurchase)
	}
	seen := make(map[uint64]struct{}, len(ticketIDs))
	for _, id := range ticketIDs {
		if id == 0 {
			return fmt.Errorf("%w: ticket ids must be positive", ErrInvalidPurchase)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate ticket id %d", ErrInvalidPurchase, id)
		}
		seen[id] = struct{}{}
	}
	if paymentToken == "" {
		return fmt.Errorf("%w: card_token is required", ErrInvalidPurchase)
	}
	return nil
}

// checkTickets compares what the store returned with what was asked
// for: missing ids first, then anything not available.
func checkTickets(requested []uint64, found []model.Ticket) error {
	byID := make(map[uint64]model.Ticket, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	if len(found) != len(requested) {
		missing := make([]uint64, 0)
		for _, id := range requested {
			if _, ok := byID[id]; !ok {
				missing = append(missing, id)
			}
		}
		return &TicketsError{Kind: ErrTicketsNotFound, IDs: missing}
	}
	unavailable := make([]uint64, 0)
	for _, id := range requested {
		if byID[id].Status != model.TicketAvailable {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		return &TicketsError{Kind: ErrTicketsUnavailable, IDs: unavailable}
	}
	return nil
}

// holdTickets is the inventory transaction: lock and re-check the
// tickets, insert the pending purchase and its associations, and
// move the tickets to held.  Nothing survives unless all of it
// commits.
func (s *PurchaseService) holdTickets(ctx context.Context, customerID uint64, ticketIDs []uint64) (*model.Purchase, error) {
	tx, err := s.tx.BeginTx(ctx)
	if err != nil {
		return nil, persistence("begin inventory transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	locked, err := s.tickets.LockManyTx(ctx, tx, ticketIDs)
	if err != nil {
		return nil, persistence("lock tickets", err)
	}
	if err := checkTickets(ticketIDs, locked); err != nil {
		return nil, err
	}

	p := model.NewPendingPurchase(customerID, model.SumPrices(locked), s.now())
	if err := s.purchases.CreateTx(ctx, tx, p); err != nil {
		return nil, persistence("create purchase", err)
	}
	if err := s.purchases.CreateTicketsBulkTx(ctx, tx, p.ID, ticketIDs); err != nil {
		return nil, persistence("associate tickets", err)
	}
	n, err := s.tickets.TransitionTx(ctx, tx, ticketIDs, model.TicketAvailable, model.TicketHeld)
	if err != nil {
		return nil, persistence("hold tickets", err)
	}
	if n != int64(len(ticketIDs)) {
		return nil, &TicketsError{Kind: ErrTicketsUnavailable, IDs: ticketIDs}
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence("commit inventory transaction", err)
	}
	committed = true
	return p, nil
}

// settle drives the purchase to a terminal state.  On success p is
// paid.  On a failed charge the purchase is closed as error or
// cancelled and its tickets are released.
func (s *PurchaseService) settle(ctx context.Context, customer *model.Customer, p *model.Purchase, ticketIDs []uint64, token string) error {
	charged, err := s.settleOnce(ctx, customer, p, ticketIDs, token, nil)
	if err == nil {
		return nil
	}
	if charged != nil {
		return s.retrySettlement(ctx, customer, p, ticketIDs, *charged, err)
	}

	status, cause := model.PurchaseError, err
	switch {
	case errors.Is(err, payment.ErrDeclined):
		cause = fmt.Errorf("%w: %w", ErrPaymentDeclined, err)
	case errors.Is(err, payment.ErrTransient) && payment.IsTimeout(err):
		status, cause = model.PurchaseCancelled, fmt.Errorf("%w: %w", ErrPaymentTimeout, err)
	case errors.Is(err, payment.ErrTransient):
		status, cause = model.PurchaseCancelled, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	s.abandon(ctx, p, ticketIDs, status, err)
	return cause
}

// settleOnce runs the settlement transaction.  When prior is set the
// charge already succeeded and is only recorded.  The returned
// result is non-nil whenever money has moved, even if err is set.
func (s *PurchaseService) settleOnce(ctx context.Context, customer *model.Customer, p *model.Purchase, ticketIDs []uint64, token string, prior *payment.ChargeResult) (*payment.ChargeResult, error) {
	tx, err := s.tx.BeginTx(ctx)
	if err != nil {
		return prior, persistence("begin settlement transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	current, err := s.purchases.LockTx(ctx, tx, p.ID)
	if err != nil {
		return prior, persistence("lock purchase", err)
	}
	if prior != nil && current.Status == model.PurchasePaid && current.PaymentRef != nil && *current.PaymentRef == prior.PaymentRef {
		// completed by the hold sweeper while we were backing off
		p.Status, p.PaymentRef = current.Status, current.PaymentRef
		return prior, nil
	}
	if current.Status != model.PurchasePending {
		return prior, backoff.Permanent(fmt.Errorf("%w: purchase %d is %s", ErrPersistence, p.ID, current.Status))
	}

	for _, ticketID := range ticketIDs {
		if _, err := s.reservations.ReserveTx(ctx, tx, p.CustomerID, ticketID, model.ReservationReserved); err != nil {
			return prior, persistence("reserve ticket", err)
		}
	}

	result := prior
	if result == nil {
		res, err := s.charge(ctx, customer, p, token)
		if err != nil {
			return nil, err
		}
		result = &res
	}

	ref := result.PaymentRef
	if err := s.markPaidTx(ctx, tx, p.ID, ticketIDs, &ref); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, persistence("commit settlement transaction", err)
	}
	committed = true
	p.Status = model.PurchasePaid
	p.PaymentRef = &ref
	return result, nil
}

// markPaidTx moves a pending purchase to paid and its held tickets to
// sold.  A nil ref keeps the reference already stored.
func (s *PurchaseService) markPaidTx(ctx context.Context, tx database.Tx, purchaseID uint64, ticketIDs []uint64, ref *string) error {
	if err := s.purchases.UpdateStatusTx(ctx, tx, purchaseID, model.PurchasePending, model.PurchasePaid, ref); err != nil {
		return persistence("mark purchase paid", err)
	}
	n, err := s.tickets.TransitionTx(ctx, tx, ticketIDs, model.TicketHeld, model.TicketSold)
	if err != nil {
		return persistence("mark tickets sold", err)
	}
	if n != int64(len(ticketIDs)) {
		return fmt.Errorf("%w: %d of %d held tickets marked sold", ErrPersistence, n, len(ticketIDs))
	}
	return nil
}

func (s *PurchaseService) charge(ctx context.Context, customer *model.Customer, p *model.Purchase, token string) (payment.ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "payment.charge")
	defer span.End()

	started := time.Now()
	res, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		Contact: payment.BillingContact{
			Name:    customer.User.Name,
			Email:   customer.User.Email,
			Address: customer.Address,
			Phone:   customer.Phone,
		},
		Amount:         p.TotalAmount,
		Token:          token,
		IdempotencyKey: payment.IdempotencyKey(p.ID),
		Reference:      fmt.Sprintf("purchase-%d", p.ID),
	})
	if err != nil && !errors.Is(err, payment.ErrDeclined) && !errors.Is(err, payment.ErrTransient) {
		err = fmt.Errorf("%w: %w", payment.ErrTransient, err)
	}
	observeCharge(err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// retrySettlement records a charge that succeeded while its
// settlement transaction did not commit.  The payment reference is
// saved on the pending purchase first, so if every attempt fails the
// hold sweeper completes the purchase instead of releasing tickets
// that were paid for.  The gateway is not called again.
func (s *PurchaseService) retrySettlement(ctx context.Context, customer *model.Customer, p *model.Purchase, ticketIDs []uint64, charged payment.ChargeResult, first error) error {
	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"purchase_id": p.ID,
		"payment_ref": charged.PaymentRef,
	})
	log.WithError(first).Warn("settlement failed after a successful charge, retrying")

	recorded := s.recordCharge(ctx, p.ID, charged.PaymentRef) == nil

	err := first
	if tries := s.opts.SettleMaxTries - 1; tries > 0 {
		attempt := func() (struct{}, error) {
			_, err := s.settleOnce(ctx, customer, p, ticketIDs, "", &charged)
			return struct{}{}, err
		}
		_, err = backoff.Retry(ctx, attempt,
			backoff.WithBackOff(s.opts.SettleBackOff()),
			backoff.WithMaxTries(tries),
		)
		if err == nil {
			return nil
		}
	}

	if !recorded {
		recorded = s.recordCharge(ctx, p.ID, charged.PaymentRef) == nil
	}
	settlementsLost.Inc()
	log = log.WithError(err).WithField("idempotency_key", payment.IdempotencyKey(p.ID))
	if recorded {
		log.Warn("charge recorded on the pending purchase, the hold sweeper will complete it")
	} else {
		log.Error("charge succeeded but could not be recorded on the purchase")
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return persistence("record settlement", err)
}

// recordCharge saves the payment reference in its own transaction.
func (s *PurchaseService) recordCharge(ctx context.Context, purchaseID uint64, ref string) error {
	err := func() error {
		tx, err := s.tx.BeginTx(ctx)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		if err := s.purchases.RecordChargeTx(ctx, tx, purchaseID, ref); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	}()
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("purchase_id", purchaseID).Warn("record charge failed")
	}
	return err
}

// abandon closes a purchase whose charge failed and gives its
// tickets back.  If this fails too the purchase stays pending with
// held tickets and the hold sweeper picks it up.
func (s *PurchaseService) abandon(ctx context.Context, p *model.Purchase, ticketIDs []uint64, status model.PurchaseStatus, cause error) {
	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"purchase_id": p.ID,
		"status":      status,
	})
	log.WithError(cause).Info("purchase not settled, releasing tickets")

	err := func() error {
		tx, err := s.tx.BeginTx(ctx)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		if err := s.releaseTx(ctx, tx, p.ID, ticketIDs, status); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	}()
	if err != nil {
		log.WithError(err).Error("release failed, leaving purchase for the hold sweeper")
		return
	}
	p.Status = status
}

// releaseTx closes a pending purchase with status and returns its
// held tickets to available.
func (s *PurchaseService) releaseTx(ctx context.Context, tx database.Tx, purchaseID uint64, ticketIDs []uint64, status model.PurchaseStatus) error {
	if err := s.purchases.UpdateStatusTx(ctx, tx, purchaseID, model.PurchasePending, status, nil); err != nil {
		return err
	}
	_, err := s.tickets.TransitionTx(ctx, tx, ticketIDs, model.TicketHeld, model.TicketAvailable)
	return err
}

func (s *PurchaseService) publishPaid(ctx context.Context, p *model.Purchase, ticketIDs []uint64) {
	if s.events == nil {
		return
	}
	ref := ""
	if p.PaymentRef != nil {
		ref = *p.PaymentRef
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.events.PublishPurchasePaid(ctx, queueEvent(p, ticketIDs, ref, s.now()))
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("purchase_id", p.ID).Warn("publish purchase.paid failed")
	}
}
