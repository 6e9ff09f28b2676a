package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// memStore is a serialisable in-memory database.  A transaction
// holds the store lock from BeginTx until Commit or Rollback, and
// Rollback restores the snapshot taken at BeginTx.
type memStore struct {
	mu       sync.Mutex
	state    memState
	snapshot memState
	open     atomic.Int32
	failures map[string]int
	failErr  error
}

type memState struct {
	tickets      map[uint64]model.Ticket
	purchases    map[uint64]model.Purchase
	associations map[uint64][]uint64
	reservations []model.Reservation
	customers    map[uint64]model.Customer
	nextID       uint64
}

func (s memState) clone() memState {
	c := memState{
		tickets:      make(map[uint64]model.Ticket, len(s.tickets)),
		purchases:    make(map[uint64]model.Purchase, len(s.purchases)),
		associations: make(map[uint64][]uint64, len(s.associations)),
		reservations: append([]model.Reservation(nil), s.reservations...),
		customers:    s.customers,
		nextID:       s.nextID,
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.associations {
		c.associations[k] = append([]uint64(nil), v...)
	}
	return c
}

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			tickets:      map[uint64]model.Ticket{},
			purchases:    map[uint64]model.Purchase{},
			associations: map[uint64][]uint64{},
			customers:    map[uint64]model.Customer{},
			nextID:       1000,
		},
		failures: map[string]int{},
		failErr:  errInjected,
	}
}

// failOn makes the next times calls of op fail; times < 0 fails forever.
func (s *memStore) failOn(op string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = times
}

// fail must be called with the store lock held.
func (s *memStore) fail(op string) error {
	n, ok := s.failures[op]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		s.failures[op] = n - 1
	}
	return s.failErr
}

func (s *memStore) openTxs() int { return int(s.open.Load()) }

func (s *memStore) addCustomer(c model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.customers[c.ID] = c
}

func (s *memStore) addTicket(t model.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tickets[t.ID] = t
}

func (s *memStore) addPurchase(p model.Purchase, ticketIDs []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.purchases[p.ID] = p
	s.state.associations[p.ID] = ticketIDs
}

func (s *memStore) ticket(id uint64) model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.tickets[id]
}

func (s *memStore) purchasesOf(customerID uint64) []model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Purchase, 0)
	for _, p := range s.state.purchases {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) allPurchases() []model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Purchase, 0, len(s.state.purchases))
	for _, p := range s.state.purchases {
		out = append(out, p)
	}
	return out
}

func (s *memStore) associationsOf(purchaseID uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.state.associations[purchaseID]...)
}

func (s *memStore) reservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.reservations)
}

// memTx is the transaction handle.  Raw SQL is not supported.
type memTx struct {
	s    *memStore
	done bool
}

var errRawSQL = errors.New("memTx: raw SQL is not supported")

func (t *memTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errRawSQL
}

func (t *memTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errRawSQL
}

func (t *memTx) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

func (t *memTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	if err := t.s.fail("Commit"); err != nil {
		return t.finish(true, err)
	}
	return t.finish(false, nil)
}

func (t *memTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	return t.finish(true, nil)
}

func (t *memTx) finish(rollback bool, err error) error {
	if rollback {
		t.s.state = t.s.snapshot
	}
	t.done = true
	t.s.open.Add(-1)
	t.s.mu.Unlock()
	return err
}

// BeginTx implements database.Transactor.
func (s *memStore) BeginTx(ctx context.Context) (database.Tx, error) {
	s.mu.Lock()
	if err := s.fail("BeginTx"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.snapshot = s.state.clone()
	s.open.Add(1)
	return &memTx{s: s}, nil
}

func (s *memStore) own(tx database.Tx) {
	mt, ok := tx.(*memTx)
	if !ok || mt.s != s || mt.done {
		panic("memStore: foreign or finished transaction")
	}
}

// --- TicketInventory ---

func (s *memStore) FindMany(ctx context.Context, ids []uint64) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindMany"); err != nil {
		return nil, err
	}
	return s.ticketsLocked(ids), nil
}

func (s *memStore) ticketsLocked(ids []uint64) []model.Ticket {
	out := make([]model.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.state.tickets[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) LockManyTx(ctx context.Context, tx database.Tx, ids []uint64) ([]model.Ticket, error) {
	s.own(tx)
	if err := s.fail("LockManyTx"); err != nil {
		return nil, err
	}
	return s.ticketsLocked(ids), nil
}

func (s *memStore) TransitionTx(ctx context.Context, tx database.Tx, ids []uint64, from, to model.TicketStatus) (int64, error) {
	s.own(tx)
	if err := s.fail("TransitionTx:" + string(from) + "->" + string(to)); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		t, ok := s.state.tickets[id]
		if ok && t.Status == from {
			t.Status = to
			s.state.tickets[id] = t
			n++
		}
	}
	return n, nil
}

// --- PurchaseStore ---

func (s *memStore) CreateTx(ctx context.Context, tx database.Tx, p *model.Purchase) error {
	s.own(tx)
	if err := s.fail("CreateTx"); err != nil {
		return err
	}
	s.state.nextID++
	p.ID = s.state.nextID
	s.state.purchases[p.ID] = *p
	return nil
}

func (s *memStore) CreateTicketsBulkTx(ctx context.Context, tx database.Tx, purchaseID uint64, ticketIDs []uint64) error {
	s.own(tx)
	if err := s.fail("CreateTicketsBulkTx"); err != nil {
		return err
	}
	s.state.associations[purchaseID] = append(s.state.associations[purchaseID], ticketIDs...)
	return nil
}

func (s *memStore) TicketIDsTx(ctx context.Context, tx database.Tx, purchaseID uint64) ([]uint64, error) {
	s.own(tx)
	return append([]uint64(nil), s.state.associations[purchaseID]...), nil
}

func (s *memStore) LockTx(ctx context.Context, tx database.Tx, id uint64) (*model.Purchase, error) {
	s.own(tx)
	p, ok := s.state.purchases[id]
	if !ok {
		return nil, repository.ErrPurchaseNotFound
	}
	return &p, nil
}

func (s *memStore) UpdateStatusTx(ctx context.Context, tx database.Tx, id uint64, from, to model.PurchaseStatus, paymentRef *string) error {
	s.own(tx)
	if err := s.fail("UpdateStatusTx:" + string(from) + "->" + string(to)); err != nil {
		return err
	}
	p, ok := s.state.purchases[id]
	if !ok || p.Status != from {
		return repository.ErrConflict
	}
	p.Status = to
	if paymentRef != nil {
		ref := *paymentRef
		p.PaymentRef = &ref
	}
	s.state.purchases[id] = p
	return nil
}

func (s *memStore) RecordChargeTx(ctx context.Context, tx database.Tx, id uint64, paymentRef string) error {
	s.own(tx)
	if err := s.fail("RecordChargeTx"); err != nil {
		return err
	}
	p, ok := s.state.purchases[id]
	if !ok || p.Status != model.PurchasePending || p.PaymentRef != nil {
		return repository.ErrConflict
	}
	p.PaymentRef = &paymentRef
	s.state.purchases[id] = p
	return nil
}

func (s *memStore) ExpiredPendingTx(ctx context.Context, tx database.Tx, before time.Time, limit int) ([]model.Purchase, error) {
	s.own(tx)
	out := make([]model.Purchase, 0)
	for _, p := range s.state.purchases {
		if p.Status == model.PurchasePending && p.PurchaseDate.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetByID(ctx context.Context, id uint64) (*model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.purchases[id]
	if !ok {
		return nil, repository.ErrPurchaseNotFound
	}
	return &p, nil
}

func (s *memStore) ListByCustomer(ctx context.Context, customerID uint64) ([]model.Purchase, error) {
	return s.purchasesOf(customerID), nil
}

// --- ReservationLedger (wrapped to avoid the ListByCustomer clash) ---

type memLedger struct{ s *memStore }

func (l memLedger) ReserveTx(ctx context.Context, tx database.Tx, customerID, ticketID uint64, status model.ReservationStatus) (*model.Reservation, error) {
	l.s.own(tx)
	if err := l.s.fail("ReserveTx"); err != nil {
		return nil, err
	}
	l.s.state.nextID++
	r := model.Reservation{
		ID:              l.s.state.nextID,
		CustomerID:      customerID,
		TicketID:        ticketID,
		ReservationDate: time.Now().UTC(),
		Status:          status,
	}
	l.s.state.reservations = append(l.s.state.reservations, r)
	return &r, nil
}

func (l memLedger) ListByCustomer(ctx context.Context, customerID uint64) ([]model.Reservation, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range l.s.state.reservations {
		if r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- CustomerDirectory ---

func (s *memStore) FindByID(ctx context.Context, id uint64) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.customers[id]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	return &c, nil
}
