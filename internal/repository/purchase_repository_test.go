package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

var purchaseCols = []string{"id", "purchase_date", "total_amount", "status", "customer_id", "payment_ref"}

func TestPurchaseRepo_CreateTxAndAssociations(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchases (purchase_date, total_amount, status, customer_id) VALUES (?, ?, ?, ?)")).
		WithArgs(at, sqlmock.AnyArg(), "pending", uint64(9)).
		WillReturnResult(sqlmock.NewResult(15, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchase_tickets (purchase_id, ticket_id) VALUES (?, ?), (?, ?)")).
		WithArgs(uint64(15), uint64(1), uint64(15), uint64(2)).
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	repo := NewPurchaseRepo(db)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	p := model.NewPendingPurchase(9, decimal.RequireFromString("80"), at)
	require.NoError(t, repo.CreateTx(ctx, tx, p))
	assert.Equal(t, uint64(15), p.ID)
	require.NoError(t, repo.CreateTicketsBulkTx(ctx, tx, p.ID, []uint64{1, 2}))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_UpdateStatusTx(t *testing.T) {
	ctx := context.Background()

	t.Run("records payment reference", func(t *testing.T) {
		db, mock := newMock(t)
		ref := "pay_123"
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE purchases SET status = ?, payment_ref = COALESCE(?, payment_ref) WHERE id = ? AND status = ?")).
			WithArgs("paid", "pay_123", uint64(3), "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, NewPurchaseRepo(db).UpdateStatusTx(ctx, tx, 3, model.PurchasePending, model.PurchasePaid, &ref))
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when status already moved", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE purchases").
			WithArgs("error", nil, uint64(3), "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		err = NewPurchaseRepo(db).UpdateStatusTx(ctx, tx, 3, model.PurchasePending, model.PurchaseError, nil)
		assert.ErrorIs(t, err, ErrConflict)
		require.NoError(t, tx.Rollback())
	})
}

func TestPurchaseRepo_GetByID(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchases WHERE id = ?")).
		WithArgs(uint64(15)).
		WillReturnRows(sqlmock.NewRows(purchaseCols).AddRow(15, at, "80.00", "paid", 9, "pay_1"))

	p, err := NewPurchaseRepo(db).GetByID(context.Background(), 15)
	require.NoError(t, err)
	assert.Equal(t, model.PurchasePaid, p.Status)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(80)))
	require.NotNil(t, p.PaymentRef)
	assert.Equal(t, "pay_1", *p.PaymentRef)
}

func TestPurchaseRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM purchases").WillReturnRows(sqlmock.NewRows(purchaseCols))

	_, err := NewPurchaseRepo(db).GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestPurchaseRepo_LockTx_PropagatesDriverError(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM purchases WHERE id = ? FOR UPDATE")).
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = NewPurchaseRepo(db).LockTx(ctx, tx, 1)
	assert.EqualError(t, err, "lock wait timeout")
	require.NoError(t, tx.Rollback())
}

func TestPurchaseRepo_RecordChargeTx(t *testing.T) {
	ctx := context.Background()
	q := regexp.QuoteMeta("UPDATE purchases SET payment_ref = ? WHERE id = ? AND status = ? AND payment_ref IS NULL")

	t.Run("stores reference on pending purchase", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q).WithArgs("pay_9", uint64(4), "pending").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, NewPurchaseRepo(db).RecordChargeTx(ctx, tx, 4, "pay_9"))
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when already settled", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q).WithArgs("pay_9", uint64(4), "pending").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, NewPurchaseRepo(db).RecordChargeTx(ctx, tx, 4, "pay_9"), ErrConflict)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPurchaseRepo_ExpiredPendingTx_SkipsLockedRows(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("pending", cutoff, 50).
		WillReturnRows(sqlmock.NewRows(purchaseCols).AddRow(4, cutoff.Add(-time.Hour), "10.00", "pending", 2, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT ticket_id FROM purchase_tickets WHERE purchase_id = ?")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"ticket_id"}).AddRow(11).AddRow(12))
	mock.ExpectCommit()

	repo := NewPurchaseRepo(db)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	got, err := repo.ExpiredPendingTx(ctx, tx, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].PaymentRef)

	ids, err := repo.TicketIDsTx(ctx, tx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 12}, ids)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRepo_ListByCustomer(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM purchases WHERE customer_id = ? ORDER BY purchase_date DESC, id DESC")).
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(purchaseCols).
			AddRow(2, at, "30.00", "error", 9, nil).
			AddRow(1, at, "80.00", "paid", 9, "pay_1"))

	got, err := NewPurchaseRepo(db).ListByCustomer(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.PurchaseError, got[0].Status)
}
