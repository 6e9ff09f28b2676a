package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

func TestReservationRepo_ReserveTx(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)

	repo := NewReservationRepo(db)
	repo.now = func() time.Time { return at }

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation_tickets (customer_id, ticket_id, reservation_date, status) VALUES (?, ?, ?, ?)")).
		WithArgs(uint64(9), uint64(1), at, "reserved").
		WillReturnResult(sqlmock.NewResult(70, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	res, err := repo.ReserveTx(ctx, tx, 9, 1, model.ReservationReserved)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, &model.Reservation{ID: 70, CustomerID: 9, TicketID: 1, ReservationDate: at, Status: model.ReservationReserved}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepo_ListByCustomer(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectQuery("FROM reservation_tickets WHERE customer_id = ?").
		WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "ticket_id", "reservation_date", "status"}).
			AddRow(2, 9, 2, at, "reserved").
			AddRow(1, 9, 1, at, "reserved"))

	got, err := NewReservationRepo(db).ListByCustomer(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].TicketID)
}
