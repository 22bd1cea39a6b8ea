package order

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/dex-router/order-engine/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db := database.WrapDB(conn, nil)
	return NewPostgresStore(db), mock
}

func TestCreateInsertsOrderAndHistoryInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_status_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	o, err := store.Create(context.Background(), NewFields{
		TokenIn:  "SOL",
		TokenOut: "USDC",
		Amount:   decimal.NewFromInt(10),
		Slippage: decimal.NewFromFloat(0.005),
	})

	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnHistoryInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_status_history").WillReturnError(assertError{"disk full"})
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), NewFields{
		TokenIn:  "SOL",
		TokenOut: "USDC",
		Amount:   decimal.NewFromInt(10),
		Slippage: decimal.Zero,
	})

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDTranslatesNoRowsToErrNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.|\n)*FROM orders WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusToConfirmedUpdatesOrderAndHistoryInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_status_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	price := decimal.NewFromFloat(23.5)
	txID := "jup-123"
	out := decimal.NewFromInt(235)
	err := store.UpdateStatus(context.Background(), "order-1", StatusConfirmed, Patch{
		TxID:      &txID,
		ExecPrice: &price,
		OutAmount: &out,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
