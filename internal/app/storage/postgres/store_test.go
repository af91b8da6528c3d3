package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/storage"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func accountRow(balance int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "owner", "balance_tmn", "kyc_level", "kyc_status", "metadata", "created_at", "updated_at"}).
		AddRow("acct-1", "alice", balance, 2, "approved", []byte(`{"tier":"retail"}`), now, now)
}

func TestAdjustBalanceGuardedUpdate(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("UPDATE exchange_accounts").
		WithArgs("acct-1", int64(-100), sqlmock.AnyArg()).
		WillReturnRows(accountRow(900))

	acct, err := store.AdjustBalance(context.Background(), "acct-1", -100)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if acct.BalanceTMN != 900 {
		t.Fatalf("unexpected balance: %d", acct.BalanceTMN)
	}
	if acct.Metadata["tier"] != "retail" {
		t.Fatalf("metadata not decoded: %+v", acct.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdjustBalanceInsufficient(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("UPDATE exchange_accounts").
		WithArgs("acct-1", int64(-1000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "balance_tmn", "kyc_level", "kyc_status", "metadata", "created_at", "updated_at"}))
	mock.ExpectQuery("SELECT (.+) FROM exchange_accounts").
		WithArgs("acct-1").
		WillReturnRows(accountRow(500))

	if _, err := store.AdjustBalance(context.Background(), "acct-1", -1000); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdjustBalanceMissingAccount(t *testing.T) {
	store, mock := newMock(t)

	empty := []string{"id", "owner", "balance_tmn", "kyc_level", "kyc_status", "metadata", "created_at", "updated_at"}
	mock.ExpectQuery("UPDATE exchange_accounts").
		WithArgs("no-such", int64(-10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(empty))
	mock.ExpectQuery("SELECT (.+) FROM exchange_accounts").
		WithArgs("no-such").
		WillReturnRows(sqlmock.NewRows(empty))

	if _, err := store.AdjustBalance(context.Background(), "no-such", -10); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveBalanceCommitsDebitAndHoldTogether(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE exchange_accounts").
		WithArgs("acct-1", int64(1000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_reservations").
		WithArgs(sqlmock.AnyArg(), "acct-1", int64(1000), string(order.ReservationHeld), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.ReserveBalance(context.Background(), order.Reservation{AccountID: "acct-1", AmountTMN: 1000})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != order.ReservationHeld || res.ID == "" {
		t.Fatalf("unexpected reservation: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveBalanceInsufficientRollsBack(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE exchange_accounts").
		WithArgs("acct-1", int64(5000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM exchange_accounts").
		WithArgs("acct-1").
		WillReturnRows(accountRow(500))
	mock.ExpectRollback()

	if _, err := store.ReserveBalance(context.Background(), order.Reservation{AccountID: "acct-1", AmountTMN: 5000}); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveBalanceInsertFailureRollsBack(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE exchange_accounts").
		WithArgs("acct-1", int64(1000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_reservations").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, err := store.ReserveBalance(context.Background(), order.Reservation{AccountID: "acct-1", AmountTMN: 1000}); err == nil {
		t.Fatalf("expected insert failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSettleReservationConflict(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	resCols := []string{"id", "account_id", "amount_tmn", "status", "created_at", "settled_at"}
	mock.ExpectQuery("UPDATE balance_reservations").
		WithArgs("res-1", order.ReservationFinalized, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(resCols))
	mock.ExpectQuery("SELECT (.+) FROM balance_reservations").
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows(resCols).
			AddRow("res-1", "acct-1", int64(100), order.ReservationRefunded, now, now))

	if _, err := store.SettleReservation(context.Background(), "res-1", order.ReservationFinalized); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSettleReservationSuccess(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	resCols := []string{"id", "account_id", "amount_tmn", "status", "created_at", "settled_at"}
	mock.ExpectQuery("UPDATE balance_reservations").
		WithArgs("res-1", order.ReservationRefunded, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(resCols).
			AddRow("res-1", "acct-1", int64(250), order.ReservationRefunded, now, now))

	res, err := store.SettleReservation(context.Background(), "res-1", order.ReservationRefunded)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Status != order.ReservationRefunded || res.AmountTMN != 250 || res.SettledAt.IsZero() {
		t.Fatalf("unexpected reservation: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionOrderConflict(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	orderCols := []string{"id", "account_id", "type", "symbol", "amount_tmn", "amount_crypto",
		"price_at_order", "total_value_tmn", "reservation_id", "status", "admin_note", "created_at", "decided_at"}
	mock.ExpectQuery("SELECT (.+) FROM exchange_orders").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("ord-1", "acct-1", "buy", "USDT", int64(1000), "0", int64(115090), int64(1000), "res-1", "pending", "", now, nil))
	mock.ExpectExec("UPDATE exchange_orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := store.TransitionOrder(context.Background(), "ord-1", order.StatusPending, order.StatusCompleted, nil); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict when no row matched, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
