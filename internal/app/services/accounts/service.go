// Package accounts implements the account store: the registry of customers,
// their TMN balances, and the single-use reservations taken against those
// balances when orders are created.
package accounts

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/arzex/exchange-core/internal/app/domain/account"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/internal/errors"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Errors
var (
	ErrNotFound            = stderrors.New("account not found")
	ErrInsufficientBalance = stderrors.New("insufficient balance")
	ErrAlreadySettled      = stderrors.New("reservation already settled")
	ErrInvalidAmount       = stderrors.New("amount must be positive")
	ErrInvalidOwner        = stderrors.New("owner is required")
)

// Service manages accounts and balance reservations. The balance check and
// decrement happen inside the store's per-account critical section, so two
// concurrent reservations can never both pass against a stale balance.
type Service struct {
	store        storage.AccountStore
	reservations storage.ReservationStore
	log          *logger.Logger
}

// New constructs an account service.
func New(store storage.AccountStore, reservations storage.ReservationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, reservations: reservations, log: log}
}

// Create provisions a new account with a zero balance and no KYC progress.
func (s *Service) Create(ctx context.Context, owner string, metadata map[string]string) (account.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return account.Account{}, ErrInvalidOwner
	}

	acct := account.Account{Owner: owner, Metadata: metadata, KYCStatus: account.KYCStatusNone}
	created, err := s.store.CreateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.log.WithField("account_id", created.ID).
		WithField("owner", owner).
		Info("account created")
	return created, nil
}

// Get retrieves an account by identifier.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}

// List returns all accounts for the reporting readers.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Deposit credits TMN to an account balance.
func (s *Service) Deposit(ctx context.Context, id string, amount int64) (account.Account, error) {
	if amount <= 0 {
		return account.Account{}, ErrInvalidAmount
	}

	acct, err := s.store.AdjustBalance(ctx, id, amount)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrNotFound
		}
		return account.Account{}, fmt.Errorf("deposit: %w", err)
	}

	s.log.WithField("account_id", id).
		WithField("amount_tmn", amount).
		Info("balance deposited")
	return acct, nil
}

// Reserve atomically checks the balance covers amount and holds that amount.
// The returned reservation is bound to the exact amount removed and must be
// settled exactly once with Finalize or Refund.
func (s *Service) Reserve(ctx context.Context, accountID string, amount int64) (order.Reservation, error) {
	if amount <= 0 {
		return order.Reservation{}, ErrInvalidAmount
	}

	// The store debits and records the hold as one atomic unit, so a crash
	// mid-reserve can never strand a debit without its reservation.
	res, err := s.reservations.ReserveBalance(ctx, order.Reservation{
		AccountID: accountID,
		AmountTMN: amount,
	})
	if err != nil {
		switch {
		case stderrors.Is(err, storage.ErrInsufficientFunds):
			return order.Reservation{}, ErrInsufficientBalance
		case stderrors.Is(err, storage.ErrNotFound):
			return order.Reservation{}, ErrNotFound
		default:
			return order.Reservation{}, fmt.Errorf("reserve balance: %w", err)
		}
	}

	s.log.WithField("account_id", accountID).
		WithField("reservation_id", res.ID).
		WithField("amount_tmn", amount).
		Info("balance reserved")
	return res, nil
}

// Finalize consumes a reservation. The amount was already removed from the
// balance at reserve time, so this only marks the hold as spent.
func (s *Service) Finalize(ctx context.Context, reservationID string) (order.Reservation, error) {
	res, err := s.settle(ctx, reservationID, order.ReservationFinalized)
	if err != nil {
		return order.Reservation{}, err
	}

	s.log.WithField("reservation_id", reservationID).
		WithField("account_id", res.AccountID).
		Info("reservation finalized")
	return res, nil
}

// Refund settles a reservation by crediting the held amount back to the
// account balance.
func (s *Service) Refund(ctx context.Context, reservationID string) (order.Reservation, error) {
	res, err := s.settle(ctx, reservationID, order.ReservationRefunded)
	if err != nil {
		return order.Reservation{}, err
	}

	if _, err := s.store.AdjustBalance(ctx, res.AccountID, res.AmountTMN); err != nil {
		// The reservation is marked refunded but the credit failed. This is a
		// ledger fault, not a caller mistake.
		return order.Reservation{}, errors.Internal(
			fmt.Sprintf("refund credit failed for reservation %s", reservationID), err)
	}

	s.log.WithField("reservation_id", reservationID).
		WithField("account_id", res.AccountID).
		WithField("amount_tmn", res.AmountTMN).
		Info("reservation refunded")
	return res, nil
}

func (s *Service) settle(ctx context.Context, reservationID string, outcome order.ReservationStatus) (order.Reservation, error) {
	res, err := s.reservations.SettleReservation(ctx, reservationID, outcome)
	if err != nil {
		switch {
		case stderrors.Is(err, storage.ErrConflict):
			return order.Reservation{}, ErrAlreadySettled
		case stderrors.Is(err, storage.ErrNotFound):
			return order.Reservation{}, ErrNotFound
		default:
			return order.Reservation{}, fmt.Errorf("settle reservation: %w", err)
		}
	}
	return res, nil
}

// SetKYC records the account's KYC level and status. Only the KYC workflow
// and the review gateway call this.
func (s *Service) SetKYC(ctx context.Context, id string, level int, status account.KYCStatus) (account.Account, error) {
	acct, err := s.store.SetKYC(ctx, id, level, status)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}
