package storage

import (
	"context"
	"errors"

	"github.com/arzex/exchange-core/internal/app/domain/account"
	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/domain/pricefeed"
	"github.com/arzex/exchange-core/internal/app/domain/wallet"
)

// Sentinel errors shared by all store implementations. Services translate
// these into their own error vocabulary.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate reports a uniqueness violation.
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict reports a failed compare-and-set transition.
	ErrConflict = errors.New("state transition conflict")
	// ErrInsufficientFunds reports a balance adjustment that would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// AccountStore persists customer accounts. AdjustBalance is the single
// balance mutation primitive: the check and the write happen in one critical
// section per account, so concurrent callers can never observe a stale
// balance between check and decrement.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)

	// AdjustBalance atomically applies delta (may be negative) to the account
	// balance. It fails with ErrInsufficientFunds when the result would be
	// negative, leaving the balance untouched.
	AdjustBalance(ctx context.Context, id string, delta int64) (account.Account, error)

	// SetKYC atomically records the account's KYC level and status.
	SetKYC(ctx context.Context, id string, level int, status account.KYCStatus) (account.Account, error)
}

// ReservationStore persists balance holds. SettleReservation is a
// compare-and-set from held to a settled state and fails with ErrConflict for
// any reservation that is no longer held, which gives the exactly-once
// settlement guarantee.
type ReservationStore interface {
	// ReserveBalance debits res.AmountTMN from res.AccountID and records the
	// held reservation as one atomic unit; a failure leaves neither side
	// applied.
	ReserveBalance(ctx context.Context, res order.Reservation) (order.Reservation, error)
	CreateReservation(ctx context.Context, res order.Reservation) (order.Reservation, error)
	GetReservation(ctx context.Context, id string) (order.Reservation, error)
	SettleReservation(ctx context.Context, id string, outcome order.ReservationStatus) (order.Reservation, error)
	ListReservations(ctx context.Context, accountID string) ([]order.Reservation, error)
}

// WalletStore persists withdrawal addresses with a uniqueness guarantee per
// (account, symbol) pair enforced at insert time.
type WalletStore interface {
	CreateWalletAddress(ctx context.Context, addr wallet.Address) (wallet.Address, error)
	GetWalletAddress(ctx context.Context, id string) (wallet.Address, error)
	GetWalletAddressBySymbol(ctx context.Context, accountID, symbol string) (wallet.Address, error)
	UpdateWalletAddress(ctx context.Context, addr wallet.Address) (wallet.Address, error)
	DeleteWalletAddress(ctx context.Context, id string) error
	ListWalletAddresses(ctx context.Context, accountID string) ([]wallet.Address, error)
}

// KYCStore persists identity submissions. TransitionSubmission is a
// compare-and-set on status, the per-submission guard against a double
// decision.
type KYCStore interface {
	CreateSubmission(ctx context.Context, sub kyc.Submission) (kyc.Submission, error)
	GetSubmission(ctx context.Context, id string) (kyc.Submission, error)
	GetSubmissionByLevel(ctx context.Context, accountID string, level int) (kyc.Submission, error)
	TransitionSubmission(ctx context.Context, id string, from, to kyc.Status, mutate func(*kyc.Submission)) (kyc.Submission, error)
	ListSubmissions(ctx context.Context, accountID string) ([]kyc.Submission, error)
	ListPendingSubmissions(ctx context.Context) ([]kyc.Submission, error)
}

// OrderStore persists orders. TransitionOrder is a compare-and-set on status:
// the pending-to-terminal transition is itself the mutex, so two concurrent
// decisions on one order cannot both succeed.
type OrderStore interface {
	CreateOrder(ctx context.Context, ord order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	TransitionOrder(ctx context.Context, id string, from, to order.Status, mutate func(*order.Order)) (order.Order, error)
	ListOrders(ctx context.Context, accountID string, limit int) ([]order.Order, error)
	ListPendingOrders(ctx context.Context) ([]order.Order, error)
}

// HoldingStore persists accumulated crypto positions.
type HoldingStore interface {
	CreditHolding(ctx context.Context, h order.Holding) (order.Holding, error)
	GetHolding(ctx context.Context, accountID, symbol string) (order.Holding, error)
	ListHoldings(ctx context.Context, accountID string) ([]order.Holding, error)
}

// PriceStore persists feed snapshots for reporting.
type PriceStore interface {
	CreatePriceSnapshot(ctx context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error)
	ListPriceSnapshots(ctx context.Context, symbol string, limit int) ([]pricefeed.Snapshot, error)
}
