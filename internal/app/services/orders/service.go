// Package orders implements the order ledger: admission checks, balance
// reservation, and the pending order book the review gateway decides on.
package orders

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/metrics"
	"github.com/arzex/exchange-core/internal/app/services/accounts"
	"github.com/arzex/exchange-core/internal/app/services/pricefeed"
	"github.com/arzex/exchange-core/internal/app/services/wallets"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Errors
var (
	ErrNotFound              = stderrors.New("order not found")
	ErrInvalidType           = stderrors.New("invalid order type")
	ErrInvalidAmount         = stderrors.New("order amount must be positive")
	ErrKYCInsufficient       = stderrors.New("kyc level too low for trading")
	ErrWalletAddressRequired = stderrors.New("verified wallet address required")
	ErrInsufficientBalance   = accounts.ErrInsufficientBalance
	ErrPriceUnavailable      = pricefeed.ErrPriceUnavailable
)

// Quoter supplies the current price for a symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (int64, error)
}

// Service validates and commits orders. Admission checks run before the
// balance is touched, so every failure before the reserve step leaves no
// trace; after it, the order and its reservation are committed together or
// the reservation is rolled back.
type Service struct {
	accounts *accounts.Service
	wallets  *wallets.Service
	quoter   Quoter
	store    storage.OrderStore
	holdings storage.HoldingStore
	log      *logger.Logger
}

// New constructs the order ledger.
func New(accountSvc *accounts.Service, walletSvc *wallets.Service, quoter Quoter, store storage.OrderStore, holdings storage.HoldingStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	return &Service{
		accounts: accountSvc,
		wallets:  walletSvc,
		quoter:   quoter,
		store:    store,
		holdings: holdings,
		log:      log,
	}
}

// CreateOrder validates admissibility, reserves the TMN value, and persists a
// pending order carrying the quote snapshotted in this request. Buy orders
// spend amountTMN; sell and trade orders price amountCrypto at the current
// quote. The caller-supplied identity is re-checked against the account
// store; a kyc level claimed by the transport is never trusted.
func (s *Service) CreateOrder(ctx context.Context, accountID string, typ order.Type, symbol string, amountTMN int64, amountCrypto decimal.Decimal) (order.Order, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return order.Order{}, fmt.Errorf("symbol is required")
	}

	switch typ {
	case order.TypeBuy:
		if amountTMN <= 0 {
			return order.Order{}, ErrInvalidAmount
		}
	case order.TypeSell, order.TypeTrade:
		if !amountCrypto.IsPositive() {
			return order.Order{}, ErrInvalidAmount
		}
	default:
		return order.Order{}, ErrInvalidType
	}

	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return order.Order{}, err
	}
	if acct.KYCLevel < kyc.LevelAdvanced {
		return order.Order{}, ErrKYCInsufficient
	}

	// Wallet gating applies to buy orders only: the verified address is where
	// the purchased coin would be withdrawn to.
	if typ == order.TypeBuy {
		if _, err := s.wallets.GetVerified(ctx, accountID, symbol); err != nil {
			if stderrors.Is(err, wallets.ErrNotFound) {
				return order.Order{}, ErrWalletAddressRequired
			}
			return order.Order{}, err
		}
	}

	quote, err := s.quoter.Quote(ctx, symbol)
	if err != nil {
		return order.Order{}, err
	}

	totalTMN := amountTMN
	if typ != order.TypeBuy {
		// IntPart wraps silently above int64 range, so bound the product
		// before converting.
		value := amountCrypto.Mul(decimal.NewFromInt(quote)).Round(0)
		if value.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
			return order.Order{}, ErrInvalidAmount
		}
		totalTMN = value.IntPart()
		if totalTMN <= 0 {
			return order.Order{}, ErrInvalidAmount
		}
	}

	res, err := s.accounts.Reserve(ctx, accountID, totalTMN)
	if err != nil {
		return order.Order{}, err
	}

	ord, err := s.store.CreateOrder(ctx, order.Order{
		AccountID:     accountID,
		Type:          typ,
		Symbol:        symbol,
		AmountTMN:     amountTMN,
		AmountCrypto:  amountCrypto,
		PriceAtOrder:  quote,
		TotalValueTMN: totalTMN,
		ReservationID: res.ID,
		Status:        order.StatusPending,
	})
	if err != nil {
		// The order never became visible; release the hold.
		if _, refundErr := s.accounts.Refund(ctx, res.ID); refundErr != nil {
			s.log.WithError(refundErr).
				WithField("reservation_id", res.ID).
				Error("rollback of orphaned reservation failed")
		}
		return order.Order{}, fmt.Errorf("persist order: %w", err)
	}

	metrics.RecordOrderCreated(string(typ))
	s.log.WithField("order_id", ord.ID).
		WithField("account_id", accountID).
		WithField("type", string(typ)).
		WithField("symbol", symbol).
		WithField("total_value_tmn", totalTMN).
		WithField("price_at_order", quote).
		Info("order created")
	return ord, nil
}

// Get retrieves an order by identifier.
func (s *Service) Get(ctx context.Context, id string) (order.Order, error) {
	ord, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return order.Order{}, ErrNotFound
		}
		return order.Order{}, err
	}
	return ord, nil
}

// List returns orders for an account, newest first. An empty accountID lists
// every order; the reporting readers use that form.
func (s *Service) List(ctx context.Context, accountID string, limit int) ([]order.Order, error) {
	return s.store.ListOrders(ctx, accountID, limit)
}

// ListPending returns the admin review queue, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]order.Order, error) {
	return s.store.ListPendingOrders(ctx)
}

// Holdings returns the accumulated crypto positions for an account.
func (s *Service) Holdings(ctx context.Context, accountID string) ([]order.Holding, error) {
	return s.holdings.ListHoldings(ctx, accountID)
}
