// Package pricefeed supplies current prices for coin symbols. The order
// ledger quotes synchronously at creation time; a feed failure surfaces as
// ErrPriceUnavailable and never falls back to a stale price.
package pricefeed

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/arzex/exchange-core/internal/app/domain/pricefeed"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Errors
var (
	ErrPriceUnavailable = stderrors.New("price unavailable")
	ErrUnknownSymbol    = stderrors.New("unknown symbol")
)

// Service answers price quotes through the configured fetcher and records
// snapshots for the reporting readers.
type Service struct {
	fetcher Fetcher
	store   storage.PriceStore
	timeout time.Duration
	log     *logger.Logger
}

// New constructs a price feed service. A nil store disables snapshot
// recording; quoting still works.
func New(fetcher Fetcher, store storage.PriceStore, timeout time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricefeed")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{fetcher: fetcher, store: store, timeout: timeout, log: log}
}

// Quote returns the current TMN price for one unit of symbol. Fetch errors
// and timeouts map to ErrPriceUnavailable.
func (s *Service) Quote(ctx context.Context, symbol string) (int64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, ErrUnknownSymbol
	}
	if s.fetcher == nil {
		return 0, ErrPriceUnavailable
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	price, source, err := s.fetcher.Fetch(fetchCtx, symbol)
	if err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("price fetch failed")
		return 0, ErrPriceUnavailable
	}
	if price <= 0 {
		s.log.WithField("symbol", symbol).WithField("price", price).Warn("non-positive price from feed")
		return 0, ErrPriceUnavailable
	}

	if s.store != nil {
		if _, err := s.store.CreatePriceSnapshot(ctx, pricefeed.Snapshot{
			Symbol:      symbol,
			PriceTMN:    price,
			Source:      source,
			CollectedAt: time.Now().UTC(),
		}); err != nil {
			s.log.WithError(err).WithField("symbol", symbol).Warn("record price snapshot")
		}
	}

	return price, nil
}

// Snapshots returns recent recorded quotes for a symbol, newest first.
func (s *Service) Snapshots(ctx context.Context, symbol string, limit int) ([]pricefeed.Snapshot, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListPriceSnapshots(ctx, symbol, limit)
}
