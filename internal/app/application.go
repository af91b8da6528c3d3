// Package app assembles the exchange core: stores, services, the event bus
// and the HTTP surface. Callers construct an Application, attach it to a mux
// and drive its lifecycle through Start and Stop.
package app

import (
	"context"
	"net/http"

	"github.com/arzex/exchange-core/internal/app/events"
	"github.com/arzex/exchange-core/internal/app/httpapi"
	"github.com/arzex/exchange-core/internal/app/metrics"
	"github.com/arzex/exchange-core/internal/app/services/accounts"
	"github.com/arzex/exchange-core/internal/app/services/kyc"
	"github.com/arzex/exchange-core/internal/app/services/orders"
	"github.com/arzex/exchange-core/internal/app/services/pricefeed"
	"github.com/arzex/exchange-core/internal/app/services/reporting"
	"github.com/arzex/exchange-core/internal/app/services/review"
	"github.com/arzex/exchange-core/internal/app/services/wallets"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/internal/app/storage/memory"
	"github.com/arzex/exchange-core/internal/app/system"
	"github.com/arzex/exchange-core/internal/config"
	"github.com/arzex/exchange-core/pkg/logger"
)

// simulatedSeedPrice picks a plausible TMN base price for the simulated
// fetcher. Values only need to be in a realistic order of magnitude.
func simulatedSeedPrice(symbol string) int64 {
	switch symbol {
	case "BTC":
		return 7_100_000_000
	case "ETH":
		return 280_000_000
	case "USDT":
		return 115_000
	default:
		return 1_000_000
	}
}

// Stores carries the persistence backends. Nil fields default to a shared
// in-memory store, so tests can construct an Application with zero setup.
type Stores struct {
	Accounts     storage.AccountStore
	Reservations storage.ReservationStore
	Wallets      storage.WalletStore
	KYC          storage.KYCStore
	Orders       storage.OrderStore
	Holdings     storage.HoldingStore
	Prices       storage.PriceStore
}

func (s *Stores) applyDefaults() {
	var mem *memory.Store
	ensure := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Accounts == nil {
		s.Accounts = ensure()
	}
	if s.Reservations == nil {
		s.Reservations = ensure()
	}
	if s.Wallets == nil {
		s.Wallets = ensure()
	}
	if s.KYC == nil {
		s.KYC = ensure()
	}
	if s.Orders == nil {
		s.Orders = ensure()
	}
	if s.Holdings == nil {
		s.Holdings = ensure()
	}
	if s.Prices == nil {
		s.Prices = ensure()
	}
}

// Options tunes optional application dependencies. Zero values select the
// built-in defaults: a simulated price fetcher and an accept-all verifier.
type Options struct {
	PriceFetcher pricefeed.Fetcher
	Verifier     kyc.IdentityVerifier
}

// Application wires the exchange core together.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	Accounts  *accounts.Service
	Wallets   *wallets.Service
	KYC       *kyc.Service
	Orders    *orders.Service
	Review    *review.Service
	Reporting *reporting.Service
	Prices    *pricefeed.Service

	Bus     *events.Bus
	manager *system.Manager
}

// New wires the full application. Stores may be zero valued; opts may be nil.
func New(cfg *config.Config, stores Stores, opts *Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts == nil {
		opts = &Options{}
	}
	stores.applyDefaults()

	fetcher := opts.PriceFetcher
	if fetcher == nil {
		if cfg.PriceFeed.FetchURL != "" {
			httpFetcher, err := pricefeed.NewHTTPFetcher(nil, cfg.PriceFeed.FetchURL, cfg.PriceFeed.FetchKey, cfg.PriceFeed.PricePath, log)
			if err != nil {
				return nil, err
			}
			fetcher = httpFetcher
		} else {
			seeds := make(map[string]int64)
			for _, sym := range cfg.PriceFeed.SymbolList() {
				seeds[sym] = simulatedSeedPrice(sym)
			}
			fetcher = pricefeed.NewSimulatedFetcher(seeds)
		}
	}

	verifier := opts.Verifier
	if verifier == nil && cfg.KYC.VerifierURL != "" {
		httpVerifier, err := kyc.NewHTTPVerifier(nil, cfg.KYC.VerifierURL, cfg.KYC.VerifierKey, "", log)
		if err != nil {
			return nil, err
		}
		verifier = httpVerifier
	}

	bus := events.NewBus(log)

	accountSvc := accounts.New(stores.Accounts, stores.Reservations, log)
	walletSvc := wallets.New(stores.Accounts, stores.Wallets, log)
	kycSvc := kyc.New(accountSvc, stores.KYC, verifier, cfg.KYC.Timeout, log)
	priceSvc := pricefeed.New(fetcher, stores.Prices, cfg.PriceFeed.Timeout, log)
	orderSvc := orders.New(accountSvc, walletSvc, priceSvc, stores.Orders, stores.Holdings, log)
	reviewSvc := review.New(accountSvc, kycSvc, stores.Orders, stores.Holdings, bus, log)
	reportingSvc := reporting.New(stores.Orders, stores.KYC, stores.Accounts, log)

	manager := system.NewManager()
	refresher := pricefeed.NewRefresher(priceSvc, cfg.PriceFeed.SymbolList(), cfg.PriceFeed.RefreshInterval, log)
	if err := manager.Register(refresher); err != nil {
		return nil, err
	}

	return &Application{
		cfg:       cfg,
		log:       log,
		Accounts:  accountSvc,
		Wallets:   walletSvc,
		KYC:       kycSvc,
		Orders:    orderSvc,
		Review:    reviewSvc,
		Reporting: reportingSvc,
		Prices:    priceSvc,
		Bus:       bus,
		manager:   manager,
	}, nil
}

// Attach mounts the API, health and metrics endpoints on the mux and returns
// the root handler with auth, rate limiting and instrumentation applied.
func (a *Application) Attach(mux *http.ServeMux) http.Handler {
	handler := httpapi.NewHandler(httpapi.Services{
		Accounts:  a.Accounts,
		Wallets:   a.Wallets,
		KYC:       a.KYC,
		Orders:    a.Orders,
		Review:    a.Review,
		Reporting: a.Reporting,
		Prices:    a.Prices,
	}, a.log)
	handler.Register(mux)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	auth := httpapi.NewAuthMiddleware(a.cfg.Auth.JWTSecret, []string{"/healthz", "/metrics"}, a.log)
	limiter := httpapi.NewRateLimiter(a.cfg.RateLimit.RequestsPerSecond, a.cfg.RateLimit.Burst, a.log)
	return metrics.InstrumentHandler(auth.Handler(limiter.Handler(mux)))
}

// Start launches the background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts down background services and closes the event bus.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.Bus.Close()
	return err
}
