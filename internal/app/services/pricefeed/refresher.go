package pricefeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arzex/exchange-core/internal/app/system"
	"github.com/arzex/exchange-core/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// Refresher periodically samples quotes for a fixed set of symbols so the
// reporting readers have a price history to draw on. Order creation does not
// depend on it; quotes there are always taken synchronously.
type Refresher struct {
	service  *Service
	symbols  []string
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher creates a lifecycle-managed quote sampler.
func NewRefresher(service *Service, symbols []string, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("pricefeed-refresher")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	cleaned := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			cleaned = append(cleaned, sym)
		}
	}
	return &Refresher{service: service, symbols: cleaned, interval: interval, log: log}
}

func (r *Refresher) Name() string { return "pricefeed-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.WithField("symbols", strings.Join(r.symbols, ",")).Info("price refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) tick(ctx context.Context) {
	for _, symbol := range r.symbols {
		if _, err := r.service.Quote(ctx, symbol); err != nil {
			r.log.WithError(err).WithField("symbol", symbol).Debug("refresh quote failed")
		}
	}
}
