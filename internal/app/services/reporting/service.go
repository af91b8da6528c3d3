// Package reporting provides read-only aggregates over orders, accounts and
// KYC submissions. It never mutates state: its store dependencies are used
// exclusively through list and get operations, and its rule-based flags are
// advisory output for the analytics consumers, with no path back into order
// or balance decisions.
package reporting

import (
	"context"

	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/pkg/logger"
)

// DefaultLargeOrderThresholdTMN is the value above which a pending order is
// flagged for analytics when the caller does not pick a threshold.
const DefaultLargeOrderThresholdTMN int64 = 500_000_000

// SymbolVolume aggregates order activity for one symbol.
type SymbolVolume struct {
	Symbol        string `json:"symbol"`
	OrderCount    int    `json:"order_count"`
	PendingCount  int    `json:"pending_count"`
	TotalValueTMN int64  `json:"total_value_tmn"`
}

// KYCFunnel counts submissions per status.
type KYCFunnel struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// QueueDepth reports how much work awaits admin review.
type QueueDepth struct {
	PendingOrders      int `json:"pending_orders"`
	PendingSubmissions int `json:"pending_submissions"`
}

// AnomalyFlag marks an order that tripped a reporting heuristic. Flags are
// informational; they carry no authority over the order lifecycle.
type AnomalyFlag struct {
	OrderID       string `json:"order_id"`
	AccountID     string `json:"account_id"`
	Rule          string `json:"rule"`
	TotalValueTMN int64  `json:"total_value_tmn"`
}

// Service computes reporting aggregates.
type Service struct {
	orders   storage.OrderStore
	kyc      storage.KYCStore
	accounts storage.AccountStore
	log      *logger.Logger
}

// New constructs a reporting service.
func New(orders storage.OrderStore, kycStore storage.KYCStore, accounts storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reporting")
	}
	return &Service{orders: orders, kyc: kycStore, accounts: accounts, log: log}
}

// VolumeBySymbol aggregates all orders per symbol.
func (s *Service) VolumeBySymbol(ctx context.Context) ([]SymbolVolume, error) {
	all, err := s.orders.ListOrders(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]*SymbolVolume)
	for _, ord := range all {
		vol, ok := bySymbol[ord.Symbol]
		if !ok {
			vol = &SymbolVolume{Symbol: ord.Symbol}
			bySymbol[ord.Symbol] = vol
		}
		vol.OrderCount++
		vol.TotalValueTMN += ord.TotalValueTMN
		if ord.Status == order.StatusPending {
			vol.PendingCount++
		}
	}

	result := make([]SymbolVolume, 0, len(bySymbol))
	for _, vol := range bySymbol {
		result = append(result, *vol)
	}
	return result, nil
}

// Funnel counts KYC submissions per status across all accounts.
func (s *Service) Funnel(ctx context.Context) (KYCFunnel, error) {
	subs, err := s.kyc.ListSubmissions(ctx, "")
	if err != nil {
		return KYCFunnel{}, err
	}

	var funnel KYCFunnel
	for _, sub := range subs {
		switch sub.Status {
		case kyc.StatusPending:
			funnel.Pending++
		case kyc.StatusApproved:
			funnel.Approved++
		case kyc.StatusRejected:
			funnel.Rejected++
		}
	}
	return funnel, nil
}

// ReviewQueue reports pending order and submission counts.
func (s *Service) ReviewQueue(ctx context.Context) (QueueDepth, error) {
	orders, err := s.orders.ListPendingOrders(ctx)
	if err != nil {
		return QueueDepth{}, err
	}
	subs, err := s.kyc.ListPendingSubmissions(ctx)
	if err != nil {
		return QueueDepth{}, err
	}
	return QueueDepth{PendingOrders: len(orders), PendingSubmissions: len(subs)}, nil
}

// LargeOrders flags pending orders at or above the TMN threshold. This is the
// rule-based anomaly heuristic; its output is advisory only.
func (s *Service) LargeOrders(ctx context.Context, thresholdTMN int64) ([]AnomalyFlag, error) {
	if thresholdTMN <= 0 {
		return nil, nil
	}

	pending, err := s.orders.ListPendingOrders(ctx)
	if err != nil {
		return nil, err
	}

	flags := make([]AnomalyFlag, 0)
	for _, ord := range pending {
		if ord.TotalValueTMN >= thresholdTMN {
			flags = append(flags, AnomalyFlag{
				OrderID:       ord.ID,
				AccountID:     ord.AccountID,
				Rule:          "large_pending_order",
				TotalValueTMN: ord.TotalValueTMN,
			})
		}
	}
	return flags, nil
}
