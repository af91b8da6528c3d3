package reporting

import (
	"context"
	"testing"

	kycdomain "github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/storage/memory"
)

func seedOrders(t *testing.T, store *memory.Store) {
	t.Helper()
	seed := []order.Order{
		{AccountID: "1", Type: order.TypeBuy, Symbol: "USDT", TotalValueTMN: 1_000_000, Status: order.StatusPending},
		{AccountID: "1", Type: order.TypeBuy, Symbol: "USDT", TotalValueTMN: 2_000_000, Status: order.StatusCompleted},
		{AccountID: "2", Type: order.TypeSell, Symbol: "BTC", TotalValueTMN: 600_000_000, Status: order.StatusPending},
	}
	for _, ord := range seed {
		if _, err := store.CreateOrder(context.Background(), ord); err != nil {
			t.Fatalf("seed order: %v", err)
		}
	}
}

func TestVolumeBySymbol(t *testing.T) {
	store := memory.New()
	seedOrders(t, store)
	svc := New(store, store, store, nil)

	report, err := svc.VolumeBySymbol(context.Background())
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected two symbols, got %d", len(report))
	}

	byName := make(map[string]SymbolVolume)
	for _, vol := range report {
		byName[vol.Symbol] = vol
	}
	usdt := byName["USDT"]
	if usdt.OrderCount != 2 || usdt.PendingCount != 1 || usdt.TotalValueTMN != 3_000_000 {
		t.Fatalf("unexpected USDT volume: %+v", usdt)
	}
	btc := byName["BTC"]
	if btc.OrderCount != 1 || btc.PendingCount != 1 || btc.TotalValueTMN != 600_000_000 {
		t.Fatalf("unexpected BTC volume: %+v", btc)
	}
}

func TestFunnelAndQueue(t *testing.T) {
	store := memory.New()
	seedOrders(t, store)

	pendingSub, _ := store.CreateSubmission(context.Background(), kycdomain.Submission{AccountID: "1", Level: 1})
	approved, _ := store.CreateSubmission(context.Background(), kycdomain.Submission{AccountID: "2", Level: 1})
	_, _ = store.TransitionSubmission(context.Background(), approved.ID, kycdomain.StatusPending, kycdomain.StatusApproved, nil)
	rejected, _ := store.CreateSubmission(context.Background(), kycdomain.Submission{AccountID: "3", Level: 1})
	_, _ = store.TransitionSubmission(context.Background(), rejected.ID, kycdomain.StatusPending, kycdomain.StatusRejected, nil)
	_ = pendingSub

	svc := New(store, store, store, nil)

	funnel, err := svc.Funnel(context.Background())
	if err != nil {
		t.Fatalf("funnel: %v", err)
	}
	if funnel.Pending != 1 || funnel.Approved != 1 || funnel.Rejected != 1 {
		t.Fatalf("unexpected funnel: %+v", funnel)
	}

	queue, err := svc.ReviewQueue(context.Background())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if queue.PendingOrders != 2 || queue.PendingSubmissions != 1 {
		t.Fatalf("unexpected queue: %+v", queue)
	}
}

func TestLargeOrders(t *testing.T) {
	store := memory.New()
	seedOrders(t, store)
	svc := New(store, store, store, nil)

	flags, err := svc.LargeOrders(context.Background(), DefaultLargeOrderThresholdTMN)
	if err != nil {
		t.Fatalf("large orders: %v", err)
	}
	if len(flags) != 1 {
		t.Fatalf("expected one flag, got %d", len(flags))
	}
	if flags[0].Rule != "large_pending_order" || flags[0].TotalValueTMN != 600_000_000 {
		t.Fatalf("unexpected flag: %+v", flags[0])
	}

	// Completed orders never flag, regardless of size; a zero threshold
	// disables the rule.
	if flags, _ := svc.LargeOrders(context.Background(), 0); flags != nil {
		t.Fatalf("zero threshold should disable the rule")
	}
}
