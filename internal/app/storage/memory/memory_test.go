package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arzex/exchange-core/internal/app/domain/account"
	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/domain/wallet"
	"github.com/arzex/exchange-core/internal/app/storage"
)

func TestAdjustBalanceNeverGoesNegative(t *testing.T) {
	store := New()
	acct, err := store.CreateAccount(context.Background(), account.Account{Owner: "owner", BalanceTMN: 1000})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	// 100 workers each try to take 100; only 10 can succeed.
	var wg sync.WaitGroup
	successes := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdjustBalance(context.Background(), acct.ID, -100); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 10 {
		t.Fatalf("expected 10 successful debits, got %d", count)
	}

	final, err := store.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if final.BalanceTMN != 0 {
		t.Fatalf("balance should be exactly zero, got %d", final.BalanceTMN)
	}
}

func TestAdjustBalanceInsufficientFunds(t *testing.T) {
	store := New()
	acct, _ := store.CreateAccount(context.Background(), account.Account{Owner: "owner", BalanceTMN: 50})

	if _, err := store.AdjustBalance(context.Background(), acct.ID, -51); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := store.AdjustBalance(context.Background(), "missing", -1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAccountPreservesLedgerFields(t *testing.T) {
	store := New()
	acct, _ := store.CreateAccount(context.Background(), account.Account{Owner: "owner", BalanceTMN: 500})
	if _, err := store.SetKYC(context.Background(), acct.ID, 2, account.KYCStatusApproved); err != nil {
		t.Fatalf("set kyc: %v", err)
	}

	acct.Owner = "renamed"
	acct.BalanceTMN = 999999
	acct.KYCLevel = 0
	updated, err := store.UpdateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("update account: %v", err)
	}
	if updated.Owner != "renamed" {
		t.Fatalf("owner not updated: %s", updated.Owner)
	}
	if updated.BalanceTMN != 500 {
		t.Fatalf("balance must not move through UpdateAccount: %d", updated.BalanceTMN)
	}
	if updated.KYCLevel != 2 || updated.KYCStatus != account.KYCStatusApproved {
		t.Fatalf("kyc fields must not move through UpdateAccount: %d/%s", updated.KYCLevel, updated.KYCStatus)
	}
}

func TestReserveBalanceDebitsAndHoldsAtomically(t *testing.T) {
	store := New()
	acct, err := store.CreateAccount(context.Background(), account.Account{Owner: "owner", BalanceTMN: 1000})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	res, err := store.ReserveBalance(context.Background(), order.Reservation{AccountID: acct.ID, AmountTMN: 600})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != order.ReservationHeld || res.AmountTMN != 600 {
		t.Fatalf("unexpected reservation: %+v", res)
	}
	after, _ := store.GetAccount(context.Background(), acct.ID)
	if after.BalanceTMN != 400 {
		t.Fatalf("debit not applied: %d", after.BalanceTMN)
	}

	// A failed reserve leaves both sides untouched.
	if _, err := store.ReserveBalance(context.Background(), order.Reservation{AccountID: acct.ID, AmountTMN: 401}); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	after, _ = store.GetAccount(context.Background(), acct.ID)
	if after.BalanceTMN != 400 {
		t.Fatalf("failed reserve must not debit: %d", after.BalanceTMN)
	}
	if list, _ := store.ListReservations(context.Background(), acct.ID); len(list) != 1 {
		t.Fatalf("failed reserve must not record a hold, got %d", len(list))
	}

	if _, err := store.ReserveBalance(context.Background(), order.Reservation{AccountID: "no-such", AmountTMN: 1}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleReservationExactlyOnce(t *testing.T) {
	store := New()
	res, err := store.CreateReservation(context.Background(), order.Reservation{AccountID: "1", AmountTMN: 100})
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	if res.Status != order.ReservationHeld {
		t.Fatalf("new reservation should be held: %s", res.Status)
	}

	settled, err := store.SettleReservation(context.Background(), res.ID, order.ReservationFinalized)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != order.ReservationFinalized || settled.SettledAt.IsZero() {
		t.Fatalf("unexpected settled reservation: %+v", settled)
	}

	if _, err := store.SettleReservation(context.Background(), res.ID, order.ReservationRefunded); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second settlement should conflict, got %v", err)
	}
}

func TestSettleReservationConcurrent(t *testing.T) {
	store := New()
	res, _ := store.CreateReservation(context.Background(), order.Reservation{AccountID: "1", AmountTMN: 100})

	var wg sync.WaitGroup
	wins := make(chan order.ReservationStatus, 2)
	for _, outcome := range []order.ReservationStatus{order.ReservationFinalized, order.ReservationRefunded} {
		wg.Add(1)
		go func(out order.ReservationStatus) {
			defer wg.Done()
			if settled, err := store.SettleReservation(context.Background(), res.ID, out); err == nil {
				wins <- settled.Status
			}
		}(outcome)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("exactly one settlement should win, got %d", count)
	}
}

func TestWalletAddressUniquePerSymbol(t *testing.T) {
	store := New()
	first, err := store.CreateWalletAddress(context.Background(), wallet.Address{AccountID: "1", Symbol: "btc", Address: "addr1"})
	if err != nil {
		t.Fatalf("create address: %v", err)
	}
	if first.Symbol != "BTC" {
		t.Fatalf("symbol not normalised: %s", first.Symbol)
	}

	if _, err := store.CreateWalletAddress(context.Background(), wallet.Address{AccountID: "1", Symbol: "BTC", Address: "addr2"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// A second account and a second symbol are both fine.
	if _, err := store.CreateWalletAddress(context.Background(), wallet.Address{AccountID: "2", Symbol: "BTC", Address: "addr3"}); err != nil {
		t.Fatalf("other account should not collide: %v", err)
	}
	if _, err := store.CreateWalletAddress(context.Background(), wallet.Address{AccountID: "1", Symbol: "ETH", Address: "addr4"}); err != nil {
		t.Fatalf("other symbol should not collide: %v", err)
	}

	// Deleting frees the slot for a replacement.
	if err := store.DeleteWalletAddress(context.Background(), first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.CreateWalletAddress(context.Background(), wallet.Address{AccountID: "1", Symbol: "BTC", Address: "addr5"}); err != nil {
		t.Fatalf("re-register after delete: %v", err)
	}
}

func TestTransitionOrderCAS(t *testing.T) {
	store := New()
	ord, err := store.CreateOrder(context.Background(), order.Order{AccountID: "1", Type: order.TypeBuy, Symbol: "usdt", AmountTMN: 100})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if ord.Status != order.StatusPending || ord.Symbol != "USDT" {
		t.Fatalf("unexpected created order: %+v", ord)
	}

	decided, err := store.TransitionOrder(context.Background(), ord.ID, order.StatusPending, order.StatusCompleted, func(o *order.Order) {
		o.AdminNote = "ok"
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if decided.Status != order.StatusCompleted || decided.AdminNote != "ok" {
		t.Fatalf("mutate not applied: %+v", decided)
	}

	if _, err := store.TransitionOrder(context.Background(), ord.ID, order.StatusPending, order.StatusRejected, nil); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("terminal order should conflict, got %v", err)
	}
}

func TestGetSubmissionByLevelReturnsLatest(t *testing.T) {
	store := New()
	first, _ := store.CreateSubmission(context.Background(), kyc.Submission{AccountID: "1", Level: 1})
	if _, err := store.TransitionSubmission(context.Background(), first.ID, kyc.StatusPending, kyc.StatusRejected, nil); err != nil {
		t.Fatalf("reject first: %v", err)
	}
	second, _ := store.CreateSubmission(context.Background(), kyc.Submission{AccountID: "1", Level: 1})

	latest, err := store.GetSubmissionByLevel(context.Background(), "1", 1)
	if err != nil {
		t.Fatalf("get by level: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected latest submission %s, got %s", second.ID, latest.ID)
	}

	if _, err := store.GetSubmissionByLevel(context.Background(), "1", 2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for level 2, got %v", err)
	}
}

func TestCreateSubmissionOnePendingPerLevel(t *testing.T) {
	store := New()
	if _, err := store.CreateSubmission(context.Background(), kyc.Submission{AccountID: "1", Level: 1}); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := store.CreateSubmission(context.Background(), kyc.Submission{AccountID: "1", Level: 1}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("second pending at same level should collide, got %v", err)
	}

	// Other levels and other accounts are unaffected.
	if _, err := store.CreateSubmission(context.Background(), kyc.Submission{AccountID: "1", Level: 2}); err != nil {
		t.Fatalf("level 2 submission: %v", err)
	}
	if _, err := store.CreateSubmission(context.Background(), kyc.Submission{AccountID: "2", Level: 1}); err != nil {
		t.Fatalf("other account submission: %v", err)
	}
}

func TestCreditHoldingAccumulates(t *testing.T) {
	store := New()
	if _, err := store.CreditHolding(context.Background(), order.Holding{AccountID: "1", Symbol: "usdt", Amount: decimal.RequireFromString("1.5")}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	h, err := store.CreditHolding(context.Background(), order.Holding{AccountID: "1", Symbol: "USDT", Amount: decimal.RequireFromString("2.25")})
	if err != nil {
		t.Fatalf("credit again: %v", err)
	}
	if !h.Amount.Equal(decimal.RequireFromString("3.75")) {
		t.Fatalf("holding should accumulate, got %s", h.Amount)
	}

	got, err := store.GetHolding(context.Background(), "1", "usdt")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("3.75")) {
		t.Fatalf("unexpected stored amount: %s", got.Amount)
	}
}
