package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arzex/exchange-core/internal/app/domain/account"
	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/domain/pricefeed"
	"github.com/arzex/exchange-core/internal/app/domain/wallet"
	"github.com/arzex/exchange-core/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. All compare-and-set primitives run under the store mutex, so
// they carry the same atomicity guarantees as the SQL implementation.
type Store struct {
	mu                sync.RWMutex
	nextID            int64
	accounts          map[string]account.Account
	reservations      map[string]order.Reservation
	walletAddrs       map[string]wallet.Address
	walletBySymbol    map[string]string // accountID/SYMBOL -> address ID
	submissions       map[string]kyc.Submission
	submissionsByAcct map[string][]string // insertion order per account
	orders            map[string]order.Order
	holdings          map[string]order.Holding // accountID/SYMBOL
	priceSnapshots    map[string][]pricefeed.Snapshot
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.ReservationStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.KYCStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.HoldingStore = (*Store)(nil)
var _ storage.PriceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:            1,
		accounts:          make(map[string]account.Account),
		reservations:      make(map[string]order.Reservation),
		walletAddrs:       make(map[string]wallet.Address),
		walletBySymbol:    make(map[string]string),
		submissions:       make(map[string]kyc.Submission),
		submissionsByAcct: make(map[string][]string),
		orders:            make(map[string]order.Order),
		holdings:          make(map[string]order.Holding),
		priceSnapshots:    make(map[string][]pricefeed.Snapshot),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func symbolKey(accountID, symbol string) string {
	return accountID + "/" + strings.ToUpper(strings.TrimSpace(symbol))
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrDuplicate)
	}
	if acct.BalanceTMN < 0 {
		return account.Account{}, storage.ErrInsufficientFunds
	}
	if acct.KYCStatus == "" {
		acct.KYCStatus = account.KYCStatusNone
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Metadata = cloneMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}

	// Balance and KYC fields have dedicated atomic mutators.
	acct.BalanceTMN = original.BalanceTMN
	acct.KYCLevel = original.KYCLevel
	acct.KYCStatus = original.KYCStatus
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.Metadata = cloneMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return cloneAccount(acct), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, cloneAccount(acct))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) AdjustBalance(_ context.Context, id string, delta int64) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	if acct.BalanceTMN+delta < 0 {
		return account.Account{}, storage.ErrInsufficientFunds
	}

	acct.BalanceTMN += delta
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acct
	return cloneAccount(acct), nil
}

func (s *Store) SetKYC(_ context.Context, id string, level int, status account.KYCStatus) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}

	acct.KYCLevel = level
	acct.KYCStatus = status
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acct
	return cloneAccount(acct), nil
}

// ReservationStore implementation ---------------------------------------------

func (s *Store) ReserveBalance(_ context.Context, res order.Reservation) (order.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[res.AccountID]
	if !ok {
		return order.Reservation{}, fmt.Errorf("account %s: %w", res.AccountID, storage.ErrNotFound)
	}
	if acct.BalanceTMN < res.AmountTMN {
		return order.Reservation{}, storage.ErrInsufficientFunds
	}

	if res.ID == "" {
		res.ID = s.nextIDLocked()
	} else if _, exists := s.reservations[res.ID]; exists {
		return order.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, storage.ErrDuplicate)
	}
	res.Status = order.ReservationHeld
	res.CreatedAt = time.Now().UTC()

	acct.BalanceTMN -= res.AmountTMN
	acct.UpdatedAt = res.CreatedAt
	s.accounts[res.AccountID] = acct
	s.reservations[res.ID] = res
	return res, nil
}

func (s *Store) CreateReservation(_ context.Context, res order.Reservation) (order.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == "" {
		res.ID = s.nextIDLocked()
	} else if _, exists := s.reservations[res.ID]; exists {
		return order.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, storage.ErrDuplicate)
	}
	if res.Status == "" {
		res.Status = order.ReservationHeld
	}

	res.CreatedAt = time.Now().UTC()
	s.reservations[res.ID] = res
	return res, nil
}

func (s *Store) GetReservation(_ context.Context, id string) (order.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[id]
	if !ok {
		return order.Reservation{}, fmt.Errorf("reservation %s: %w", id, storage.ErrNotFound)
	}
	return res, nil
}

func (s *Store) SettleReservation(_ context.Context, id string, outcome order.ReservationStatus) (order.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return order.Reservation{}, fmt.Errorf("reservation %s: %w", id, storage.ErrNotFound)
	}
	if res.Status != order.ReservationHeld {
		return order.Reservation{}, fmt.Errorf("reservation %s already %s: %w", id, res.Status, storage.ErrConflict)
	}

	res.Status = outcome
	res.SettledAt = time.Now().UTC()
	s.reservations[id] = res
	return res, nil
}

func (s *Store) ListReservations(_ context.Context, accountID string) ([]order.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Reservation, 0)
	for _, res := range s.reservations {
		if accountID == "" || res.AccountID == accountID {
			result = append(result, res)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// WalletStore implementation --------------------------------------------------

func (s *Store) CreateWalletAddress(_ context.Context, addr wallet.Address) (wallet.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr.Symbol = strings.ToUpper(strings.TrimSpace(addr.Symbol))
	addr.Address = strings.TrimSpace(addr.Address)

	key := symbolKey(addr.AccountID, addr.Symbol)
	if existing, exists := s.walletBySymbol[key]; exists {
		return wallet.Address{}, fmt.Errorf("address %s already covers %s for account %s: %w",
			existing, addr.Symbol, addr.AccountID, storage.ErrDuplicate)
	}

	if addr.ID == "" {
		addr.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	s.walletAddrs[addr.ID] = addr
	s.walletBySymbol[key] = addr.ID
	return addr, nil
}

func (s *Store) GetWalletAddress(_ context.Context, id string) (wallet.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.walletAddrs[id]
	if !ok {
		return wallet.Address{}, fmt.Errorf("wallet address %s: %w", id, storage.ErrNotFound)
	}
	return addr, nil
}

func (s *Store) GetWalletAddressBySymbol(_ context.Context, accountID, symbol string) (wallet.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.walletBySymbol[symbolKey(accountID, symbol)]
	if !ok {
		return wallet.Address{}, fmt.Errorf("wallet address for %s/%s: %w", accountID, symbol, storage.ErrNotFound)
	}
	return s.walletAddrs[id], nil
}

func (s *Store) UpdateWalletAddress(_ context.Context, addr wallet.Address) (wallet.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.walletAddrs[addr.ID]
	if !ok {
		return wallet.Address{}, fmt.Errorf("wallet address %s: %w", addr.ID, storage.ErrNotFound)
	}

	// Account, symbol and address are immutable once registered; only the
	// verified flag moves.
	original.Verified = addr.Verified
	original.UpdatedAt = time.Now().UTC()
	s.walletAddrs[addr.ID] = original
	return original, nil
}

func (s *Store) DeleteWalletAddress(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.walletAddrs[id]
	if !ok {
		return fmt.Errorf("wallet address %s: %w", id, storage.ErrNotFound)
	}

	delete(s.walletAddrs, id)
	delete(s.walletBySymbol, symbolKey(addr.AccountID, addr.Symbol))
	return nil
}

func (s *Store) ListWalletAddresses(_ context.Context, accountID string) ([]wallet.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]wallet.Address, 0)
	for _, addr := range s.walletAddrs {
		if accountID == "" || addr.AccountID == accountID {
			result = append(result, addr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// KYCStore implementation -----------------------------------------------------

func (s *Store) CreateSubmission(_ context.Context, sub kyc.Submission) (kyc.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = s.nextIDLocked()
	} else if _, exists := s.submissions[sub.ID]; exists {
		return kyc.Submission{}, fmt.Errorf("submission %s: %w", sub.ID, storage.ErrDuplicate)
	}
	if sub.Status == "" {
		sub.Status = kyc.StatusPending
	}

	// One pending submission per account and level, enforced under the lock so
	// racing submits cannot both land.
	if sub.Status == kyc.StatusPending {
		for _, id := range s.submissionsByAcct[sub.AccountID] {
			prev := s.submissions[id]
			if prev.Level == sub.Level && prev.Status == kyc.StatusPending {
				return kyc.Submission{}, fmt.Errorf("pending submission for %s level %d: %w",
					sub.AccountID, sub.Level, storage.ErrDuplicate)
			}
		}
	}

	sub.SubmittedAt = time.Now().UTC()
	sub.Payload = cloneMap(sub.Payload)

	s.submissions[sub.ID] = sub
	s.submissionsByAcct[sub.AccountID] = append(s.submissionsByAcct[sub.AccountID], sub.ID)
	return cloneSubmission(sub), nil
}

func (s *Store) GetSubmission(_ context.Context, id string) (kyc.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return kyc.Submission{}, fmt.Errorf("submission %s: %w", id, storage.ErrNotFound)
	}
	return cloneSubmission(sub), nil
}

// GetSubmissionByLevel returns the most recent submission at the given level.
func (s *Store) GetSubmissionByLevel(_ context.Context, accountID string, level int) (kyc.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.submissionsByAcct[accountID]
	for i := len(ids) - 1; i >= 0; i-- {
		if sub := s.submissions[ids[i]]; sub.Level == level {
			return cloneSubmission(sub), nil
		}
	}
	return kyc.Submission{}, fmt.Errorf("submission for %s level %d: %w", accountID, level, storage.ErrNotFound)
}

func (s *Store) TransitionSubmission(_ context.Context, id string, from, to kyc.Status, mutate func(*kyc.Submission)) (kyc.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return kyc.Submission{}, fmt.Errorf("submission %s: %w", id, storage.ErrNotFound)
	}
	if sub.Status != from {
		return kyc.Submission{}, fmt.Errorf("submission %s is %s: %w", id, sub.Status, storage.ErrConflict)
	}

	sub.Status = to
	if mutate != nil {
		mutate(&sub)
	}
	s.submissions[id] = sub
	return cloneSubmission(sub), nil
}

func (s *Store) ListSubmissions(_ context.Context, accountID string) ([]kyc.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]kyc.Submission, 0)
	if accountID != "" {
		for _, id := range s.submissionsByAcct[accountID] {
			result = append(result, cloneSubmission(s.submissions[id]))
		}
		return result, nil
	}
	for _, sub := range s.submissions {
		result = append(result, cloneSubmission(sub))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListPendingSubmissions(_ context.Context) ([]kyc.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]kyc.Submission, 0)
	for _, sub := range s.submissions {
		if sub.Status == kyc.StatusPending {
			result = append(result, cloneSubmission(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, ord order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ord.ID == "" {
		ord.ID = s.nextIDLocked()
	} else if _, exists := s.orders[ord.ID]; exists {
		return order.Order{}, fmt.Errorf("order %s: %w", ord.ID, storage.ErrDuplicate)
	}
	if ord.Status == "" {
		ord.Status = order.StatusPending
	}

	ord.Symbol = strings.ToUpper(strings.TrimSpace(ord.Symbol))
	ord.CreatedAt = time.Now().UTC()

	s.orders[ord.ID] = ord
	return ord, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ord, ok := s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return ord, nil
}

func (s *Store) TransitionOrder(_ context.Context, id string, from, to order.Status, mutate func(*order.Order)) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	if ord.Status != from {
		return order.Order{}, fmt.Errorf("order %s is %s: %w", id, ord.Status, storage.ErrConflict)
	}

	ord.Status = to
	if mutate != nil {
		mutate(&ord)
	}
	s.orders[id] = ord
	return ord, nil
}

func (s *Store) ListOrders(_ context.Context, accountID string, limit int) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, ord := range s.orders {
		if accountID == "" || ord.AccountID == accountID {
			result = append(result, ord)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListPendingOrders(_ context.Context) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, ord := range s.orders {
		if ord.Status == order.StatusPending {
			result = append(result, ord)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// HoldingStore implementation -------------------------------------------------

func (s *Store) CreditHolding(_ context.Context, h order.Holding) (order.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	key := symbolKey(h.AccountID, h.Symbol)

	existing, ok := s.holdings[key]
	if ok {
		existing.Amount = existing.Amount.Add(h.Amount)
	} else {
		existing = h
	}
	existing.UpdatedAt = time.Now().UTC()
	s.holdings[key] = existing
	return existing, nil
}

func (s *Store) GetHolding(_ context.Context, accountID, symbol string) (order.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[symbolKey(accountID, symbol)]
	if !ok {
		return order.Holding{}, fmt.Errorf("holding %s/%s: %w", accountID, symbol, storage.ErrNotFound)
	}
	return h, nil
}

func (s *Store) ListHoldings(_ context.Context, accountID string) ([]order.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Holding, 0)
	for _, h := range s.holdings {
		if accountID == "" || h.AccountID == accountID {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// PriceStore implementation ---------------------------------------------------

func (s *Store) CreatePriceSnapshot(_ context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = s.nextIDLocked()
	}
	snap.Symbol = strings.ToUpper(strings.TrimSpace(snap.Symbol))
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}

	s.priceSnapshots[snap.Symbol] = append(s.priceSnapshots[snap.Symbol], snap)
	return snap, nil
}

func (s *Store) ListPriceSnapshots(_ context.Context, symbol string, limit int) ([]pricefeed.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.priceSnapshots[strings.ToUpper(strings.TrimSpace(symbol))]
	result := make([]pricefeed.Snapshot, len(snaps))
	copy(result, snaps)
	sort.Slice(result, func(i, j int) bool { return result[i].CollectedAt.After(result[j].CollectedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Helpers ----------------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAccount(acct account.Account) account.Account {
	acct.Metadata = cloneMap(acct.Metadata)
	return acct
}

func cloneSubmission(sub kyc.Submission) kyc.Submission {
	sub.Payload = cloneMap(sub.Payload)
	return sub
}
