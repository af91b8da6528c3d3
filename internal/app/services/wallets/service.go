// Package wallets implements the withdrawal address registry. A verified
// address for a symbol is what makes that symbol buyable for an account.
package wallets

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/arzex/exchange-core/internal/app/domain/wallet"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Errors
var (
	ErrNotFound         = stderrors.New("wallet address not found")
	ErrDuplicateAddress = stderrors.New("address already registered for symbol")
	ErrInvalidAddress   = stderrors.New("symbol and address are required")
)

// Service manages per-account withdrawal addresses.
type Service struct {
	accounts storage.AccountStore
	store    storage.WalletStore
	log      *logger.Logger
}

// New constructs a wallet address registry.
func New(accounts storage.AccountStore, store storage.WalletStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallets")
	}
	return &Service{accounts: accounts, store: store, log: log}
}

// Add registers an address for (account, symbol). At most one address may
// exist per pair; a second registration fails with ErrDuplicateAddress.
func (s *Service) Add(ctx context.Context, accountID, symbol, address string) (wallet.Address, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	address = strings.TrimSpace(address)
	if symbol == "" || address == "" {
		return wallet.Address{}, ErrInvalidAddress
	}

	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return wallet.Address{}, fmt.Errorf("account validation: %w", err)
	}

	created, err := s.store.CreateWalletAddress(ctx, wallet.Address{
		AccountID: accountID,
		Symbol:    symbol,
		Address:   address,
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return wallet.Address{}, ErrDuplicateAddress
		}
		return wallet.Address{}, fmt.Errorf("create wallet address: %w", err)
	}

	s.log.WithField("account_id", accountID).
		WithField("symbol", symbol).
		WithField("address_id", created.ID).
		Info("wallet address registered")
	return created, nil
}

// GetVerified returns the verified address for (account, symbol). It fails
// with ErrNotFound both when no address exists and when one exists but is not
// verified; "not tradeable" is the only fact callers need.
func (s *Service) GetVerified(ctx context.Context, accountID, symbol string) (wallet.Address, error) {
	addr, err := s.store.GetWalletAddressBySymbol(ctx, accountID, symbol)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return wallet.Address{}, ErrNotFound
		}
		return wallet.Address{}, err
	}
	if !addr.Verified {
		return wallet.Address{}, ErrNotFound
	}
	return addr, nil
}

// Verify marks an address as verified. This is the administrative action the
// review surface exposes; the registry itself never sets the flag.
func (s *Service) Verify(ctx context.Context, id string) (wallet.Address, error) {
	addr, err := s.store.GetWalletAddress(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return wallet.Address{}, ErrNotFound
		}
		return wallet.Address{}, err
	}

	addr.Verified = true
	updated, err := s.store.UpdateWalletAddress(ctx, addr)
	if err != nil {
		return wallet.Address{}, fmt.Errorf("verify wallet address: %w", err)
	}

	s.log.WithField("address_id", id).
		WithField("account_id", updated.AccountID).
		WithField("symbol", updated.Symbol).
		Info("wallet address verified")
	return updated, nil
}

// Remove deletes an address so a replacement can be registered. The address
// must belong to accountID; a foreign address reads as not found.
func (s *Service) Remove(ctx context.Context, accountID, id string) error {
	addr, err := s.store.GetWalletAddress(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if addr.AccountID != accountID {
		return ErrNotFound
	}
	if err := s.store.DeleteWalletAddress(ctx, id); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.log.WithField("address_id", id).Info("wallet address removed")
	return nil
}

// List returns all addresses for an account.
func (s *Service) List(ctx context.Context, accountID string) ([]wallet.Address, error) {
	return s.store.ListWalletAddresses(ctx, accountID)
}
