package wallet

import "time"

// Address is a per-account withdrawal address for one coin symbol. At most one
// address exists per (account, symbol) pair. Verified is flipped only by an
// administrative action; the order ledger reads it and nothing else.
type Address struct {
	ID        string
	AccountID string
	Symbol    string
	Address   string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
