package pricefeed

import "time"

// Snapshot captures a recorded quote for a symbol. Snapshots are reporting
// material only; order creation always quotes the feed synchronously.
type Snapshot struct {
	ID          string
	Symbol      string
	PriceTMN    int64
	Source      string
	CollectedAt time.Time
	CreatedAt   time.Time
}
