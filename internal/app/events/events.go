// Package events carries domain events out of the core. Delivery is
// fire-and-forget: the ledger emits and moves on, and a slow or absent
// consumer never blocks a decision.
package events

import (
	"time"

	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
)

// Event is any domain event published on the bus.
type Event interface {
	Kind() string
}

// OrderDecided is emitted when the review gateway moves an order to a
// terminal state.
type OrderDecided struct {
	OrderID   string
	AccountID string
	Status    order.Status
	DecidedAt time.Time
}

func (OrderDecided) Kind() string { return "order_decided" }

// KYCDecided is emitted when the review gateway decides a KYC submission.
type KYCDecided struct {
	SubmissionID string
	AccountID    string
	Level        int
	Status       kyc.Status
	DecidedAt    time.Time
}

func (KYCDecided) Kind() string { return "kyc_decided" }
