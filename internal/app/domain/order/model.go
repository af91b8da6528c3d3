package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type distinguishes how an order's TMN value is computed. Buy orders carry a
// TMN spend amount; sell and trade orders carry a crypto quantity priced at
// the quote captured when the order was created.
type Type string

const (
	TypeBuy   Type = "buy"
	TypeSell  Type = "sell"
	TypeTrade Type = "trade"
)

// Status is the order lifecycle state. Only the review gateway moves an order
// out of pending, and completed/rejected are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Order is a trade request awaiting (or past) admin review. TotalValueTMN is
// the amount reserved against the owner's balance at creation time and
// PriceAtOrder is the feed quote snapshotted in the same request.
type Order struct {
	ID            string
	AccountID     string
	Type          Type
	Symbol        string
	AmountTMN     int64
	AmountCrypto  decimal.Decimal
	PriceAtOrder  int64
	TotalValueTMN int64
	ReservationID string
	Status        Status
	AdminNote     string
	CreatedAt     time.Time
	DecidedAt     time.Time
}

// ReservationStatus tracks settlement of a balance hold.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationFinalized ReservationStatus = "finalized"
	ReservationRefunded  ReservationStatus = "refunded"
)

// Reservation is a single-use hold taken against an account balance when an
// order is created. Exactly one of finalize/refund may settle it.
type Reservation struct {
	ID        string
	AccountID string
	AmountTMN int64
	Status    ReservationStatus
	CreatedAt time.Time
	SettledAt time.Time
}

// Holding is the accumulated crypto position per account and symbol, credited
// only when a buy or trade order completes.
type Holding struct {
	AccountID string
	Symbol    string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}
