package account

import "time"

// KYCStatus tracks where an account sits in the identity-verification flow.
type KYCStatus string

const (
	KYCStatusNone     KYCStatus = "none"
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusApproved KYCStatus = "approved"
	KYCStatusRejected KYCStatus = "rejected"
)

// Account represents a customer of the exchange. BalanceTMN is held in TMN
// minor units and is never negative; it is mutated only through the account
// service's atomic balance operations. KYCLevel is the single source of truth
// for trading eligibility and advances only on an admin approval.
type Account struct {
	ID         string
	Owner      string
	BalanceTMN int64
	KYCLevel   int
	KYCStatus  KYCStatus
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
