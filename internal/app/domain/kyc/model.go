package kyc

import "time"

// Status is the lifecycle state of a submission. Rejected submissions may be
// replaced by a fresh submission of the same level.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Submission levels supported by the workflow.
const (
	LevelBasic    = 1
	LevelAdvanced = 2
)

// Submission is one identity-verification attempt at a given level. Payload
// holds the opaque identity documents; it is cleared when the submission is
// rejected so the documents are not retrievable afterwards.
type Submission struct {
	ID          string
	AccountID   string
	Level       int
	Payload     map[string]string
	Status      Status
	AdminNote   string
	SubmittedAt time.Time
	DecidedAt   time.Time
}
