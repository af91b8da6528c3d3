// Package kyc implements the two-tier identity-verification workflow that
// gates trading eligibility.
package kyc

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/arzex/exchange-core/internal/app/domain/account"
	kycdomain "github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/services/accounts"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Errors
var (
	ErrNotFound           = stderrors.New("kyc submission not found")
	ErrInvalidLevel       = stderrors.New("kyc level must be 1 or 2")
	ErrPrerequisiteNotMet = stderrors.New("previous kyc level not approved")
	ErrAlreadyPending     = stderrors.New("kyc submission already pending")
	ErrAlreadyApproved    = stderrors.New("kyc level already approved")
	ErrVerificationFailed = stderrors.New("identity verification failed")
	ErrAlreadyDecided     = stderrors.New("kyc submission already decided")
)

// Service runs the submission side of the KYC state machine. Decisions come
// only from the review gateway, which calls Approve and Reject.
type Service struct {
	accounts *accounts.Service
	store    storage.KYCStore
	verifier IdentityVerifier
	timeout  time.Duration
	log      *logger.Logger
}

// New constructs a KYC service. The verifier is consulted synchronously for
// level-1 submissions with a bounded timeout; a nil verifier accepts every
// submission, which is only suitable for local development.
func New(accountSvc *accounts.Service, store storage.KYCStore, verifier IdentityVerifier, timeout time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("kyc")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if verifier == nil {
		verifier = AcceptAllVerifier{}
		log.Warn("no identity verifier configured; accepting all level-1 submissions")
	}
	return &Service{accounts: accountSvc, store: store, verifier: verifier, timeout: timeout, log: log}
}

// Submit files an identity submission at the given level. Level 2 requires
// level 1 approved on the account. A rejected submission at the same level
// does not block resubmission; a pending or approved one does.
func (s *Service) Submit(ctx context.Context, accountID string, level int, payload map[string]string) (kycdomain.Submission, error) {
	if level != kycdomain.LevelBasic && level != kycdomain.LevelAdvanced {
		return kycdomain.Submission{}, ErrInvalidLevel
	}

	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return kycdomain.Submission{}, err
	}
	if level == kycdomain.LevelAdvanced && acct.KYCLevel < kycdomain.LevelBasic {
		return kycdomain.Submission{}, ErrPrerequisiteNotMet
	}
	if acct.KYCLevel >= level {
		return kycdomain.Submission{}, ErrAlreadyApproved
	}

	if prev, err := s.store.GetSubmissionByLevel(ctx, accountID, level); err == nil {
		switch prev.Status {
		case kycdomain.StatusPending:
			return kycdomain.Submission{}, ErrAlreadyPending
		case kycdomain.StatusApproved:
			return kycdomain.Submission{}, ErrAlreadyApproved
		}
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return kycdomain.Submission{}, err
	}

	// The level-1 identity check is a synchronous black box. A timeout is a
	// verification failure; nothing is persisted referencing a hung call.
	if level == kycdomain.LevelBasic {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		accepted, err := s.verifier.Verify(checkCtx, accountID, payload)
		cancel()
		if err != nil {
			s.log.WithError(err).
				WithField("account_id", accountID).
				Warn("identity verification errored")
			return kycdomain.Submission{}, ErrVerificationFailed
		}
		if !accepted {
			return kycdomain.Submission{}, ErrVerificationFailed
		}
	}

	sub, err := s.store.CreateSubmission(ctx, kycdomain.Submission{
		AccountID: accountID,
		Level:     level,
		Payload:   payload,
		Status:    kycdomain.StatusPending,
	})
	if err != nil {
		// The store holds a uniqueness guard on pending (account, level), so a
		// racing submit that slipped past the read above still loses here.
		if stderrors.Is(err, storage.ErrDuplicate) {
			return kycdomain.Submission{}, ErrAlreadyPending
		}
		return kycdomain.Submission{}, fmt.Errorf("create submission: %w", err)
	}

	if _, err := s.accounts.SetKYC(ctx, accountID, acct.KYCLevel, account.KYCStatusPending); err != nil {
		s.log.WithError(err).WithField("account_id", accountID).Warn("record pending kyc status")
	}

	s.log.WithField("account_id", accountID).
		WithField("submission_id", sub.ID).
		WithField("level", level).
		Info("kyc submission filed")
	return sub, nil
}

// Approve transitions a pending submission to approved and advances the
// account's KYC level to the submission's level. Called by the review gateway.
func (s *Service) Approve(ctx context.Context, submissionID, note string) (kycdomain.Submission, error) {
	now := time.Now().UTC()
	sub, err := s.store.TransitionSubmission(ctx, submissionID, kycdomain.StatusPending, kycdomain.StatusApproved,
		func(sub *kycdomain.Submission) {
			sub.AdminNote = note
			sub.DecidedAt = now
		})
	if err != nil {
		return kycdomain.Submission{}, s.mapTransitionErr(err)
	}

	if _, err := s.accounts.SetKYC(ctx, sub.AccountID, sub.Level, account.KYCStatusApproved); err != nil {
		return kycdomain.Submission{}, fmt.Errorf("advance kyc level: %w", err)
	}

	s.log.WithField("submission_id", submissionID).
		WithField("account_id", sub.AccountID).
		WithField("level", sub.Level).
		Info("kyc submission approved")
	return sub, nil
}

// Reject transitions a pending submission to rejected, clearing the stored
// payload so the documents are not retrievable and the level can be
// resubmitted. Called by the review gateway.
func (s *Service) Reject(ctx context.Context, submissionID, note string) (kycdomain.Submission, error) {
	now := time.Now().UTC()
	sub, err := s.store.TransitionSubmission(ctx, submissionID, kycdomain.StatusPending, kycdomain.StatusRejected,
		func(sub *kycdomain.Submission) {
			sub.Payload = nil
			sub.AdminNote = note
			sub.DecidedAt = now
		})
	if err != nil {
		return kycdomain.Submission{}, s.mapTransitionErr(err)
	}

	acct, err := s.accounts.Get(ctx, sub.AccountID)
	if err == nil {
		if _, err := s.accounts.SetKYC(ctx, sub.AccountID, acct.KYCLevel, account.KYCStatusRejected); err != nil {
			s.log.WithError(err).WithField("account_id", sub.AccountID).Warn("record rejected kyc status")
		}
	}

	s.log.WithField("submission_id", submissionID).
		WithField("account_id", sub.AccountID).
		WithField("level", sub.Level).
		Info("kyc submission rejected")
	return sub, nil
}

func (s *Service) mapTransitionErr(err error) error {
	switch {
	case stderrors.Is(err, storage.ErrConflict):
		return ErrAlreadyDecided
	case stderrors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}

// Get retrieves a submission by identifier.
func (s *Service) Get(ctx context.Context, id string) (kycdomain.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return kycdomain.Submission{}, ErrNotFound
		}
		return kycdomain.Submission{}, err
	}
	return sub, nil
}

// List returns submissions for an account, newest last.
func (s *Service) List(ctx context.Context, accountID string) ([]kycdomain.Submission, error) {
	return s.store.ListSubmissions(ctx, accountID)
}

// ListPending returns the review queue.
func (s *Service) ListPending(ctx context.Context) ([]kycdomain.Submission, error) {
	return s.store.ListPendingSubmissions(ctx)
}
