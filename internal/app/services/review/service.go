// Package review implements the admin review gateway, the only actor that
// moves orders and KYC submissions out of pending.
package review

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	kycdomain "github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/events"
	"github.com/arzex/exchange-core/internal/app/metrics"
	"github.com/arzex/exchange-core/internal/app/services/accounts"
	kycsvc "github.com/arzex/exchange-core/internal/app/services/kyc"
	"github.com/arzex/exchange-core/internal/app/storage"
	"github.com/arzex/exchange-core/internal/errors"
	"github.com/arzex/exchange-core/pkg/logger"
)

// Action is an admin decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Errors
var (
	ErrNotFound       = stderrors.New("order not found")
	ErrAlreadyDecided = stderrors.New("already decided")
	ErrInvalidAction  = stderrors.New("action must be approve or reject")
)

// Service decides pending orders and KYC submissions. The compare-and-set on
// status is the double-decision guard: the losing caller of two concurrent
// decisions gets ErrAlreadyDecided and performs no balance mutation.
type Service struct {
	accounts *accounts.Service
	kyc      *kycsvc.Service
	orders   storage.OrderStore
	holdings storage.HoldingStore
	bus      *events.Bus
	log      *logger.Logger
}

// New constructs the review gateway.
func New(accountSvc *accounts.Service, kycService *kycsvc.Service, orders storage.OrderStore, holdings storage.HoldingStore, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("review")
	}
	return &Service{
		accounts: accountSvc,
		kyc:      kycService,
		orders:   orders,
		holdings: holdings,
		bus:      bus,
		log:      log,
	}
}

// Decide settles a pending order. Approve finalizes the reservation and
// credits the holding for buy/trade orders; reject refunds the reservation.
// Both outcomes are terminal.
func (s *Service) Decide(ctx context.Context, orderID string, action Action, note string) (order.Order, error) {
	target, err := terminalStatus(action)
	if err != nil {
		return order.Order{}, err
	}

	now := time.Now().UTC()
	ord, err := s.orders.TransitionOrder(ctx, orderID, order.StatusPending, target,
		func(ord *order.Order) {
			ord.AdminNote = note
			ord.DecidedAt = now
		})
	if err != nil {
		switch {
		case stderrors.Is(err, storage.ErrConflict):
			return order.Order{}, ErrAlreadyDecided
		case stderrors.Is(err, storage.ErrNotFound):
			return order.Order{}, ErrNotFound
		default:
			return order.Order{}, err
		}
	}

	// Past the CAS this caller owns the decision. A settlement failure here
	// is a ledger fault, not a request error.
	if action == ActionApprove {
		if _, err := s.accounts.Finalize(ctx, ord.ReservationID); err != nil {
			return order.Order{}, errors.Internal(
				fmt.Sprintf("finalize reservation %s for order %s", ord.ReservationID, orderID), err)
		}
		if ord.Type == order.TypeBuy || ord.Type == order.TypeTrade {
			if err := s.creditHolding(ctx, ord); err != nil {
				return order.Order{}, errors.Internal(
					fmt.Sprintf("credit holding for order %s", orderID), err)
			}
		}
	} else {
		if _, err := s.accounts.Refund(ctx, ord.ReservationID); err != nil {
			return order.Order{}, errors.Internal(
				fmt.Sprintf("refund reservation %s for order %s", ord.ReservationID, orderID), err)
		}
	}

	metrics.RecordOrderDecision(string(action))
	s.bus.Publish(events.OrderDecided{
		OrderID:   ord.ID,
		AccountID: ord.AccountID,
		Status:    ord.Status,
		DecidedAt: now,
	})

	s.log.WithField("order_id", orderID).
		WithField("account_id", ord.AccountID).
		WithField("action", string(action)).
		Info("order decided")
	return ord, nil
}

// DecideKYC settles a pending KYC submission. Approve advances the account's
// KYC level to the submission's level; reject clears the payload so the same
// level can be resubmitted.
func (s *Service) DecideKYC(ctx context.Context, submissionID string, action Action, note string) (kycdomain.Submission, error) {
	if action != ActionApprove && action != ActionReject {
		return kycdomain.Submission{}, ErrInvalidAction
	}

	var (
		sub kycdomain.Submission
		err error
	)
	if action == ActionApprove {
		sub, err = s.kyc.Approve(ctx, submissionID, note)
	} else {
		sub, err = s.kyc.Reject(ctx, submissionID, note)
	}
	if err != nil {
		if stderrors.Is(err, kycsvc.ErrAlreadyDecided) {
			return kycdomain.Submission{}, ErrAlreadyDecided
		}
		return kycdomain.Submission{}, err
	}

	metrics.RecordKYCDecision(string(action))
	s.bus.Publish(events.KYCDecided{
		SubmissionID: sub.ID,
		AccountID:    sub.AccountID,
		Level:        sub.Level,
		Status:       sub.Status,
		DecidedAt:    sub.DecidedAt,
	})

	s.log.WithField("submission_id", submissionID).
		WithField("account_id", sub.AccountID).
		WithField("level", sub.Level).
		WithField("action", string(action)).
		Info("kyc submission decided")
	return sub, nil
}

func (s *Service) creditHolding(ctx context.Context, ord order.Order) error {
	amount := ord.AmountCrypto
	if ord.Type == order.TypeBuy {
		// Crypto quantity bought: TMN spent at the snapshotted price.
		amount = decimal.NewFromInt(ord.TotalValueTMN).
			Div(decimal.NewFromInt(ord.PriceAtOrder)).
			Round(8)
	}

	_, err := s.holdings.CreditHolding(ctx, order.Holding{
		AccountID: ord.AccountID,
		Symbol:    ord.Symbol,
		Amount:    amount,
	})
	return err
}

func terminalStatus(action Action) (order.Status, error) {
	switch action {
	case ActionApprove:
		return order.StatusCompleted, nil
	case ActionReject:
		return order.StatusRejected, nil
	default:
		return "", ErrInvalidAction
	}
}

