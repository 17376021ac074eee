package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/meetmarket/escrow-engine/internal/gateway"
	"github.com/meetmarket/escrow-engine/internal/idgen"
	"github.com/meetmarket/escrow-engine/internal/logging"
	"github.com/meetmarket/escrow-engine/internal/metrics"
	"github.com/meetmarket/escrow-engine/internal/money"
	"github.com/meetmarket/escrow-engine/internal/retry"
	"github.com/meetmarket/escrow-engine/internal/traces"
)

const (
	// casMaxAttempts bounds how many times a mutation re-reads and retries
	// after losing a version race before giving up.
	casMaxAttempts = 5
	casBaseDelay   = 5 * time.Millisecond

	defaultListLimit = 50
	maxListLimit     = 200
)

// Config holds the service's business parameters.
type Config struct {
	// CommissionRate is the platform's cut as a decimal string ("0.08").
	// Applied to new transactions only; existing records keep the rate
	// frozen at their creation.
	CommissionRate string
	Currency       string
	GatewayTimeout time.Duration
}

// CreateRequest carries the fields needed to open an escrow transaction.
type CreateRequest struct {
	ListingID   string
	BuyerID     string
	SellerID    string
	AmountMinor int64
	// Currency is optional; empty means the service's configured currency.
	// A non-empty value must match it (compared case-insensitively).
	Currency        string
	MeetingLocation string
	MeetingTime     time.Time
}

// Service implements the escrow transaction lifecycle.
type Service struct {
	store          Store
	gw             gateway.Gateway
	rate           *big.Rat
	rateStr        string
	currency       string
	gatewayTimeout time.Duration
}

// NewService creates the escrow service. The commission rate is parsed once
// here; a malformed rate is a deployment error, not a per-request one.
func NewService(store Store, gw gateway.Gateway, cfg Config) (*Service, error) {
	rate, err := money.ParseRate(cfg.CommissionRate)
	if err != nil {
		return nil, fmt.Errorf("commission rate: %w", err)
	}
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		store:          store,
		gw:             gw,
		rate:           rate,
		rateStr:        cfg.CommissionRate,
		currency:       cfg.Currency,
		gatewayTimeout: timeout,
	}, nil
}

// Create opens a new escrow transaction. The commission split is computed
// and frozen up front, and the buyer's funds are authorized-and-held before
// anything is persisted: if the hold fails, no record exists; if the record
// write fails, the hold is voided best-effort. The returned client token
// lets the buyer's UI finish confirming the payment method.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, string, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		traces.AmountMinor(req.AmountMinor),
	)
	defer span.End()

	if req.AmountMinor <= 0 {
		return nil, "", ErrInvalidAmount
	}
	if req.BuyerID == req.SellerID {
		return nil, "", ErrSelfTransaction
	}
	if req.MeetingTime.IsZero() || !req.MeetingTime.After(time.Now()) {
		return nil, "", ErrInvalidMeetingTime
	}
	// The requested currency must match the deployment's settlement
	// currency; the stored value is always the normalized lowercase form.
	currency := s.currency
	if req.Currency != "" && !strings.EqualFold(req.Currency, s.currency) {
		return nil, "", fmt.Errorf("%w: %q (this deployment settles in %q)",
			ErrUnsupportedCurrency, req.Currency, s.currency)
	}

	commission, sellerNet, err := money.Compute(req.AmountMinor, s.rate)
	if err != nil {
		return nil, "", err
	}

	id := idgen.WithPrefix("txn_")

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	auth, err := s.gw.AuthorizeHold(gctx, req.AmountMinor, currency, map[string]string{
		"transaction_id": id,
		"listing_id":     req.ListingID,
		"buyer_id":       req.BuyerID,
	})
	if err != nil {
		metrics.GatewayFailuresTotal.WithLabelValues("authorize").Inc()
		return nil, "", fmt.Errorf("authorize hold: %w", err)
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:              id,
		ListingID:       req.ListingID,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		AmountMinor:     req.AmountMinor,
		Currency:        currency,
		CommissionRate:  s.rateStr,
		CommissionMinor: commission,
		SellerNetMinor:  sellerNet,
		AuthRef:         auth.Ref,
		MeetingLocation: req.MeetingLocation,
		MeetingTime:     req.MeetingTime,
		Status:          StatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, tx); err != nil {
		// Don't strand the buyer's money behind a record that doesn't exist.
		s.voidBestEffort(ctx, tx, "create rollback")
		return nil, "", fmt.Errorf("persist transaction: %w", err)
	}

	metrics.EscrowCreatedTotal.Inc()
	logging.L(ctx).Info("escrow transaction created",
		"transaction_id", tx.ID,
		"listing_id", tx.ListingID,
		"amount_minor", tx.AmountMinor,
		"commission_minor", tx.CommissionMinor)

	return tx, auth.ClientToken, nil
}

// Confirm records partyID's confirmation of the handoff. When it is the
// second confirmation, the held funds are captured and the transaction
// completes; fundsReleased reports whether that happened on this call.
//
// If an earlier second confirmation captured nothing (gateway failure), the
// confirming party may call again: the confirmation itself is idempotent-ish
// in that exact case, and only the release step is re-run.
func (s *Service) Confirm(ctx context.Context, id, partyID string) (*Transaction, bool, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Confirm",
		traces.TransactionID(id),
		traces.PartyID(partyID),
	)
	defer span.End()

	var tx *Transaction

	err := retry.Do(ctx, casMaxAttempts, casBaseDelay, func() error {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if !cur.HasParty(partyID) {
			return retry.Permanent(ErrUnauthorized)
		}
		if cur.IsTerminal() {
			return retry.Permanent(ErrTerminalState)
		}

		now := time.Now().UTC()
		isBuyer := partyID == cur.BuyerID

		already := (isBuyer && cur.BuyerConfirmedAt != nil) ||
			(!isBuyer && cur.SellerConfirmedAt != nil)
		if already {
			otherConfirmed := (isBuyer && cur.SellerConfirmedAt != nil) ||
				(!isBuyer && cur.BuyerConfirmedAt != nil)
			if otherConfirmed && cur.FundsReleasedAt == nil {
				// Stuck release from an earlier failed capture; nothing to
				// write, go straight to the release step.
				tx = cur
				return nil
			}
			return retry.Permanent(ErrAlreadyConfirmed)
		}

		if isBuyer {
			cur.BuyerConfirmedAt = &now
		} else {
			cur.SellerConfirmedAt = &now
		}
		cur.Status = DeriveStatus(cur)
		cur.UpdatedAt = now

		if err := s.store.Update(ctx, cur, cur.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		tx = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, false, ErrConcurrentModification
		}
		return nil, false, err
	}

	logging.L(ctx).Info("escrow confirmation recorded",
		"transaction_id", tx.ID,
		"party_id", partyID)

	if tx.BuyerConfirmedAt == nil || tx.SellerConfirmedAt == nil {
		return tx, false, nil
	}
	return s.release(ctx, tx)
}

// release captures the held funds and records the release. tx must have
// both confirmations. Called without any lock held: the capture is the slow
// external call, and the exactly-once guarantee comes from the gateway
// refusing to capture twice plus the version check on the surrounding
// writes.
func (s *Service) release(ctx context.Context, tx *Transaction) (*Transaction, bool, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release",
		traces.TransactionID(tx.ID),
		traces.GatewayOp("capture"),
	)
	defer span.End()

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	receipt, err := s.gw.Capture(gctx, tx.AuthRef)
	if err != nil {
		// Another request may have raced us through the release; the hold
		// can only be captured once, so check whether the record already
		// says released before reporting failure.
		if cur, getErr := s.store.Get(ctx, tx.ID); getErr == nil && cur.FundsReleasedAt != nil {
			return cur, false, nil
		}
		metrics.GatewayFailuresTotal.WithLabelValues("capture").Inc()
		logging.L(ctx).Warn("funds capture failed, confirmation kept",
			"transaction_id", tx.ID,
			"error", err)
		return tx, false, fmt.Errorf("capture funds: %w", err)
	}

	releasedAt := receipt.CapturedAt.UTC()

	err = retry.Do(ctx, casMaxAttempts, casBaseDelay, func() error {
		cur, err := s.store.Get(ctx, tx.ID)
		if err != nil {
			return retry.Permanent(err)
		}
		if cur.FundsReleasedAt != nil {
			tx = cur
			return nil
		}
		if cur.DisputeOpenedAt != nil {
			// A dispute raced the capture. The money has moved; record that
			// truthfully, but the dispute still owns the final status.
			logging.L(ctx).Warn("funds captured on disputed transaction",
				"transaction_id", cur.ID,
				"disputed_by", cur.DisputedBy)
		}
		cur.FundsReleasedAt = &releasedAt
		cur.Status = DeriveStatus(cur)
		cur.UpdatedAt = time.Now().UTC()

		if err := s.store.Update(ctx, cur, cur.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		tx = cur
		return nil
	})
	if err != nil {
		// Money moved but the record doesn't say so. This needs an operator.
		logging.L(ctx).Error("CRITICAL: funds captured but release not recorded",
			"transaction_id", tx.ID,
			"capture_ref", receipt.Ref,
			"error", err)
		tx = tx.clone()
		tx.FundsReleasedAt = &releasedAt
		tx.Status = DeriveStatus(tx)
		return tx, true, nil
	}

	if DeriveStatus(tx) == StatusCompleted {
		metrics.EscrowCompletedTotal.Inc()
	}
	logging.L(ctx).Info("escrow funds released",
		"transaction_id", tx.ID,
		"seller_net_minor", tx.SellerNetMinor)
	return tx, true, nil
}

// Dispute freezes a transaction for manual resolution. Allowed from any
// non-terminal state; the held funds stay with the gateway untouched.
func (s *Service) Dispute(ctx context.Context, id, partyID, reason string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Dispute",
		traces.TransactionID(id),
		traces.PartyID(partyID),
	)
	defer span.End()

	var tx *Transaction

	err := retry.Do(ctx, casMaxAttempts, casBaseDelay, func() error {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if !cur.HasParty(partyID) {
			return retry.Permanent(ErrUnauthorized)
		}
		if cur.IsTerminal() {
			return retry.Permanent(ErrTerminalState)
		}

		now := time.Now().UTC()
		cur.DisputeOpenedAt = &now
		cur.DisputedBy = partyID
		cur.DisputeReason = reason
		cur.Status = DeriveStatus(cur)
		cur.UpdatedAt = now

		if err := s.store.Update(ctx, cur, cur.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		tx = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrConcurrentModification
		}
		return nil, err
	}

	metrics.EscrowDisputedTotal.Inc()
	logging.L(ctx).Info("escrow transaction disputed",
		"transaction_id", tx.ID,
		"disputed_by", partyID)
	return tx, nil
}

// Cancel backs out of a pending transaction and voids the hold. The record
// is cancelled first so racing confirmations lose the version race cleanly;
// only then is the gateway asked to void. A void failure leaves the record
// cancelled: the hold will expire on the processor's side regardless, and
// the one thing that must never happen is the seller being paid.
func (s *Service) Cancel(ctx context.Context, id, partyID string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Cancel",
		traces.TransactionID(id),
		traces.PartyID(partyID),
	)
	defer span.End()

	var tx *Transaction

	err := retry.Do(ctx, casMaxAttempts, casBaseDelay, func() error {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if !cur.HasParty(partyID) {
			return retry.Permanent(ErrUnauthorized)
		}
		if cur.IsTerminal() {
			return retry.Permanent(ErrTerminalState)
		}
		if DeriveStatus(cur) != StatusPending {
			return retry.Permanent(ErrNotPending)
		}

		now := time.Now().UTC()
		cur.CancelledAt = &now
		cur.Status = DeriveStatus(cur)
		cur.UpdatedAt = now

		if err := s.store.Update(ctx, cur, cur.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		tx = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrConcurrentModification
		}
		return nil, err
	}

	metrics.EscrowCancelledTotal.Inc()
	logging.L(ctx).Info("escrow transaction cancelled",
		"transaction_id", tx.ID,
		"cancelled_by", partyID)

	s.voidBestEffort(ctx, tx, "cancel")
	return tx, nil
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns the transactions where partyID is buyer or seller,
// most recent first.
func (s *Service) ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListByParty(ctx, partyID, limit)
}

func (s *Service) voidBestEffort(ctx context.Context, tx *Transaction, cause string) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.gatewayTimeout)
	defer cancel()

	if _, err := s.gw.VoidOrRefund(gctx, tx.AuthRef); err != nil {
		metrics.GatewayFailuresTotal.WithLabelValues("void").Inc()
		logging.L(ctx).Warn("hold void failed",
			"transaction_id", tx.ID,
			"cause", cause,
			"error", err)
	}
}
