// Package escrow implements the marketplace escrow transaction core.
//
// Flow:
//  1. Buyer initiates a purchase → funds authorized-and-held via the gateway
//  2. Buyer and seller meet and each independently confirms the handoff
//  3. Second confirmation → held funds captured, seller paid minus commission
//  4. Either party disputes before completion → held for manual resolution
//  5. Buyer or seller cancels while pending → hold voided
//
// Two confirmations can land at the same instant on different request
// handlers, so every mutation goes through the store's conditional-update
// path; there is no in-process serialization point.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("escrow transaction not found")
	ErrUnauthorized        = errors.New("party is not the buyer or seller of this transaction")
	ErrTerminalState       = errors.New("escrow transaction is in a terminal state")
	ErrAlreadyConfirmed    = errors.New("party has already confirmed this transaction")
	ErrNotPending          = errors.New("escrow transaction is no longer pending")
	ErrSelfTransaction     = errors.New("buyer and seller cannot be the same party")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidMeetingTime  = errors.New("meeting time is required and must be in the future")
	ErrUnsupportedCurrency = errors.New("currency is not supported")

	// ErrVersionConflict is returned by Store.Update when the row changed
	// since it was read. Callers re-read and reapply.
	ErrVersionConflict = errors.New("escrow transaction was modified concurrently")

	// ErrConcurrentModification is surfaced after conflict retries are
	// exhausted. Safe for callers to retry the whole operation.
	ErrConcurrentModification = errors.New("escrow transaction is under concurrent modification, retry")
)

// Status represents the state of an escrow transaction. It is always a pure
// function of the confirmation/dispute/cancel/release fields (see
// DeriveStatus) and is persisted only as a query convenience.
type Status string

const (
	StatusPending         Status = "pending"
	StatusBuyerConfirmed  Status = "buyer_confirmed"
	StatusSellerConfirmed Status = "seller_confirmed"
	StatusCompleted       Status = "completed"
	StatusDisputed        Status = "disputed"
	StatusCancelled       Status = "cancelled"
)

// Transaction is the persisted escrow record. References and money fields
// are immutable after creation; each confirmation timestamp is set at most
// once; records are never deleted.
type Transaction struct {
	ID        string `json:"id"`
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`

	AmountMinor     int64  `json:"amountMinorUnits"`
	Currency        string `json:"currency"`
	CommissionRate  string `json:"commissionRate"` // frozen at creation
	CommissionMinor int64  `json:"commissionMinorUnits"`
	SellerNetMinor  int64  `json:"sellerNetMinorUnits"`

	// AuthRef is the gateway's reference for the held funds. Internal only.
	AuthRef string `json:"-"`

	MeetingLocation string    `json:"meetingLocation,omitempty"`
	MeetingTime     time.Time `json:"meetingTime"`

	BuyerConfirmedAt  *time.Time `json:"buyerConfirmedAt,omitempty"`
	SellerConfirmedAt *time.Time `json:"sellerConfirmedAt,omitempty"`

	DisputeReason   string     `json:"disputeReason,omitempty"`
	DisputedBy      string     `json:"disputedBy,omitempty"`
	DisputeOpenedAt *time.Time `json:"disputeOpenedAt,omitempty"`

	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	FundsReleasedAt *time.Time `json:"fundsReleasedAt,omitempty"`

	Status Status `json:"status"`

	// Version is the optimistic-concurrency counter backing conditional
	// updates. Internal only.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeriveStatus computes the status implied by the transaction's fields.
// Dispute wins over everything, then cancellation; completion requires both
// confirmations and a confirmed capture. Both-confirmed-but-unreleased
// (capture failed, pending retry) reports the first confirmer's one-sided
// status so the transaction publicly stays "awaiting release".
func DeriveStatus(t *Transaction) Status {
	switch {
	case t.DisputeOpenedAt != nil:
		return StatusDisputed
	case t.CancelledAt != nil:
		return StatusCancelled
	case t.BuyerConfirmedAt != nil && t.SellerConfirmedAt != nil:
		if t.FundsReleasedAt != nil {
			return StatusCompleted
		}
		if t.SellerConfirmedAt.Before(*t.BuyerConfirmedAt) {
			return StatusSellerConfirmed
		}
		return StatusBuyerConfirmed
	case t.BuyerConfirmedAt != nil:
		return StatusBuyerConfirmed
	case t.SellerConfirmedAt != nil:
		return StatusSellerConfirmed
	default:
		return StatusPending
	}
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch DeriveStatus(t) {
	case StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// HasParty returns true if id is the buyer or seller of this transaction.
func (t *Transaction) HasParty(id string) bool {
	return id == t.BuyerID || id == t.SellerID
}

// clone returns a deep copy. Transaction holds no reference fields besides
// the timestamp pointers, which are copied.
func (t *Transaction) clone() *Transaction {
	cp := *t
	cp.BuyerConfirmedAt = copyTime(t.BuyerConfirmedAt)
	cp.SellerConfirmedAt = copyTime(t.SellerConfirmedAt)
	cp.DisputeOpenedAt = copyTime(t.DisputeOpenedAt)
	cp.CancelledAt = copyTime(t.CancelledAt)
	cp.FundsReleasedAt = copyTime(t.FundsReleasedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Store persists escrow transactions.
//
// Update is the sole mutation path for existing records and carries the
// conditional-update contract: the write succeeds only if the stored row
// still has expectedVersion, in which case the stored (and tx's) version
// becomes expectedVersion+1. There is no unconditional write path: two
// confirmations racing on the same row must serialize here.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction, expectedVersion int64) error
	ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error)
}
