// Package gateway abstracts the external payment processor.
//
// The escrow core needs exactly three capabilities: place a hold on the
// buyer's payment instrument, capture a held authorization, and void (or
// refund) one. Everything processor-specific lives behind this interface so
// the core never assumes the processor's state matches its own without an
// explicit successful response.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// Authorization is the result of a successful hold.
type Authorization struct {
	// Ref is the processor's reference for the held funds. It is required
	// for capture and void, and is never exposed to API clients.
	Ref string
	// ClientToken is handed to the UI so the buyer can complete any
	// client-side confirmation step (3-D Secure and the like).
	ClientToken string
}

// CaptureReceipt confirms that held funds were actually transferred.
type CaptureReceipt struct {
	Ref         string
	AmountMinor int64
	CapturedAt  time.Time
}

// Receipt confirms a void or refund of a hold.
type Receipt struct {
	Ref         string
	Kind        string // "void" or "refund"
	ProcessedAt time.Time
}

// Error wraps a processor failure with the operation that caused it.
// Callers must treat any Error as "outcome unconfirmed": state may only
// advance on a nil error.
type Error struct {
	Op   string // "authorize", "capture", "void"
	Code string // processor-specific code, best effort
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway is the payment processor port.
//
// All three operations may be slow and may fail; implementations must honor
// ctx deadlines. Callers must not hold any in-process lock while calling.
type Gateway interface {
	// AuthorizeHold reserves amountMinor on the buyer's instrument without
	// transferring it. The hold stays capturable or voidable until resolved.
	AuthorizeHold(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Authorization, error)

	// Capture converts a hold into an actual transfer of funds.
	Capture(ctx context.Context, authRef string) (*CaptureReceipt, error)

	// VoidOrRefund releases a hold back to the buyer. Implementations void
	// when the funds are still held and refund when already captured.
	VoidOrRefund(ctx context.Context, authRef string) (*Receipt, error)
}
