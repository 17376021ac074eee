package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meetmarket/escrow-engine/internal/idgen"
)

type holdState string

const (
	holdHeld     holdState = "held"
	holdCaptured holdState = "captured"
	holdVoided   holdState = "voided"
	holdRefunded holdState = "refunded"
)

type hold struct {
	amountMinor int64
	currency    string
	state       holdState
}

// Memory is an in-process gateway for demo/development mode and tests.
// Every operation succeeds; holds live in a map keyed by reference.
type Memory struct {
	mu    sync.Mutex
	holds map[string]*hold

	captures int
}

// NewMemory creates a new in-memory gateway.
func NewMemory() *Memory {
	return &Memory{holds: make(map[string]*hold)}
}

func (m *Memory) AuthorizeHold(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Authorization, error) {
	if amountMinor <= 0 {
		return nil, &Error{Op: "authorize", Code: "invalid_amount", Err: errors.New("amount must be positive")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := idgen.WithPrefix("auth_")
	m.holds[ref] = &hold{amountMinor: amountMinor, currency: currency, state: holdHeld}

	return &Authorization{
		Ref:         ref,
		ClientToken: idgen.WithPrefix("tok_"),
	}, nil
}

func (m *Memory) Capture(ctx context.Context, authRef string) (*CaptureReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[authRef]
	if !ok {
		return nil, &Error{Op: "capture", Code: "not_found", Err: errors.New("unknown authorization")}
	}
	if h.state != holdHeld {
		return nil, &Error{Op: "capture", Code: "invalid_state", Err: errors.New("authorization not capturable: " + string(h.state))}
	}

	h.state = holdCaptured
	m.captures++

	return &CaptureReceipt{Ref: authRef, AmountMinor: h.amountMinor, CapturedAt: time.Now()}, nil
}

func (m *Memory) VoidOrRefund(ctx context.Context, authRef string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[authRef]
	if !ok {
		return nil, &Error{Op: "void", Code: "not_found", Err: errors.New("unknown authorization")}
	}

	switch h.state {
	case holdHeld:
		h.state = holdVoided
		return &Receipt{Ref: authRef, Kind: "void", ProcessedAt: time.Now()}, nil
	case holdCaptured:
		h.state = holdRefunded
		return &Receipt{Ref: authRef, Kind: "refund", ProcessedAt: time.Now()}, nil
	default:
		return nil, &Error{Op: "void", Code: "invalid_state", Err: errors.New("authorization already resolved: " + string(h.state))}
	}
}

// Captures reports how many holds have been captured. Used by tests to
// assert the exactly-once release guarantee.
func (m *Memory) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

// HoldState reports the state of a hold, or "" if unknown.
func (m *Memory) HoldState(authRef string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[authRef]; ok {
		return string(h.state)
	}
	return ""
}

// Compile-time assertion that Memory implements Gateway.
var _ Gateway = (*Memory)(nil)
