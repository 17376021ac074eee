package escrow

import (
	"testing"
	"time"
)

func ts(offset time.Duration) *time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &t
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name string
		tx   Transaction
		want Status
	}{
		{"fresh", Transaction{}, StatusPending},
		{"buyer confirmed", Transaction{BuyerConfirmedAt: ts(0)}, StatusBuyerConfirmed},
		{"seller confirmed", Transaction{SellerConfirmedAt: ts(0)}, StatusSellerConfirmed},
		{
			"both confirmed and released",
			Transaction{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(time.Minute), FundsReleasedAt: ts(2 * time.Minute)},
			StatusCompleted,
		},
		{
			"both confirmed awaiting release, buyer first",
			Transaction{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(time.Minute)},
			StatusBuyerConfirmed,
		},
		{
			"both confirmed awaiting release, seller first",
			Transaction{SellerConfirmedAt: ts(0), BuyerConfirmedAt: ts(time.Minute)},
			StatusSellerConfirmed,
		},
		{
			"both confirmed awaiting release, same instant",
			Transaction{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(0)},
			StatusBuyerConfirmed,
		},
		{"cancelled", Transaction{CancelledAt: ts(0)}, StatusCancelled},
		{"disputed", Transaction{DisputeOpenedAt: ts(0)}, StatusDisputed},
		{
			"dispute wins over confirmations",
			Transaction{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(time.Minute), DisputeOpenedAt: ts(2 * time.Minute)},
			StatusDisputed,
		},
		{
			"dispute wins even after release",
			Transaction{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(time.Minute), FundsReleasedAt: ts(3 * time.Minute), DisputeOpenedAt: ts(2 * time.Minute)},
			StatusDisputed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(&tt.tx); got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Transaction{
		{DisputeOpenedAt: ts(0)},
		{CancelledAt: ts(0)},
		{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(0), FundsReleasedAt: ts(time.Minute)},
	}
	for _, tx := range terminal {
		if !tx.IsTerminal() {
			t.Errorf("expected %s to be terminal", DeriveStatus(&tx))
		}
	}

	open := []Transaction{
		{},
		{BuyerConfirmedAt: ts(0)},
		{SellerConfirmedAt: ts(0)},
		{BuyerConfirmedAt: ts(0), SellerConfirmedAt: ts(time.Minute)}, // awaiting release
	}
	for _, tx := range open {
		if tx.IsTerminal() {
			t.Errorf("expected %s not to be terminal", DeriveStatus(&tx))
		}
	}
}

func TestHasParty(t *testing.T) {
	tx := Transaction{BuyerID: "usr_buyer1", SellerID: "usr_seller1"}
	if !tx.HasParty("usr_buyer1") || !tx.HasParty("usr_seller1") {
		t.Error("expected buyer and seller to be parties")
	}
	if tx.HasParty("usr_stranger") {
		t.Error("expected stranger not to be a party")
	}
}

func TestClone_IsDeep(t *testing.T) {
	tx := &Transaction{ID: "txn_a", BuyerConfirmedAt: ts(0)}
	cp := tx.clone()

	*cp.BuyerConfirmedAt = cp.BuyerConfirmedAt.Add(time.Hour)
	if tx.BuyerConfirmedAt.Equal(*cp.BuyerConfirmedAt) {
		t.Error("expected clone's timestamps to be independent")
	}
}
