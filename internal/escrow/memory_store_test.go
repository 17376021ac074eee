package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newStoredTx(t *testing.T, s Store, id, buyer, seller string) *Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := &Transaction{
		ID:          id,
		ListingID:   "lst_listing1",
		BuyerID:     buyer,
		SellerID:    seller,
		AmountMinor: 10000,
		Currency:    "usd",
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Create(context.Background(), tx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tx
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	tx := newStoredTx(t, s, "txn_mem1", "usr_buyer1", "usr_seller1")

	got, err := s.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != tx.ID || got.Version != 1 {
		t.Errorf("got id=%s version=%d", got.ID, got.Version)
	}

	if _, err := s.Get(context.Background(), "txn_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	newStoredTx(t, s, "txn_dup1", "usr_buyer1", "usr_seller1")

	dup := &Transaction{ID: "txn_dup1", Version: 1}
	if err := s.Create(context.Background(), dup); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for duplicate create, got %v", err)
	}
}

func TestMemoryStore_UpdateVersionCheck(t *testing.T) {
	s := NewMemoryStore()
	tx := newStoredTx(t, s, "txn_cas1", "usr_buyer1", "usr_seller1")
	ctx := context.Background()

	now := time.Now().UTC()
	tx.BuyerConfirmedAt = &now
	tx.Status = DeriveStatus(tx)
	if err := s.Update(ctx, tx, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if tx.Version != 2 {
		t.Errorf("version = %d, want 2", tx.Version)
	}

	// A writer holding the old version must lose.
	stale := tx.clone()
	if err := s.Update(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for stale version, got %v", err)
	}

	got, err := s.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 || got.BuyerConfirmedAt == nil {
		t.Errorf("stored version=%d buyerConfirmedAt=%v", got.Version, got.BuyerConfirmedAt)
	}

	if err := s.Update(ctx, &Transaction{ID: "txn_missing"}, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	tx := newStoredTx(t, s, "txn_copy1", "usr_buyer1", "usr_seller1")
	ctx := context.Background()

	got, _ := s.Get(ctx, tx.ID)
	now := time.Now().UTC()
	got.CancelledAt = &now
	got.Status = StatusCancelled

	fresh, _ := s.Get(ctx, tx.ID)
	if fresh.CancelledAt != nil || fresh.Status != StatusPending {
		t.Error("mutating a returned transaction leaked into the store")
	}
}

func TestMemoryStore_ListByParty(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		tx := &Transaction{
			ID:        fmt.Sprintf("txn_list%d", i),
			BuyerID:   "usr_buyer1",
			SellerID:  "usr_seller1",
			Status:    StatusPending,
			Version:   1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}
		if err := s.Create(ctx, tx); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	newStoredTx(t, s, "txn_other1", "usr_other1", "usr_other2")

	txs, err := s.ListByParty(ctx, "usr_buyer1", 3)
	if err != nil {
		t.Fatalf("ListByParty: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("len = %d, want 3", len(txs))
	}
	// Most recent first.
	if txs[0].ID != "txn_list4" || txs[2].ID != "txn_list2" {
		t.Errorf("unexpected order: %s ... %s", txs[0].ID, txs[2].ID)
	}

	txs, _ = s.ListByParty(ctx, "usr_seller1", 50)
	if len(txs) != 5 {
		t.Errorf("seller list len = %d, want 5", len(txs))
	}

	txs, _ = s.ListByParty(ctx, "usr_nobody1", 50)
	if len(txs) != 0 {
		t.Errorf("expected empty list, got %d", len(txs))
	}
}

func TestMemoryStore_ConcurrentUpdates_OneWinnerPerVersion(t *testing.T) {
	s := NewMemoryStore()
	tx := newStoredTx(t, s, "txn_race1", "usr_buyer1", "usr_seller1")
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := tx.clone()
			now := time.Now().UTC()
			cp.BuyerConfirmedAt = &now
			if err := s.Update(ctx, cp, 1); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 winning write for version 1, got %d", count)
	}

	got, _ := s.Get(ctx, tx.ID)
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}
