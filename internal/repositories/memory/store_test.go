package memory

import (
	"context"
	"testing"
	"time"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/repotest"
)

func TestStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repositories.Registry {
		return NewStore()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	payment := repotest.NewPayment("pay_1", "user-1", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err := store.Payments().Insert(ctx, payment); err != nil {
		t.Fatalf("insert: %v", err)
	}
	payment.Metadata["declaration"] = "mutated"

	got, err := store.Payments().FindByID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Metadata["declaration"] != "D-pay_1" {
		t.Fatalf("store shares metadata with caller: %v", got.Metadata)
	}
	got.Metadata["declaration"] = "mutated again"
	again, _ := store.Payments().FindByID(ctx, "pay_1")
	if again.Metadata["declaration"] != "D-pay_1" {
		t.Fatalf("store shares metadata with reader: %v", again.Metadata)
	}
}
