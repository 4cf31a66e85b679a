package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/repotest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "customs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repositories.Registry {
		return openTestStore(t)
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "customs.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	payment := repotest.NewPayment("pay_9", "user-9", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	if err := store.Payments().Insert(ctx, payment); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)

	got, err := reopened.Payments().FindByID(ctx, "pay_9")
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if !got.Amount.Equal(payment.Amount) || got.Metadata["declaration"] != "D-pay_9" {
		t.Fatalf("unexpected payment after reopen: %+v", got)
	}
}
