package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/account"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/receipt"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Owner: "owner", Wallet: "w1"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	defer store.DeleteAccount(ctx, acct.ID)

	rcpt, err := store.CreateReceipt(ctx, receipt.Receipt{AccountID: acct.ID, Merchant: "Grocer", Total: 12.5})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}

	created, err := store.CreateTask(ctx, task.Task{
		Kind:           task.KindAcquire,
		Payload:        task.Payload{ReceiptID: rcpt.ID, Wallet: acct.Wallet},
		CorrelationKey: rcpt.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if created.Status != task.StatusPending {
		t.Fatalf("new task status = %s", created.Status)
	}

	processing := task.StatusProcessing
	if _, err := store.UpdateTask(ctx, created.ID, task.Update{Status: &processing}); err != nil {
		t.Fatalf("to processing: %v", err)
	}

	completed := task.StatusCompleted
	done, err := store.UpdateTask(ctx, created.ID, task.Update{Status: &completed, Result: []byte(`{"success":true}`)})
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("terminal task missing completed_at")
	}

	failed := task.StatusFailed
	var terr task.TransitionError
	if _, err := store.UpdateTask(ctx, created.ID, task.Update{Status: &failed}); !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	// Re-applying the current terminal status must not rewrite the outcome.
	rewrite := "rewritten"
	if _, err := store.UpdateTask(ctx, created.ID, task.Update{Status: &completed, Error: &rewrite}); !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError on terminal re-apply, got %v", err)
	}

	latest, err := store.LatestTaskByCorrelation(ctx, rcpt.ID)
	if err != nil {
		t.Fatalf("latest by correlation: %v", err)
	}
	if latest.ID != created.ID {
		t.Fatalf("latest = %s, want %s", latest.ID, created.ID)
	}

	if err := store.DeleteReceipt(ctx, rcpt.ID); err != nil {
		t.Fatalf("delete receipt: %v", err)
	}
	if _, err := store.GetReceipt(ctx, rcpt.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
