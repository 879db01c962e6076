package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/services/pipeline"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage/memory"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
)

func setup(t *testing.T) (*pipeline.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return pipeline.New(tasks.NewStatusService(store), nil), store
}

func settle(t *testing.T, store *memory.Store, id string, final task.Status, result any, errMsg string) {
	t.Helper()
	ctx := context.Background()
	processing := task.StatusProcessing
	if _, err := store.UpdateTask(ctx, id, task.Update{Status: &processing}); err != nil {
		t.Fatal(err)
	}
	upd := task.Update{Status: &final}
	if result != nil {
		raw, _ := json.Marshal(result)
		upd.Result = raw
	}
	if errMsg != "" {
		upd.Error = &errMsg
	}
	if _, err := store.UpdateTask(ctx, id, upd); err != nil {
		t.Fatal(err)
	}
}

func TestReceiptStatusFailureIsBusinessOutcome(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	created, _ := store.CreateTask(ctx, task.Task{Kind: task.KindAcquire, CorrelationKey: "r1"})
	settle(t, store, created.ID, task.StatusFailed, nil, "no matching listing")

	// A failed saga polls as a normal result, not an error.
	res, err := svc.ReceiptStatus(ctx, "r1")
	if err != nil {
		t.Fatalf("failed saga must not be a server error: %v", err)
	}
	if !res.Failed || res.Completed {
		t.Fatalf("res = %+v", res)
	}
	if res.Error != "no matching listing" {
		t.Fatalf("error = %q", res.Error)
	}
	if res.ReceiptID != "r1" {
		t.Fatalf("receipt id = %q", res.ReceiptID)
	}
}

func TestReceiptStatusExposesNFT(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	created, _ := store.CreateTask(ctx, task.Task{Kind: task.KindFallbackMint, CorrelationKey: "r1"})
	settle(t, store, created.ID, task.StatusCompleted, task.AcquisitionResult{Success: true, TokenID: "tok"}, "")

	res, err := svc.ReceiptStatus(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed || res.NFT == nil || res.NFT.TokenID != "tok" {
		t.Fatalf("res = %+v", res)
	}
}

func TestReceiptStatusUnknownReceipt(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.ReceiptStatus(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReceiptHistoryNewestFirst(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	acquire, _ := store.CreateTask(ctx, task.Task{Kind: task.KindAcquire, CorrelationKey: "r1"})
	settle(t, store, acquire.ID, task.StatusFailed, nil, "miss")
	mint, _ := store.CreateTask(ctx, task.Task{Kind: task.KindFallbackMint, CorrelationKey: "r1"})
	settle(t, store, mint.ID, task.StatusCompleted, task.AcquisitionResult{Success: true, TokenID: "tok"}, "")

	history, err := svc.ReceiptHistory(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries", len(history))
	}
	if history[0].Kind != task.KindFallbackMint || history[1].Kind != task.KindAcquire {
		t.Fatalf("history order wrong: %+v", history)
	}
}

func TestTaskStatusByID(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	created, _ := store.CreateTask(ctx, task.Task{Kind: task.KindAcquire, CorrelationKey: "r1"})
	res, err := svc.TaskStatus(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.TaskID != created.ID || res.Status != task.StatusPending || res.Completed || res.Failed {
		t.Fatalf("res = %+v", res)
	}
}
