package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
	"github.com/LoyaltyLabs/receipt_layer/pkg/testutil"
)

func TestAcquireHandlerSuccess(t *testing.T) {
	acquirer := &testutil.MockAcquirer{Result: task.AcquisitionResult{Success: true, TokenID: "tok"}}
	h := tasks.NewAcquireHandler(acquirer)

	out, err := h(context.Background(), task.Task{Kind: task.KindAcquire, Payload: task.Payload{ReceiptID: "r1"}})
	require.NoError(t, err)
	require.Equal(t, "tok", out.(task.AcquisitionResult).TokenID)
	require.Len(t, acquirer.Calls(), 1)
}

func TestAcquireHandlerReportedFailureBecomesError(t *testing.T) {
	acquirer := &testutil.MockAcquirer{Result: task.AcquisitionResult{Success: false, Error: "no matching listing"}}
	h := tasks.NewAcquireHandler(acquirer)

	_, err := h(context.Background(), task.Task{Kind: task.KindAcquire})
	require.EqualError(t, err, "no matching listing")
}

func TestAcquireHandlerStrategyError(t *testing.T) {
	acquirer := &testutil.MockAcquirer{Err: errors.New("marketplace unreachable")}
	h := tasks.NewAcquireHandler(acquirer)

	_, err := h(context.Background(), task.Task{Kind: task.KindAcquire})
	require.EqualError(t, err, "marketplace unreachable")
}

func TestFallbackMintHandler(t *testing.T) {
	minter := &testutil.MockMinter{Result: task.AcquisitionResult{Success: true, TokenID: "minted"}}
	h := tasks.NewFallbackMintHandler(minter)

	out, err := h(context.Background(), task.Task{Kind: task.KindFallbackMint, Payload: task.Payload{Wallet: "w1"}})
	require.NoError(t, err)
	require.Equal(t, "minted", out.(task.AcquisitionResult).TokenID)
}

func TestFinalizeHandlerValidation(t *testing.T) {
	full := &task.EncryptionBundle{Ciphertext: "c", CapsuleID: "cap", PolicyID: "pol"}

	cases := []struct {
		name    string
		payload task.Payload
		field   string
	}{
		{"missing bundle", task.Payload{TokenID: "tok"}, "encryption"},
		{"missing ciphertext", task.Payload{TokenID: "tok", Encryption: &task.EncryptionBundle{CapsuleID: "cap", PolicyID: "pol"}}, "ciphertext"},
		{"missing capsule", task.Payload{TokenID: "tok", Encryption: &task.EncryptionBundle{Ciphertext: "c", PolicyID: "pol"}}, "capsule_id"},
		{"missing policy", task.Payload{TokenID: "tok", Encryption: &task.EncryptionBundle{Ciphertext: "c", CapsuleID: "cap"}}, "policy_id"},
		{"missing token", task.Payload{Encryption: full}, "token_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &testutil.MockMetadataStore{}
			h := tasks.NewFinalizeMetadataHandler(store)

			_, err := h(context.Background(), task.Task{Kind: task.KindFinalizeMetadata, Payload: tc.payload})

			var verr tasks.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.Empty(t, store.Calls(), "metadata store must not be invoked for invalid payloads")
		})
	}
}

func TestFinalizeHandlerStoresMetadata(t *testing.T) {
	store := &testutil.MockMetadataStore{}
	h := tasks.NewFinalizeMetadataHandler(store)

	payload := task.Payload{
		ReceiptID:  "r1",
		Wallet:     "w1",
		Merchant:   "m",
		Total:      12.5,
		TokenID:    "tok",
		Encryption: &task.EncryptionBundle{Ciphertext: "c", CapsuleID: "cap", PolicyID: "pol"},
	}
	out, err := h(context.Background(), task.Task{Kind: task.KindFinalizeMetadata, Payload: payload})
	require.NoError(t, err)
	require.Equal(t, task.FinalizeResult{TokenID: "tok", Status: "stored"}, out)

	calls := store.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "tok", calls[0].TokenID)
	require.Equal(t, "w1", calls[0].OwnerKey)
	require.Equal(t, "cap", calls[0].Bundle.CapsuleID)
	require.Equal(t, tasks.PreviewSummary{ReceiptID: "r1", Merchant: "m", Total: 12.5}, calls[0].Preview)
}

func TestFinalizeHandlerWrapsStoreFailure(t *testing.T) {
	store := &testutil.MockMetadataStore{Err: errors.New("connection refused")}
	h := tasks.NewFinalizeMetadataHandler(store)

	payload := task.Payload{
		TokenID:    "tok",
		Encryption: &task.EncryptionBundle{Ciphertext: "c", CapsuleID: "cap", PolicyID: "pol"},
	}
	_, err := h(context.Background(), task.Task{Kind: task.KindFinalizeMetadata, Payload: payload})
	require.ErrorIs(t, err, tasks.ErrMetadataUnavailable)
}

func TestRegisterPipelineHandlers(t *testing.T) {
	reg := tasks.NewRegistry()
	err := tasks.RegisterPipelineHandlers(reg, &testutil.MockAcquirer{}, &testutil.MockMinter{}, &testutil.MockMetadataStore{}, nil)
	require.NoError(t, err)
	require.Len(t, reg.Kinds(), 3)

	// A second registration collides on every kind.
	err = tasks.RegisterPipelineHandlers(reg, &testutil.MockAcquirer{}, &testutil.MockMinter{}, &testutil.MockMetadataStore{}, nil)
	require.ErrorIs(t, err, tasks.ErrDuplicateHandler)
}
