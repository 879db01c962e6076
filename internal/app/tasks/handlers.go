package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// ErrMetadataUnavailable tags metadata-store write failures so operators can
// separate a dependency outage from bad input.
var ErrMetadataUnavailable = errors.New("metadata store unavailable")

// ValidationError reports a finalize-metadata payload missing a required
// field. The metadata store is never invoked for such payloads.
type ValidationError struct {
	Field string
}

// Error implements error.
func (e ValidationError) Error() string {
	return fmt.Sprintf("finalize payload missing required field: %s", e.Field)
}

// AcquisitionStrategy attempts the primary marketplace purchase.
type AcquisitionStrategy interface {
	Attempt(ctx context.Context, payload task.Payload) (task.AcquisitionResult, error)
}

// MintStrategy mints an NFT directly, used when acquisition failed.
type MintStrategy interface {
	Mint(ctx context.Context, payload task.Payload) (task.AcquisitionResult, error)
}

// PreviewSummary is the non-sensitive receipt summary persisted next to an
// encrypted payload.
type PreviewSummary struct {
	ReceiptID string  `json:"receipt_id"`
	Merchant  string  `json:"merchant,omitempty"`
	Total     float64 `json:"total,omitempty"`
}

// MetadataStore binds an encrypted payload to a minted token.
type MetadataStore interface {
	Store(ctx context.Context, tokenID, ownerKey string, bundle task.EncryptionBundle, preview PreviewSummary) error
}

// NewAcquireHandler returns the handler for acquire tasks. A strategy
// reporting success=false fails the task with the strategy's error message,
// which is what triggers the fallback-mint chain.
func NewAcquireHandler(strategy AcquisitionStrategy) Handler {
	return func(ctx context.Context, t task.Task) (any, error) {
		res, err := strategy.Attempt(ctx, t.Payload)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, acquisitionError(res, "acquisition failed")
		}
		return res, nil
	}
}

// NewFallbackMintHandler returns the handler for fallback-mint tasks.
func NewFallbackMintHandler(strategy MintStrategy) Handler {
	return func(ctx context.Context, t task.Task) (any, error) {
		res, err := strategy.Mint(ctx, t.Payload)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, acquisitionError(res, "mint failed")
		}
		return res, nil
	}
}

// NewFinalizeMetadataHandler returns the handler for finalize-metadata
// tasks. The payload is validated before the collaborator is touched.
func NewFinalizeMetadataHandler(store MetadataStore) Handler {
	return func(ctx context.Context, t task.Task) (any, error) {
		bundle := t.Payload.Encryption
		switch {
		case bundle == nil:
			return nil, ValidationError{Field: "encryption"}
		case bundle.Ciphertext == "":
			return nil, ValidationError{Field: "ciphertext"}
		case bundle.CapsuleID == "":
			return nil, ValidationError{Field: "capsule_id"}
		case bundle.PolicyID == "":
			return nil, ValidationError{Field: "policy_id"}
		case t.Payload.TokenID == "":
			return nil, ValidationError{Field: "token_id"}
		}

		preview := PreviewSummary{
			ReceiptID: t.Payload.ReceiptID,
			Merchant:  t.Payload.Merchant,
			Total:     t.Payload.Total,
		}
		if err := store.Store(ctx, t.Payload.TokenID, t.Payload.Wallet, *bundle, preview); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
		}
		return task.FinalizeResult{TokenID: t.Payload.TokenID, Status: "stored"}, nil
	}
}

// RegisterPipelineHandlers binds the three saga handlers to the registry.
func RegisterPipelineHandlers(reg *Registry, acquire AcquisitionStrategy, mint MintStrategy, metadata MetadataStore, log *logger.Logger) error {
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	if err := reg.Register(task.KindAcquire, NewAcquireHandler(acquire)); err != nil {
		return err
	}
	if err := reg.Register(task.KindFallbackMint, NewFallbackMintHandler(mint)); err != nil {
		return err
	}
	if err := reg.Register(task.KindFinalizeMetadata, NewFinalizeMetadataHandler(metadata)); err != nil {
		return err
	}
	log.Info("pipeline handlers registered")
	return nil
}

func acquisitionError(res task.AcquisitionResult, fallback string) error {
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return errors.New(fallback)
}
