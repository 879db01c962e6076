// Package marketplace provides a simulated NFT marketplace used when no real
// chain integration is configured. It implements the pipeline collaborator
// interfaces with deterministic-enough behavior for local development.
package marketplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// SimulatorConfig tunes the simulated marketplace.
type SimulatorConfig struct {
	// AcquireEvery controls acquisition outcomes: every Nth attempt succeeds.
	// Zero means every attempt succeeds; 1 means every attempt fails over to
	// the mint path.
	AcquireEvery int

	// Latency is added to each call to mimic a remote dependency.
	Latency time.Duration
}

// Simulator is an in-process stand-in for the marketplace, the minting
// contract and the metadata service.
type Simulator struct {
	cfg SimulatorConfig
	log *logger.Logger

	mu       sync.Mutex
	attempts int
	metadata map[string]storedMetadata
}

type storedMetadata struct {
	ownerKey string
	bundle   task.EncryptionBundle
	preview  tasks.PreviewSummary
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.NewDefault("marketplace")
	}
	return &Simulator{
		cfg:      cfg,
		log:      log,
		metadata: make(map[string]storedMetadata),
	}
}

// Attempt simulates a marketplace purchase. Failures are reported through
// the result, not as errors, so the saga's fallback path engages.
func (s *Simulator) Attempt(ctx context.Context, payload task.Payload) (task.AcquisitionResult, error) {
	if err := s.wait(ctx); err != nil {
		return task.AcquisitionResult{}, err
	}

	s.mu.Lock()
	s.attempts++
	n := s.attempts
	s.mu.Unlock()

	if s.cfg.AcquireEvery > 0 && n%s.cfg.AcquireEvery != 0 {
		s.log.WithField("receipt_id", payload.ReceiptID).Debug("simulated acquisition miss")
		return task.AcquisitionResult{
			Success: false,
			Error:   "no matching listing on marketplace",
		}, nil
	}

	tokenID := uuid.NewString()
	return task.AcquisitionResult{
		Success:         true,
		TokenID:         tokenID,
		ContractAddress: "0xSIMULATED_MARKET",
		Name:            fmt.Sprintf("%s Receipt NFT", payload.Merchant),
		ImageURL:        fmt.Sprintf("https://nft.example/%s.png", tokenID),
		Marketplace:     "simulator",
		TxHash:          uuid.NewString(),
	}, nil
}

// Mint simulates a direct mint. It requires a destination wallet.
func (s *Simulator) Mint(ctx context.Context, payload task.Payload) (task.AcquisitionResult, error) {
	if err := s.wait(ctx); err != nil {
		return task.AcquisitionResult{}, err
	}
	if payload.Wallet == "" {
		return task.AcquisitionResult{Success: false, Error: "no destination wallet"}, nil
	}

	tokenID := uuid.NewString()
	return task.AcquisitionResult{
		Success:         true,
		TokenID:         tokenID,
		ContractAddress: "0xSIMULATED_MINT",
		Name:            fmt.Sprintf("%s Receipt NFT", payload.Merchant),
		ImageURL:        fmt.Sprintf("https://nft.example/%s.png", tokenID),
		TxHash:          uuid.NewString(),
	}, nil
}

// Store records metadata in memory.
func (s *Simulator) Store(ctx context.Context, tokenID, ownerKey string, bundle task.EncryptionBundle, preview tasks.PreviewSummary) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[tokenID] = storedMetadata{ownerKey: ownerKey, bundle: bundle, preview: preview}
	s.log.WithField("token_id", tokenID).Debug("metadata stored")
	return nil
}

// StoredCount reports how many token metadata records have been written.
func (s *Simulator) StoredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metadata)
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.cfg.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ tasks.AcquisitionStrategy = (*Simulator)(nil)
	_ tasks.MintStrategy        = (*Simulator)(nil)
	_ tasks.MetadataStore       = (*Simulator)(nil)
)
