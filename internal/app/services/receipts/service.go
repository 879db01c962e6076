// Package receipts manages captured receipts and kicks off the background
// NFT pipeline for each capture.
package receipts

import (
	"context"
	"fmt"
	"strings"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/receipt"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// Submitter creates pipeline tasks. Satisfied by *tasks.Engine.
type Submitter interface {
	Submit(ctx context.Context, kind task.Kind, payload task.Payload, correlationKey string) (task.Task, error)
}

// Service coordinates receipt records and pipeline submission.
type Service struct {
	accounts storage.AccountStore
	store    storage.ReceiptStore
	engine   Submitter
	log      *logger.Logger
}

// New creates a configured receipts service.
func New(accounts storage.AccountStore, store storage.ReceiptStore, engine Submitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("receipts")
	}
	return &Service{
		accounts: accounts,
		store:    store,
		engine:   engine,
		log:      log,
	}
}

// CaptureRequest is the input to Capture.
type CaptureRequest struct {
	AccountID  string
	Merchant   string
	Total      float64
	Currency   string
	ImageURL   string
	Items      []receipt.LineItem
	Encryption *task.EncryptionBundle
}

// Capture persists a receipt and submits the root acquire task for it. The
// receipt id becomes the correlation key for the whole saga. Capturing the
// same purchase twice creates a second receipt and a second saga; the layer
// performs no deduplication.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (receipt.Receipt, task.Task, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.Merchant = strings.TrimSpace(req.Merchant)

	if req.AccountID == "" {
		return receipt.Receipt{}, task.Task{}, fmt.Errorf("account_id is required")
	}
	if req.Total <= 0 {
		return receipt.Receipt{}, task.Task{}, fmt.Errorf("total must be positive")
	}

	acct, err := s.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return receipt.Receipt{}, task.Task{}, fmt.Errorf("account validation failed: %w", err)
	}

	rcpt, err := s.store.CreateReceipt(ctx, receipt.Receipt{
		AccountID: req.AccountID,
		Merchant:  req.Merchant,
		Total:     req.Total,
		Currency:  req.Currency,
		ImageURL:  req.ImageURL,
		Items:     req.Items,
	})
	if err != nil {
		return receipt.Receipt{}, task.Task{}, err
	}

	payload := task.Payload{
		ReceiptID:  rcpt.ID,
		Wallet:     acct.Wallet,
		Merchant:   rcpt.Merchant,
		Total:      rcpt.Total,
		Encryption: req.Encryption,
	}
	t, err := s.engine.Submit(ctx, task.KindAcquire, payload, rcpt.ID)
	if err != nil {
		return receipt.Receipt{}, task.Task{}, fmt.Errorf("pipeline submission failed: %w", err)
	}

	s.log.WithField("receipt_id", rcpt.ID).
		WithField("account_id", rcpt.AccountID).
		WithField("task_id", t.ID).
		Info("receipt captured")
	return rcpt, t, nil
}

// Get fetches a receipt by id.
func (s *Service) Get(ctx context.Context, id string) (receipt.Receipt, error) {
	return s.store.GetReceipt(ctx, id)
}

// List lists receipts, optionally filtered by account.
func (s *Service) List(ctx context.Context, accountID string) ([]receipt.Receipt, error) {
	return s.store.ListReceipts(ctx, accountID)
}

// Delete removes a receipt record. Tasks already spawned for it are left to
// run; the retention sweep removes them once terminal.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteReceipt(ctx, id)
}

var _ Submitter = (*tasks.Engine)(nil)
