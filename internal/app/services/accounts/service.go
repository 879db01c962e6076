// Package accounts manages loyalty member accounts.
package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/account"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// Service coordinates account records.
type Service struct {
	store storage.AccountStore
	log   *logger.Logger
}

// New creates a configured accounts service.
func New(store storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// Create provisions a new account.
func (s *Service) Create(ctx context.Context, owner, wallet string, metadata map[string]string) (account.Account, error) {
	owner = strings.TrimSpace(owner)
	wallet = strings.TrimSpace(wallet)

	if owner == "" {
		return account.Account{}, fmt.Errorf("owner is required")
	}

	acct, err := s.store.CreateAccount(ctx, account.Account{
		Owner:    owner,
		Wallet:   wallet,
		Metadata: metadata,
	})
	if err != nil {
		return account.Account{}, err
	}
	s.log.WithField("account_id", acct.ID).
		WithField("owner", owner).
		Info("account created")
	return acct, nil
}

// UpdateWallet changes the wallet NFTs are delivered to.
func (s *Service) UpdateWallet(ctx context.Context, id, wallet string) (account.Account, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return account.Account{}, fmt.Errorf("wallet is required")
	}

	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	acct.Wallet = wallet
	return s.store.UpdateAccount(ctx, acct)
}

// UpdateMetadata replaces the account metadata.
func (s *Service) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	acct.Metadata = metadata
	return s.store.UpdateAccount(ctx, acct)
}

// Get fetches an account by id.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// List lists all accounts.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteAccount(ctx, id)
}
