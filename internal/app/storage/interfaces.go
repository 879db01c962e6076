package storage

import (
	"context"
	"errors"
	"time"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/account"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/receipt"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
)

// Common errors
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record with a taken id.
	ErrAlreadyExists = errors.New("already exists")
)

// AccountStore persists account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// ReceiptStore persists captured receipts.
type ReceiptStore interface {
	CreateReceipt(ctx context.Context, rcpt receipt.Receipt) (receipt.Receipt, error)
	GetReceipt(ctx context.Context, id string) (receipt.Receipt, error)
	ListReceipts(ctx context.Context, accountID string) ([]receipt.Receipt, error)
	DeleteReceipt(ctx context.Context, id string) error
}

// TaskStore persists pipeline tasks. Implementations own the status machine:
// updates that skip a state are rejected with task.TransitionError, any
// update to a task already in a terminal status is rejected the same way,
// and CompletedAt is stamped exactly once on the first terminal transition.
// Updates to a task are serialized with respect to concurrent updates of
// other tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	UpdateTask(ctx context.Context, id string, upd task.Update) (task.Task, error)
	ListTasks(ctx context.Context) ([]task.Task, error)
	ListTasksByStatus(ctx context.Context, status task.Status) ([]task.Task, error)

	// ListTasksByCorrelation returns tasks sharing the key, newest first.
	ListTasksByCorrelation(ctx context.Context, key string) ([]task.Task, error)

	// LatestTaskByCorrelation returns the most recently created task sharing
	// the key.
	LatestTaskByCorrelation(ctx context.Context, key string) (task.Task, error)

	// DeleteTerminalTasksBefore removes completed and failed tasks whose
	// CompletedAt precedes cutoff. Pending and processing tasks are never
	// touched. Returns the number of tasks removed.
	DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time) (int, error)
}
