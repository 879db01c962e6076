package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/account"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/receipt"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.ReceiptStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	metadataJSON, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rl_accounts (id, owner, wallet, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.ID, acct.Owner, acct.Wallet, metadataJSON, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	existing, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		return account.Account{}, err
	}

	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rl_accounts
		SET owner = $2, wallet = $3, metadata = $4, updated_at = $5
		WHERE id = $1
	`, acct.ID, acct.Owner, acct.Wallet, metadataJSON, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, wallet, metadata, created_at, updated_at
		FROM rl_accounts
		WHERE id = $1
	`, id)

	var (
		acct        account.Account
		metadataRaw []byte
	)
	err := row.Scan(&acct.ID, &acct.Owner, &acct.Wallet, &metadataRaw, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &acct.Metadata); err != nil {
			return account.Account{}, err
		}
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, wallet, metadata, created_at, updated_at
		FROM rl_accounts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]account.Account, 0)
	for rows.Next() {
		var (
			acct        account.Account
			metadataRaw []byte
		)
		if err := rows.Scan(&acct.ID, &acct.Owner, &acct.Wallet, &metadataRaw, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &acct.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rl_accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- ReceiptStore -----------------------------------------------------------

func (s *Store) CreateReceipt(ctx context.Context, rcpt receipt.Receipt) (receipt.Receipt, error) {
	if rcpt.ID == "" {
		rcpt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rcpt.CreatedAt = now
	rcpt.UpdatedAt = now

	itemsJSON, err := json.Marshal(rcpt.Items)
	if err != nil {
		return receipt.Receipt{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rl_receipts (id, account_id, merchant, total, currency, image_url, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rcpt.ID, rcpt.AccountID, rcpt.Merchant, rcpt.Total, rcpt.Currency, rcpt.ImageURL, itemsJSON, rcpt.CreatedAt, rcpt.UpdatedAt)
	if err != nil {
		return receipt.Receipt{}, err
	}
	return rcpt, nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (receipt.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, merchant, total, currency, image_url, items, created_at, updated_at
		FROM rl_receipts
		WHERE id = $1
	`, id)
	return scanReceipt(row.Scan)
}

func (s *Store) ListReceipts(ctx context.Context, accountID string) ([]receipt.Receipt, error) {
	query := `
		SELECT id, account_id, merchant, total, currency, image_url, items, created_at, updated_at
		FROM rl_receipts
	`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]receipt.Receipt, 0)
	for rows.Next() {
		rcpt, err := scanReceipt(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rcpt)
	}
	return result, rows.Err()
}

func (s *Store) DeleteReceipt(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rl_receipts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanReceipt(scan func(...any) error) (receipt.Receipt, error) {
	var (
		rcpt     receipt.Receipt
		itemsRaw []byte
	)
	err := scan(&rcpt.ID, &rcpt.AccountID, &rcpt.Merchant, &rcpt.Total, &rcpt.Currency, &rcpt.ImageURL, &itemsRaw, &rcpt.CreatedAt, &rcpt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return receipt.Receipt{}, storage.ErrNotFound
	}
	if err != nil {
		return receipt.Receipt{}, err
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &rcpt.Items); err != nil {
			return receipt.Receipt{}, err
		}
	}
	return rcpt, nil
}

// --- TaskStore --------------------------------------------------------------

const taskColumns = `id, kind, status, payload, result, error, correlation_key, created_at, updated_at, completed_at`

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Status = task.StatusPending
	t.Result = nil
	t.Error = ""
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CompletedAt = nil

	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return task.Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rl_tasks (id, kind, status, payload, result, error, correlation_key, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, NULL, '', $5, $6, $7, NULL)
	`, t.ID, string(t.Kind), t.Status.String(), payloadJSON, t.CorrelationKey, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM rl_tasks WHERE id = $1
	`, id)
	return scanTask(row.Scan)
}

// UpdateTask applies a partial update inside a transaction so that the
// status-machine check and the write are atomic with respect to concurrent
// completions of other tasks.
func (s *Store) UpdateTask(ctx context.Context, id string, upd task.Update) (task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return task.Task{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM rl_tasks WHERE id = $1 FOR UPDATE
	`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		return task.Task{}, err
	}

	// Terminal tasks are never mutated again, not even by an update that
	// re-applies the current status.
	if t.Status.IsTerminal() {
		to := t.Status
		if upd.Status != nil {
			to = *upd.Status
		}
		return task.Task{}, task.NewTransitionError(t.Status, to)
	}

	if upd.Status != nil && *upd.Status != t.Status {
		if !task.CanTransition(t.Status, *upd.Status) {
			return task.Task{}, task.NewTransitionError(t.Status, *upd.Status)
		}
		t.Status = *upd.Status
		if t.Status.IsTerminal() && t.CompletedAt == nil {
			now := time.Now().UTC()
			t.CompletedAt = &now
		}
	}
	if upd.Result != nil {
		t.Result = upd.Result
	}
	if upd.Error != nil {
		t.Error = *upd.Error
	}
	t.UpdatedAt = time.Now().UTC()

	var resultJSON any
	if len(t.Result) > 0 {
		resultJSON = []byte(t.Result)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE rl_tasks
		SET status = $2, result = $3, error = $4, updated_at = $5, completed_at = $6
		WHERE id = $1
	`, t.ID, t.Status.String(), resultJSON, t.Error, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return task.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM rl_tasks ORDER BY created_at DESC`)
}

func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status) ([]task.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM rl_tasks WHERE status = $1 ORDER BY created_at ASC
	`, status.String())
}

func (s *Store) ListTasksByCorrelation(ctx context.Context, key string) ([]task.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM rl_tasks WHERE correlation_key = $1 ORDER BY created_at DESC
	`, key)
}

func (s *Store) LatestTaskByCorrelation(ctx context.Context, key string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM rl_tasks
		WHERE correlation_key = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, key)
	return scanTask(row.Scan)
}

func (s *Store) DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rl_tasks
		WHERE status IN ('completed', 'failed') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanTask(scan func(...any) error) (task.Task, error) {
	var (
		t           task.Task
		kind        string
		status      string
		payloadRaw  []byte
		resultRaw   []byte
		completedAt sql.NullTime
	)
	err := scan(&t.ID, &kind, &status, &payloadRaw, &resultRaw, &t.Error, &t.CorrelationKey, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	t.Kind = task.Kind(kind)
	t.Status = task.ParseStatus(status)
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &t.Payload); err != nil {
			return task.Task{}, err
		}
	}
	if len(resultRaw) > 0 {
		t.Result = json.RawMessage(resultRaw)
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		t.CompletedAt = &completed
	}
	return t, nil
}
