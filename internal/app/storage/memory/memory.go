package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/account"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/receipt"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]account.Account
	receipts map[string]receipt.Receipt
	tasks    map[string]task.Task

	// tasksByCorrelation indexes task ids by correlation key in creation
	// order.
	tasksByCorrelation map[string][]string

	// seq breaks CreatedAt ties for newest-first ordering.
	seq     map[string]int64
	nextSeq int64
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.ReceiptStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:           make(map[string]account.Account),
		receipts:           make(map[string]receipt.Receipt),
		tasks:              make(map[string]task.Task),
		tasksByCorrelation: make(map[string][]string),
		seq:                make(map[string]int64),
	}
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, storage.ErrAlreadyExists
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Metadata = cloneMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.Metadata = cloneMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, cloneAccount(acct))
	}
	return result, nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}

// ReceiptStore implementation -------------------------------------------------

func (s *Store) CreateReceipt(_ context.Context, rcpt receipt.Receipt) (receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rcpt.ID == "" {
		rcpt.ID = uuid.NewString()
	} else if _, exists := s.receipts[rcpt.ID]; exists {
		return receipt.Receipt{}, storage.ErrAlreadyExists
	}

	now := time.Now().UTC()
	rcpt.CreatedAt = now
	rcpt.UpdatedAt = now
	rcpt.Items = append([]receipt.LineItem(nil), rcpt.Items...)

	s.receipts[rcpt.ID] = rcpt
	return cloneReceipt(rcpt), nil
}

func (s *Store) GetReceipt(_ context.Context, id string) (receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rcpt, ok := s.receipts[id]
	if !ok {
		return receipt.Receipt{}, storage.ErrNotFound
	}
	return cloneReceipt(rcpt), nil
}

func (s *Store) ListReceipts(_ context.Context, accountID string) ([]receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]receipt.Receipt, 0)
	for _, rcpt := range s.receipts {
		if accountID == "" || rcpt.AccountID == accountID {
			result = append(result, cloneReceipt(rcpt))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeleteReceipt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receipts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.receipts, id)
	return nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, storage.ErrAlreadyExists
	}

	now := time.Now().UTC()
	t.Status = task.StatusPending
	t.Result = nil
	t.Error = ""
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CompletedAt = nil

	s.tasks[t.ID] = t
	s.nextSeq++
	s.seq[t.ID] = s.nextSeq
	if t.CorrelationKey != "" {
		s.tasksByCorrelation[t.CorrelationKey] = append(s.tasksByCorrelation[t.CorrelationKey], t.ID)
	}
	return cloneTask(t), nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) UpdateTask(_ context.Context, id string, upd task.Update) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, storage.ErrNotFound
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
		t.Result = append([]byte(nil), upd.Result...)
	}
	if upd.Error != nil {
		t.Error = *upd.Error
	}
	t.UpdatedAt = time.Now().UTC()

	s.tasks[id] = t
	return cloneTask(t), nil
}

func (s *Store) ListTasks(_ context.Context) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		result = append(result, cloneTask(t))
	}
	s.sortNewestFirstLocked(result)
	return result, nil
}

func (s *Store) ListTasksByStatus(_ context.Context, status task.Status) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Task, 0)
	for _, t := range s.tasks {
		if t.Status == status {
			result = append(result, cloneTask(t))
		}
	}
	// Oldest first so long-waiting tasks are admitted before newer ones.
	sort.Slice(result, func(i, j int) bool {
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})
	return result, nil
}

func (s *Store) ListTasksByCorrelation(_ context.Context, key string) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.tasksByCorrelation[key]
	result := make([]task.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			result = append(result, cloneTask(t))
		}
	}
	s.sortNewestFirstLocked(result)
	return result, nil
}

func (s *Store) LatestTaskByCorrelation(ctx context.Context, key string) (task.Task, error) {
	tasks, err := s.ListTasksByCorrelation(ctx, key)
	if err != nil {
		return task.Task{}, err
	}
	if len(tasks) == 0 {
		return task.Task{}, storage.ErrNotFound
	}
	return tasks[0], nil
}

func (s *Store) DeleteTerminalTasksBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if !t.Status.IsTerminal() || t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.tasks, id)
		delete(s.seq, id)
		removed++
	}
	if removed > 0 {
		for key, ids := range s.tasksByCorrelation {
			kept := ids[:0]
			for _, id := range ids {
				if _, ok := s.tasks[id]; ok {
					kept = append(kept, id)
				}
			}
			if len(kept) == 0 {
				delete(s.tasksByCorrelation, key)
			} else {
				s.tasksByCorrelation[key] = kept
			}
		}
	}
	return removed, nil
}

func (s *Store) sortNewestFirstLocked(tasks []task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return s.seq[tasks[i].ID] > s.seq[tasks[j].ID]
	})
}

// Clone helpers ---------------------------------------------------------------

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAccount(acct account.Account) account.Account {
	acct.Metadata = cloneMap(acct.Metadata)
	return acct
}

func cloneReceipt(rcpt receipt.Receipt) receipt.Receipt {
	rcpt.Items = append([]receipt.LineItem(nil), rcpt.Items...)
	return rcpt
}

func cloneTask(t task.Task) task.Task {
	t.Result = append([]byte(nil), t.Result...)
	if t.Payload.Encryption != nil {
		bundle := *t.Payload.Encryption
		t.Payload.Encryption = &bundle
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		t.CompletedAt = &completed
	}
	return t
}
