// Package testutil provides mock pipeline collaborators for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
)

// MockAcquirer is a scriptable AcquisitionStrategy.
type MockAcquirer struct {
	mu sync.Mutex

	// Result and Err are returned from every Attempt.
	Result task.AcquisitionResult
	Err    error

	// Block, when non-nil, is received from before Attempt returns. Tests use
	// it to hold handlers in flight.
	Block chan struct{}

	calls []task.Payload
}

// Attempt implements tasks.AcquisitionStrategy.
func (m *MockAcquirer) Attempt(ctx context.Context, payload task.Payload) (task.AcquisitionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, payload)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return task.AcquisitionResult{}, ctx.Err()
		}
	}
	return m.Result, m.Err
}

// Calls returns the payloads Attempt was invoked with.
func (m *MockAcquirer) Calls() []task.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]task.Payload, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockMinter is a scriptable MintStrategy.
type MockMinter struct {
	mu sync.Mutex

	Result task.AcquisitionResult
	Err    error

	calls []task.Payload
}

// Mint implements tasks.MintStrategy.
func (m *MockMinter) Mint(_ context.Context, payload task.Payload) (task.AcquisitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, payload)
	return m.Result, m.Err
}

// Calls returns the payloads Mint was invoked with.
func (m *MockMinter) Calls() []task.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]task.Payload, len(m.calls))
	copy(out, m.calls)
	return out
}

// MetadataCall records one MockMetadataStore.Store invocation.
type MetadataCall struct {
	TokenID  string
	OwnerKey string
	Bundle   task.EncryptionBundle
	Preview  tasks.PreviewSummary
}

// MockMetadataStore records Store calls and returns a scripted error.
type MockMetadataStore struct {
	mu sync.Mutex

	Err   error
	calls []MetadataCall
}

// Store implements tasks.MetadataStore.
func (m *MockMetadataStore) Store(_ context.Context, tokenID, ownerKey string, bundle task.EncryptionBundle, preview tasks.PreviewSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MetadataCall{TokenID: tokenID, OwnerKey: ownerKey, Bundle: bundle, Preview: preview})
	return m.Err
}

// Calls returns the recorded Store invocations.
func (m *MockMetadataStore) Calls() []MetadataCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MetadataCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var (
	_ tasks.AcquisitionStrategy = (*MockAcquirer)(nil)
	_ tasks.MintStrategy        = (*MockMinter)(nil)
	_ tasks.MetadataStore       = (*MockMetadataStore)(nil)
)
