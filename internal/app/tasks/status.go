package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
)

// NFTSummary is the flattened acquisition outcome exposed to pollers.
type NFTSummary struct {
	TokenID         string `json:"token_id"`
	Name            string `json:"name,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	Marketplace     string `json:"marketplace,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
}

// StatusInfo is the caller-facing projection of a task record.
type StatusInfo struct {
	ID             string          `json:"id"`
	Kind           task.Kind       `json:"kind"`
	Status         task.Status     `json:"status"`
	CorrelationKey string          `json:"correlation_key,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`

	// NFT is present only when an acquisition kind completed.
	NFT *NFTSummary `json:"nft,omitempty"`
}

// StatusService projects task records for pollers and owns retention.
type StatusService struct {
	store storage.TaskStore
}

// NewStatusService creates a status service over the task store.
func NewStatusService(store storage.TaskStore) *StatusService {
	return &StatusService{store: store}
}

// GetStatus returns the projection for a task id.
func (s *StatusService) GetStatus(ctx context.Context, id string) (StatusInfo, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return StatusInfo{}, err
	}
	return Project(t), nil
}

// LatestForSubject returns the projection of the most recently created task
// sharing the correlation key. Pollers that track a receipt rather than a
// task id use this.
func (s *StatusService) LatestForSubject(ctx context.Context, key string) (StatusInfo, error) {
	t, err := s.store.LatestTaskByCorrelation(ctx, key)
	if err != nil {
		return StatusInfo{}, err
	}
	return Project(t), nil
}

// History returns projections of all tasks sharing the key, newest first.
func (s *StatusService) History(ctx context.Context, key string) ([]StatusInfo, error) {
	ts, err := s.store.ListTasksByCorrelation(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]StatusInfo, 0, len(ts))
	for _, t := range ts {
		out = append(out, Project(t))
	}
	return out, nil
}

// Cleanup removes terminal tasks whose CompletedAt precedes cutoff. Pending
// and processing tasks are never touched, regardless of age.
func (s *StatusService) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	return s.store.DeleteTerminalTasksBefore(ctx, cutoff)
}

// Project converts a task record into its caller-facing shape.
func Project(t task.Task) StatusInfo {
	info := StatusInfo{
		ID:             t.ID,
		Kind:           t.Kind,
		Status:         t.Status,
		CorrelationKey: t.CorrelationKey,
		Result:         t.Result,
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
	if t.Status == task.StatusCompleted && t.Kind.IsAcquisition() {
		if res, ok := t.AcquisitionResult(); ok {
			info.NFT = &NFTSummary{
				TokenID:         res.TokenID,
				Name:            res.Name,
				ImageURL:        res.ImageURL,
				ContractAddress: res.ContractAddress,
				Marketplace:     res.Marketplace,
				TxHash:          res.TxHash,
			}
		}
	}
	return info
}
