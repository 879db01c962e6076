// Package pipeline is the polling facade over the task engine. It renders a
// failed saga as a normal business outcome, never as a server error: a
// receipt that could not be turned into an NFT is an expected result.
package pipeline

import (
	"context"
	"time"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// PollResult is what receipt pollers see.
type PollResult struct {
	TaskID    string            `json:"task_id"`
	ReceiptID string            `json:"receipt_id,omitempty"`
	Kind      task.Kind         `json:"kind"`
	Status    task.Status       `json:"status"`
	Completed bool              `json:"completed"`
	Failed    bool              `json:"failed"`
	Error     string            `json:"error,omitempty"`
	NFT       *tasks.NFTSummary `json:"nft,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Service exposes saga progress to pollers.
type Service struct {
	status *tasks.StatusService
	log    *logger.Logger
}

// New creates a pipeline polling service.
func New(status *tasks.StatusService, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Service{status: status, log: log}
}

// TaskStatus returns progress for a specific task id.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (PollResult, error) {
	info, err := s.status.GetStatus(ctx, taskID)
	if err != nil {
		return PollResult{}, err
	}
	return render(info), nil
}

// ReceiptStatus returns progress for the newest task of a receipt's saga.
func (s *Service) ReceiptStatus(ctx context.Context, receiptID string) (PollResult, error) {
	info, err := s.status.LatestForSubject(ctx, receiptID)
	if err != nil {
		return PollResult{}, err
	}
	return render(info), nil
}

// ReceiptHistory returns all saga steps for a receipt, newest first.
func (s *Service) ReceiptHistory(ctx context.Context, receiptID string) ([]PollResult, error) {
	infos, err := s.status.History(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	out := make([]PollResult, 0, len(infos))
	for _, info := range infos {
		out = append(out, render(info))
	}
	return out, nil
}

func render(info tasks.StatusInfo) PollResult {
	return PollResult{
		TaskID:    info.ID,
		ReceiptID: info.CorrelationKey,
		Kind:      info.Kind,
		Status:    info.Status,
		Completed: info.Status == task.StatusCompleted,
		Failed:    info.Status == task.StatusFailed,
		Error:     info.Error,
		NFT:       info.NFT,
		UpdatedAt: info.UpdatedAt,
	}
}
