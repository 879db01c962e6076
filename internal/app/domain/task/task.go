// Package task defines the task entity driving the receipt-to-NFT background
// pipeline, its status machine, and the closed set of task kinds the
// dispatcher executes.
package task

import (
	"encoding/json"
	"time"
)

// Kind identifies the strategy that executes a task. The set is closed:
// handlers register against these constants and unknown kinds are rejected
// at submission time.
type Kind string

const (
	// KindAcquire attempts the primary marketplace purchase for a receipt.
	KindAcquire Kind = "acquire"

	// KindFallbackMint mints an NFT directly after acquisition failed.
	KindFallbackMint Kind = "fallback-mint"

	// KindFinalizeMetadata binds an encryption payload to a minted token.
	KindFinalizeMetadata Kind = "finalize-metadata"
)

// Valid reports whether the kind belongs to the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindAcquire, KindFallbackMint, KindFinalizeMetadata:
		return true
	}
	return false
}

// ParseKind converts a string to a Kind, reporting whether it is known.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, k.Valid()
}

// IsAcquisition reports whether the kind obtains an NFT, by purchase or mint.
func (k Kind) IsAcquisition() bool {
	return k == KindAcquire || k == KindFallbackMint
}

// EncryptionBundle carries the opaque ciphertext a user requested to bind to
// their NFT. The core never interprets the cryptographic fields.
type EncryptionBundle struct {
	Ciphertext string `json:"ciphertext"`
	CapsuleID  string `json:"capsule_id"`
	PolicyID   string `json:"policy_id"`
}

// Payload is the data a handler operates on. The receipt snapshot travels
// unchanged from the root acquire task to any chained task; TokenID is filled
// in only for finalize-metadata tasks, once the token is known.
type Payload struct {
	ReceiptID string  `json:"receipt_id"`
	Wallet    string  `json:"wallet"`
	Merchant  string  `json:"merchant,omitempty"`
	Total     float64 `json:"total,omitempty"`

	Encryption *EncryptionBundle `json:"encryption,omitempty"`
	TokenID    string            `json:"token_id,omitempty"`
}

// AcquisitionResult is the outcome shape shared by the acquire and
// fallback-mint strategies.
type AcquisitionResult struct {
	Success         bool   `json:"success"`
	TokenID         string `json:"token_id,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	Name            string `json:"name,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	Marketplace     string `json:"marketplace,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
	Error           string `json:"error,omitempty"`
}

// FinalizeResult is the outcome of a finalize-metadata task.
type FinalizeResult struct {
	TokenID string `json:"token_id"`
	Status  string `json:"status"`
}

// Task is a unit of asynchronous work with a terminal outcome.
type Task struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	Payload Payload `json:"payload"`

	// Result holds the handler's marshalled return value. Present iff the
	// task completed.
	Result json.RawMessage `json:"result,omitempty"`

	// Error holds the failure message. Present iff the task failed.
	Error string `json:"error,omitempty"`

	// CorrelationKey groups all tasks belonging to one business workflow,
	// e.g. the receipt id.
	CorrelationKey string `json:"correlation_key"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Update is a partial mutation applied by the store. Nil fields are left
// untouched.
type Update struct {
	Status *Status
	Result json.RawMessage
	Error  *string
}

// AcquisitionResult unmarshals the task result as an AcquisitionResult.
// Returns false when the task carries no result or the result has a
// different shape.
func (t Task) AcquisitionResult() (AcquisitionResult, bool) {
	if len(t.Result) == 0 || !t.Kind.IsAcquisition() {
		return AcquisitionResult{}, false
	}
	var res AcquisitionResult
	if err := json.Unmarshal(t.Result, &res); err != nil {
		return AcquisitionResult{}, false
	}
	return res, true
}
