package account

import "time"

// Account represents a loyalty member who owns receipts and the wallet their
// NFTs are delivered to.
type Account struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	Wallet    string            `json:"wallet,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
