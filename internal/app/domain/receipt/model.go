package receipt

import "time"

// Receipt is a captured purchase receipt. Capturing a receipt kicks off the
// background pipeline that tries to obtain an NFT for its owner.
type Receipt struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Merchant  string     `json:"merchant,omitempty"`
	Total     float64    `json:"total"`
	Currency  string     `json:"currency,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
	Items     []LineItem `json:"items,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LineItem is a single purchased item on a receipt.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}
