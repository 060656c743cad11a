package models

import "time"

// Item represents a linked Plaid item (one institution login).
// AccessToken is stored AES-encrypted and never serialized.
type Item struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	PlaidItemID string    `json:"plaidItemId"`
	AccessToken string    `json:"-"` // Encrypted at rest
	Institution string    `json:"institution"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
