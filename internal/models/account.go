package models

// Account sources
const (
	SourcePlaid  = "plaid"
	SourceManual = "manual" // OFX statement import
)

// Account represents a single credit card account tracked for a user.
// Balance and Limit are the statement balance and credit limit as of
// the last refresh; TargetUtilization is the per-account paydown goal
// as a fraction (0.09 = 9%).
type Account struct {
	ID                int64   `json:"id"`
	UserID            int64   `json:"userId"`
	ItemID            int64   `json:"itemId,omitempty"` // owning Plaid item, 0 for manual accounts
	ExternalID        string  `json:"externalId"`       // Plaid account_id or OFX ACCTID
	Source            string  `json:"source"`
	Name              string  `json:"name"`
	Mask              string  `json:"mask,omitempty"`
	Balance           float64 `json:"balance"`
	Limit             float64 `json:"limit"`
	TargetUtilization float64 `json:"targetUtilization"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

// AccountWithOwner pairs an account with its owner's contact details
// for the alert sweep.
type AccountWithOwner struct {
	Account
	OwnerEmail    string `json:"-"`
	OwnerUsername string `json:"-"`
}
