package models

import "github.com/utilpilot/utilization-service/internal/utilization"

// CreditCard is the per-account view served by the dashboard: the raw
// account plus everything derived from the utilization core.
type CreditCard struct {
	AccountID         int64            `json:"accountId"`
	Name              string           `json:"name"`
	Mask              string           `json:"mask,omitempty"`
	Balance           float64          `json:"balance"`
	Limit             float64          `json:"limit"`
	Utilization       int              `json:"utilization"`
	Band              utilization.Band `json:"band"`
	TargetUtilization float64          `json:"targetUtilization"`
	PaydownToTarget   float64          `json:"paydownToTarget"`
}

// Recommendation is a paydown suggestion for one account
type Recommendation struct {
	AccountID int64   `json:"accountId"`
	Name      string  `json:"name"`
	Message   string  `json:"message"`
	Paydown   float64 `json:"paydown"`
}

// Summary represents dashboard roll-up figures
type Summary struct {
	CardCount       int              `json:"cardCount"`
	OverallBand     utilization.Band `json:"overallBand"`
	CardsOverTarget int              `json:"cardsOverTarget"`
	TotalPaydown    float64          `json:"totalPaydown"`
}

// Dashboard is the aggregate response for GET /api/dashboard
type Dashboard struct {
	CreditCards        []CreditCard     `json:"creditCards"`
	OverallUtilization int              `json:"overallUtilization"`
	TotalLimit         float64          `json:"totalLimit"`
	TotalBalance       float64          `json:"totalBalance"`
	Recommendations    []Recommendation `json:"recommendations"`
	Summary            Summary          `json:"summary"`
}
