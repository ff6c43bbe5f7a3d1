package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot holds the account balances reported at the last poll
type AccountSnapshot struct {
	AccountID        string          `json:"account_id"`
	Balance          decimal.Decimal `json:"balance"`
	PreviousBalance  decimal.Decimal `json:"previous_balance"`
	LastBillAmount   decimal.Decimal `json:"last_bill_amount"`
	PaymentsReceived decimal.Decimal `json:"payments_received"` // always positive
	FetchedAt        time.Time       `json:"fetched_at"`
}

// Payment represents one entry from the payment history
type Payment struct {
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	TenderType string          `json:"tender_type"`
	Source     string          `json:"source"`
}

// RefreshRun records one pass of the refresh cycle
type RefreshRun struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Status         string    `json:"status"` // "ok" or "failed"
	Error          string    `json:"error,omitempty"`
	PeriodsParsed  int       `json:"periods_parsed"`
	PeriodsSkipped int       `json:"periods_skipped"`
}
