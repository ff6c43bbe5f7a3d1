package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies where a billing period came from
type Source string

const (
	SourceAPIMonthly Source = "api_monthly" // calendar month from the usage endpoint
	SourcePDFParsed  Source = "pdf_parsed"  // exact service period read from a bill PDF
)

// GallonsPerHGAL is the size of the vendor's usage unit
var GallonsPerHGAL = decimal.NewFromInt(100)

// ErrInvalidPeriod is returned when a period does not end after it starts
var ErrInvalidPeriod = errors.New("billing period must end after it starts")

// BillingPeriod represents usage and cost for one service period
type BillingPeriod struct {
	ID             int             `json:"id"`
	StartDate      time.Time       `json:"start_date"` // inclusive
	EndDate        time.Time       `json:"end_date"`   // exclusive
	UsageHGAL      decimal.Decimal `json:"usage_hgal"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
	Source         Source          `json:"source"`
	BillID         string          `json:"bill_id,omitempty"`
	BillDate       time.Time       `json:"bill_date,omitempty"`
	ReadDate       time.Time       `json:"read_date,omitempty"`
	DueDate        time.Time       `json:"due_date,omitempty"`
	BillAmount     decimal.Decimal `json:"bill_amount"`     // total bill, including sewer and fees
	PriorReading   int64           `json:"prior_reading"`   // meter reading at StartDate
	CurrentReading int64           `json:"current_reading"` // meter reading at EndDate
	Layout         string          `json:"layout,omitempty"`
	Published      bool            `json:"published"`
}

// Validate checks the period's own invariants
func (p BillingPeriod) Validate() error {
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return fmt.Errorf("%w: missing dates", ErrInvalidPeriod)
	}
	if !p.StartDate.Before(p.EndDate) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidPeriod,
			p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"))
	}
	return nil
}

// Gallons returns the period's usage in gallons
func (p BillingPeriod) Gallons() decimal.Decimal {
	return p.UsageHGAL.Mul(GallonsPerHGAL)
}

// Days returns the number of days the period covers
func (p BillingPeriod) Days() int {
	return int(p.EndDate.Sub(p.StartDate).Hours() / 24)
}

// Overlaps reports whether two half-open periods share any time.
// Periods that only touch at a boundary do not overlap.
func (p BillingPeriod) Overlaps(o BillingPeriod) bool {
	return p.StartDate.Before(o.EndDate) && o.StartDate.Before(p.EndDate)
}

// Key returns the identity used to avoid counting a period twice
func (p BillingPeriod) Key() string {
	return p.StartDate.Format("2006-01-02")
}
