package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UsagePoint represents one calendar month from the monthly usage endpoint
type UsagePoint struct {
	Period    string          `json:"period"` // "2025-01"
	ValueHGAL decimal.Decimal `json:"value_hgal"`
}

// Month returns the first instant of the point's calendar month in UTC
func (u UsagePoint) Month() (time.Time, error) {
	t, err := time.Parse("2006-01", u.Period)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing usage period %q: %w", u.Period, err)
	}
	return t, nil
}

// AsPeriod converts the point into a calendar-month billing period
func (u UsagePoint) AsPeriod() (BillingPeriod, error) {
	start, err := u.Month()
	if err != nil {
		return BillingPeriod{}, err
	}
	return BillingPeriod{
		StartDate: start,
		EndDate:   start.AddDate(0, 1, 0),
		UsageHGAL: u.ValueHGAL,
		Source:    SourceAPIMonthly,
	}, nil
}
