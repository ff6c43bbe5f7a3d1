// Package billpdf reads Del-Co Water bill PDFs. Bills have changed layout
// twice; Parse knows all three versions seen so far.
package billpdf

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jgoulah/delcoscraper/pkg/models"
)

// Layout names a known bill format
type Layout string

const (
	// LayoutNewGallons is used from 2025-08: usage in gallons, no hyphen between dates
	LayoutNewGallons Layout = "new_gallons"
	// LayoutMidHGAL has usage in HGAL, a hyphen between dates and commas in readings
	LayoutMidHGAL Layout = "mid_hgal"
	// LayoutOldHGAL splits readings and charges over two lines keyed by meter ID
	LayoutOldHGAL Layout = "old_hgal"
)

// ErrUnknownLayout is returned when no known layout matches the text
var ErrUnknownLayout = errors.New("could not parse bill PDF: unknown format")

var (
	// Water Residential Charge ADDR PREMISE MM/DD/YY MM/DD/YY PRIOR CURR USAGE $CHG
	newPattern = regexp.MustCompile(
		`Water Residential Charge\s+.*?` +
			`(\d{2}/\d{2}/\d{2})\s+(\d{2}/\d{2}/\d{2})\s+` +
			`(\d+)\s+(\d+)\s+(\d+)\s+\$?([\d,]*\.?\d+)`)

	// Water (Residential Charge|Charges...) ADDR PREMISE MM/DD/YY - MM/DD/YY PRIOR CURR HGAL $CHG
	midPattern = regexp.MustCompile(
		`Water (?:Residential Charge|Charges[^\d]*)\s+.*?` +
			`(\d{2}/\d{2}/\d{2})\s*-\s*(\d{2}/\d{2}/\d{2})\s+` +
			`([\d,]+)\s+([\d,]+)\s+(\d+)\s+\$?([\d,]*\.?\d+)`)

	// METER_ID MM/DD/YY - MM/DD/YY Actual PRIOR CURRENT USAGE_HGAL
	oldReadingPattern = regexp.MustCompile(
		`(\d+)\s+(\d{2}/\d{2}/\d{2})\s*-\s*(\d{2}/\d{2}/\d{2})\s+` +
			`Actual\s+([\d,]+)\s+([\d,]+)\s+(\d+)`)

	// Water Residential Service DAYS TOTAL USAGE ALL METERS HGAL GPD $CHARGE
	oldChargePattern = regexp.MustCompile(
		`Water Residential Service\s+\d+\s+` +
			`TOTAL USAGE ALL METERS\s+(\d+)\s+[\d.]+\s+\$?([\d,]*\.?\d+)`)
)

// Bill is what a bill PDF says about its water service period
type Bill struct {
	ServiceFrom    time.Time
	ServiceTo      time.Time
	PriorReading   int64
	CurrentReading int64
	UsageGallons   decimal.Decimal
	Charges        decimal.Decimal // water charge only, not the bill total
	Layout         Layout
}

// UsageHGAL returns the usage in hundred gallons
func (b Bill) UsageHGAL() decimal.Decimal {
	return b.UsageGallons.Div(models.GallonsPerHGAL)
}

// Period converts the bill into a PDF-derived billing period
func (b Bill) Period() models.BillingPeriod {
	return models.BillingPeriod{
		StartDate:      b.ServiceFrom,
		EndDate:        b.ServiceTo,
		UsageHGAL:      b.UsageHGAL(),
		CostUSD:        b.Charges,
		Source:         models.SourcePDFParsed,
		PriorReading:   b.PriorReading,
		CurrentReading: b.CurrentReading,
		Layout:         string(b.Layout),
	}
}

// ParsePDF extracts the text of a bill document and parses it
func ParsePDF(data []byte) (*Bill, error) {
	text, err := ExtractText(data)
	if err != nil {
		return nil, err
	}
	return Parse(text)
}

// Parse matches bill text against the known layouts, newest first
func Parse(text string) (*Bill, error) {
	if m := newPattern.FindStringSubmatch(text); m != nil {
		return build(LayoutNewGallons, m[1], m[2], m[3], m[4], m[5], m[6], 1)
	}

	if m := midPattern.FindStringSubmatch(text); m != nil {
		return build(LayoutMidHGAL, m[1], m[2], m[3], m[4], m[5], m[6], 100)
	}

	reading := oldReadingPattern.FindStringSubmatch(text)
	charge := oldChargePattern.FindStringSubmatch(text)
	if reading != nil && charge != nil {
		return build(LayoutOldHGAL, reading[2], reading[3], reading[4], reading[5], reading[6], charge[2], 100)
	}

	return nil, ErrUnknownLayout
}

func build(layout Layout, from, to, prior, current, usage, charges string, gallonsPerUnit int64) (*Bill, error) {
	b := &Bill{Layout: layout}
	var err error

	if b.ServiceFrom, err = parseDate(from); err != nil {
		return nil, err
	}
	if b.ServiceTo, err = parseDate(to); err != nil {
		return nil, err
	}
	if !b.ServiceFrom.Before(b.ServiceTo) {
		return nil, fmt.Errorf("%s bill: service period %s to %s: %w", layout, from, to, models.ErrInvalidPeriod)
	}
	if b.PriorReading, err = parseInt(prior); err != nil {
		return nil, err
	}
	if b.CurrentReading, err = parseInt(current); err != nil {
		return nil, err
	}

	units, err := parseInt(usage)
	if err != nil {
		return nil, err
	}
	b.UsageGallons = decimal.NewFromInt(units * gallonsPerUnit)

	if b.Charges, err = decimal.NewFromString(strings.ReplaceAll(charges, ",", "")); err != nil {
		return nil, fmt.Errorf("parsing charges %q: %w", charges, err)
	}
	return b, nil
}

// parseDate parses the MM/DD/YY dates printed on bills
func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("01/02/06", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing bill date %q: %w", s, err)
	}
	return t, nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing number %q: %w", s, err)
	}
	return n, nil
}
