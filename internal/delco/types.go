package delco

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FlexString accepts a JSON string or number. The vendor is not consistent
// about quoting identifiers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the raw value
func (f FlexString) String() string {
	return string(f)
}

// Amount is a decimal that tolerates quoted values, dollar signs,
// thousands separators, empty strings and null.
type Amount struct {
	decimal.NullDecimal
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	if s == "" || s == "null" {
		a.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parsing amount %s: %w", b, err)
	}
	a.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

// Value returns the amount, or zero when it was missing
func (a Amount) Value() decimal.Decimal {
	if !a.Valid {
		return decimal.Zero
	}
	return a.Decimal
}

type accountResponse struct {
	MyAccount Account `json:"myAccount"`
}

// Account is the subset of /account the client relies on
type Account struct {
	AccountID        FlexString       `json:"accountId"`
	AccountBalance   Amount           `json:"accountBalance"`
	LatestBillAmount Amount           `json:"latestBillAmount"`
	PreviousBalance  Amount           `json:"previousBalance"`
	LatestPayment    Amount           `json:"latestPayment"` // negative, e.g. "-331.7"
	BillDisplayURL   string           `json:"billDisplayURL"`
	ServiceAddresses []ServiceAddress `json:"serviceAddresses"`
}

// ServiceAddress is one premise on the account
type ServiceAddress struct {
	PremiseID FlexString `json:"premiseId"`
	Address   string     `json:"address,omitempty"`
}

// PremiseID returns the first service address's premise
func (a *Account) PremiseID() (string, error) {
	if len(a.ServiceAddresses) == 0 || a.ServiceAddresses[0].PremiseID == "" {
		return "", fmt.Errorf("no service addresses found in account")
	}
	return a.ServiceAddresses[0].PremiseID.String(), nil
}

// UsageResponse is the body returned by /usage
type UsageResponse struct {
	Usage struct {
		Status       FlexString     `json:"status"`
		Message      string         `json:"message,omitempty"`
		UsageHistory []UsageHistory `json:"usageHistory"`
	} `json:"usage"`
}

// UsageHistory is one metered series, normally "Water Meter Consumption"
type UsageHistory struct {
	UOM       string       `json:"uom"`
	UsageData []UsageDatum `json:"usageData"`
}

// UsageDatum is a single reading in the series
type UsageDatum struct {
	Period string `json:"period"` // "2025-01" for monthly data
	Value  Amount `json:"value"`
}

type billingResponse struct {
	AccountID FlexString `json:"accountId"`
	Billing   []Bill     `json:"billing"`
}

// Bill is one billing-history record. It carries the bill and read dates
// but not the exact service period, which only the PDF has.
type Bill struct {
	BillID     FlexString `json:"billId"`
	BillDate   string     `json:"billDate"` // "2025-01-15"
	BillAmount Amount     `json:"billAmount"`
	ReadDate   string     `json:"readDate,omitempty"`
	DueDate    string     `json:"dueDate,omitempty"`
}

// Dates parses the bill, read and due dates. Missing dates come back zero.
func (b Bill) Dates() (billDate, readDate, dueDate time.Time, err error) {
	if billDate, err = parseAPIDate(b.BillDate); err != nil {
		return
	}
	if readDate, err = parseAPIDate(b.ReadDate); err != nil {
		return
	}
	dueDate, err = parseAPIDate(b.DueDate)
	return
}

type paymentResponse struct {
	AccountID FlexString      `json:"accountId"`
	Payment   []paymentRecord `json:"payment"`
}

type paymentRecord struct {
	PaymentDate   string `json:"paymentDate"`
	PaymentAmount Amount `json:"paymentAmount"`
	TenderType    string `json:"tenderType"`
	Source        string `json:"source"`
}

// parseAPIDate accepts "2006-01-02" with an optional time suffix
func parseAPIDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
