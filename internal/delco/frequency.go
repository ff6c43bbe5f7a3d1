package delco

import (
	"errors"
	"fmt"
	"strings"
)

// Frequency is the read interval requested from /usage
type Frequency string

const (
	FrequencyDaily   Frequency = "D" // AMI meters only
	FrequencyWeekly  Frequency = "W" // AMI meters only
	FrequencyMonthly Frequency = "M" // all meters
)

var (
	// ErrFrequencyNotFound is returned for frequency codes the API does not know
	ErrFrequencyNotFound = errors.New("frequency not found")
	// ErrNoUsageData is returned when the API answers but has no readings,
	// which is what a non-AMI meter gets for daily or weekly requests
	ErrNoUsageData = errors.New("no usage data returned")
)

var frequencyNames = map[Frequency]string{
	FrequencyDaily:   "daily",
	FrequencyWeekly:  "weekly",
	FrequencyMonthly: "monthly",
}

// ParseFrequency maps a code such as "M" to a Frequency
func ParseFrequency(code string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := frequencyNames[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrFrequencyNotFound, code)
	}
	return f, nil
}

// RequiresAMI reports whether only AMI meters can serve this frequency
func (f Frequency) RequiresAMI() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// String returns the human name of the frequency
func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%s)", string(f))
}

// ProbeCodes lists the codes worth trying when discovering what a meter
// supports. Only D, W and M are documented; the rest are guesses that the
// API has been seen to reject.
var ProbeCodes = []string{"D", "W", "M", "Q", "Y", "H", "15", "30", "60", "B", "S"}
