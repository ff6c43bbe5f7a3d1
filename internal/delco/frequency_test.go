package delco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		code string
		want Frequency
	}{
		{"D", FrequencyDaily},
		{"w", FrequencyWeekly},
		{" M ", FrequencyMonthly},
	}
	for _, tt := range tests {
		got, err := ParseFrequency(tt.code)
		require.NoError(t, err, tt.code)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseFrequencyUnsupportedCodes(t *testing.T) {
	for _, code := range []string{"Q", "Y", "H", "15", "30", "60", "B", "S", ""} {
		_, err := ParseFrequency(code)
		assert.ErrorIs(t, err, ErrFrequencyNotFound, code)
	}
}

func TestFrequencyRequiresAMI(t *testing.T) {
	assert.True(t, FrequencyDaily.RequiresAMI())
	assert.True(t, FrequencyWeekly.RequiresAMI())
	assert.False(t, FrequencyMonthly.RequiresAMI())
	assert.Equal(t, "monthly", FrequencyMonthly.String())
	assert.Equal(t, "unknown(Q)", Frequency("Q").String())
}
