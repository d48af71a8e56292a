package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseflow/errors"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT5M", 5 * time.Minute},
		{"PT20M", 20 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"PT10S", 10 * time.Second},
		{"PT1.5S", 1500 * time.Millisecond},
		{"P1D", 24 * time.Hour},
		{"P2DT3H", 51 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"pt3m", 3 * time.Minute},
		{" PT0S ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "P", "PT", "5M", "P1DT", "P1Y", "P1M", "PT5X", "PT1.5H", "P1.5D", "PTM", "-PT5M",
		"PT9999999999999H", "PT99999999999999999999M", "P999999999D", "P99999999999W"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDuration(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	for _, d := range []time.Duration{0, 5 * time.Minute, 90 * time.Minute, 26*time.Hour + 2*time.Second, 1500 * time.Millisecond} {
		s := FormatDuration(d)
		back, err := ParseDuration(s)
		require.NoError(t, err, s)
		assert.Equal(t, d, back, s)
	}
	assert.Equal(t, "PT5M", FormatDuration(5*time.Minute))
	assert.Equal(t, "P1D", FormatDuration(24*time.Hour))
}
