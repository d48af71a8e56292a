// Package retry resolves failed-job retry cycles and applies them to jobs.
package retry

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"github.com/teranos/pulseflow/errors"
)

// ParseDuration parses an ISO-8601 duration built from weeks, days, hours,
// minutes and seconds. Years and months are rejected because their length
// depends on the calendar. Only the seconds component may carry a fraction.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 3 || s[0] != 'P' || s[len(s)-1] == 'T' {
		return 0, errors.NewInvalidRequestError("invalid ISO-8601 duration %q", orig)
	}

	d, err := duration.Parse(s)
	if err != nil {
		return 0, errors.NewInvalidRequestError("invalid ISO-8601 duration %q: %v", orig, err)
	}
	if d.Years != 0 || d.Months != 0 {
		return 0, errors.NewInvalidRequestError("duration %q uses years or months; use days instead", orig)
	}

	components := []struct {
		value float64
		unit  time.Duration
	}{
		{d.Weeks, 7 * 24 * time.Hour},
		{d.Days, 24 * time.Hour},
		{d.Hours, time.Hour},
		{d.Minutes, time.Minute},
		{d.Seconds, time.Second},
	}

	var total time.Duration
	for _, c := range components {
		if c.value != math.Trunc(c.value) && c.unit != time.Second {
			return 0, errors.NewInvalidRequestError("fractions are only allowed on seconds in %q", orig)
		}
		n := c.value * float64(c.unit)
		if n >= float64(math.MaxInt64-total) {
			return 0, errors.NewInvalidRequestError("duration %q is out of range", orig)
		}
		total += time.Duration(math.Round(n))
	}
	return total, nil
}

// FormatDuration renders d in the PnDTnHnMnS form accepted by ParseDuration
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteByte('P')
	if days := d / (24 * time.Hour); days > 0 {
		b.WriteString(strconv.FormatInt(int64(days), 10) + "D")
		d -= days * 24 * time.Hour
	}
	if d == 0 {
		return b.String()
	}

	b.WriteByte('T')
	if h := d / time.Hour; h > 0 {
		b.WriteString(strconv.FormatInt(int64(h), 10) + "H")
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		b.WriteString(strconv.FormatInt(int64(m), 10) + "M")
		d -= m * time.Minute
	}
	if d > 0 {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S")
	}
	return b.String()
}
