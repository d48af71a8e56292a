package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCycle(t *testing.T) {
	t.Run("repeat count", func(t *testing.T) {
		c, err := ParseCycle("R5/PT5M")
		require.NoError(t, err)
		assert.Equal(t, 5, c.Retries)
		assert.Equal(t, []time.Duration{5 * time.Minute}, c.Intervals)
		assert.Equal(t, 5*time.Minute, c.IntervalAt(4), "last interval repeats")
		assert.Equal(t, "R5/PT5M", c.String())
	})

	t.Run("list", func(t *testing.T) {
		c, err := ParseCycle("PT5M,PT20M,PT3M")
		require.NoError(t, err)
		assert.Equal(t, 4, c.Retries, "three retries remain after the first failure")
		assert.Equal(t, []time.Duration{5 * time.Minute, 20 * time.Minute, 3 * time.Minute}, c.Intervals)
		assert.Equal(t, 20*time.Minute, c.IntervalAt(1))
		assert.Equal(t, 3*time.Minute, c.IntervalAt(7))
	})

	t.Run("single duration is one retry", func(t *testing.T) {
		single, err := ParseCycle("PT10M")
		require.NoError(t, err)
		r1, err := ParseCycle("R1/PT10M")
		require.NoError(t, err)
		assert.Equal(t, r1.Retries, single.Retries)
		assert.Equal(t, r1.Intervals, single.Intervals)
	})

	t.Run("list with spaces", func(t *testing.T) {
		c, err := ParseCycle(" PT1M , PT2M ")
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, c.Intervals)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, in := range []string{"", "R5", "R/PT5M", "R-1/PT5M", "R5/5M", "PT5M,,PT1M", "soon", "R3/PT9999999999999H"} {
			_, err := ParseCycle(in)
			assert.Error(t, err, in)
		}
	})
}

func TestCycle_Default(t *testing.T) {
	var c Cycle
	assert.True(t, c.IsDefault())
	assert.Equal(t, time.Duration(0), c.IntervalAt(3))
	assert.Equal(t, "default", c.String())
}
