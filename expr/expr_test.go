package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseflow/errors"
)

func TestEvaluate(t *testing.T) {
	scope := MapScope{
		"retryCycle": "R5/PT5M",
		"attempts":   float64(3), // JSON numbers decode as float64
		"minutes":    7,
	}
	ev := Simple{}

	cases := []struct {
		expr string
		want string
	}{
		{"${retryCycle}", "R5/PT5M"},
		{"R${attempts}/PT${minutes}M", "R3/PT7M"},
		{"PT5M,PT20M", "PT5M,PT20M"},
		{"${ retryCycle }", "R5/PT5M"},
	}
	for _, c := range cases {
		got, err := ev.Evaluate(c.expr, scope)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, got, c.expr)
	}
}

func TestEvaluate_UnknownVariable(t *testing.T) {
	_, err := Simple{}.Evaluate("${missing}", MapScope{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestEvaluateCondition(t *testing.T) {
	scope := MapScope{
		"approved": true,
		"amount":   float64(120),
		"region":   "eu",
		"flag":     "true",
		"note":     nil,
	}
	ev := Simple{}

	cases := []struct {
		expr string
		want bool
	}{
		{"${approved}", true},
		{"${!approved}", false},
		{"${flag}", true},
		{"${amount >= 100}", true},
		{"${amount < 100}", false},
		{"${amount == 120}", true},
		{"${region == 'eu'}", true},
		{"${region != \"eu\"}", false},
		{"${note == nil}", true},
		{"${amount > 100 && approved}", true},
		{"${len(region) == 2}", true},
		{"${region in ['eu', 'us']}", true},
	}
	for _, c := range cases {
		got, err := ev.EvaluateCondition(c.expr, scope)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, got, c.expr)
	}
}

func TestEvaluateCondition_Errors(t *testing.T) {
	ev := Simple{}
	scope := MapScope{"region": "eu"}

	_, err := ev.EvaluateCondition("approved", scope)
	assert.Error(t, err, "bare words are not expressions")

	_, err = ev.EvaluateCondition("${region}", scope)
	assert.Error(t, err, "eu is not a boolean")

	_, err = ev.EvaluateCondition("${region > 3}", scope)
	assert.Error(t, err)

	_, err = ev.EvaluateCondition("${a + b}", scope)
	assert.True(t, errors.IsNotFoundError(err), "a and b are not in scope")

	_, err = ev.EvaluateCondition("${region ==}", scope)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestIsExpression(t *testing.T) {
	assert.True(t, IsExpression("${cycle}"))
	assert.True(t, IsExpression("R${n}/PT1M"))
	assert.False(t, IsExpression("R5/PT5M"))
}
