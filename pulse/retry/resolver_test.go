package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/pulseflow/expr"
)

func TestResolver_Precedence(t *testing.T) {
	ctx := context.Background()

	t.Run("default without any configuration", func(t *testing.T) {
		r, err := NewResolver("", nil, nil)
		require.NoError(t, err)

		c, src := r.Resolve(ctx, ResolveInput{})
		assert.Equal(t, SourceDefault, src)
		assert.True(t, c.IsDefault())
	})

	t.Run("global beats default", func(t *testing.T) {
		r, err := NewResolver("PT5M,PT20M,PT3M", nil, nil)
		require.NoError(t, err)

		c, src := r.Resolve(ctx, ResolveInput{})
		assert.Equal(t, SourceGlobal, src)
		assert.Len(t, c.Intervals, 3)
	})

	t.Run("activity literal beats global", func(t *testing.T) {
		r, err := NewResolver("PT5M,PT20M,PT3M", nil, nil)
		require.NoError(t, err)

		c, src := r.Resolve(ctx, ResolveInput{ActivityCycle: "R2/PT1M"})
		assert.Equal(t, SourceActivity, src)
		assert.Equal(t, 2, c.Retries)
	})

	t.Run("activity expression evaluated against variables", func(t *testing.T) {
		r, err := NewResolver("", expr.Simple{}, nil)
		require.NoError(t, err)

		scope := expr.MapScope{"retryCycle": "PT1M,PT2M"}
		c, src := r.Resolve(ctx, ResolveInput{ActivityCycle: "${retryCycle}", Scope: scope})
		assert.Equal(t, SourceActivity, src)
		assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, c.Intervals)

		t.Log("the variable changes between failures; the next resolution sees it")
		scope["retryCycle"] = "R9/PT9M"
		c, _ = r.Resolve(ctx, ResolveInput{ActivityCycle: "${retryCycle}", Scope: scope})
		assert.Equal(t, 9, c.Retries)
	})

	t.Run("evaluation error falls through and is logged", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		r, err := NewResolver("R3/PT1M", expr.Simple{}, zap.New(core).Sugar())
		require.NoError(t, err)

		c, src := r.Resolve(ctx, ResolveInput{ActivityID: "charge", ActivityCycle: "${missing}", Scope: expr.MapScope{}})
		assert.Equal(t, SourceGlobal, src)
		assert.Equal(t, 3, c.Retries)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("unparseable activity literal falls through to default", func(t *testing.T) {
		r, err := NewResolver("", nil, nil)
		require.NoError(t, err)

		_, src := r.Resolve(ctx, ResolveInput{ActivityCycle: "whenever"})
		assert.Equal(t, SourceDefault, src)
	})
}

func TestNewResolver_InvalidGlobal(t *testing.T) {
	_, err := NewResolver("R5/forever", nil, nil)
	assert.Error(t, err)
}
