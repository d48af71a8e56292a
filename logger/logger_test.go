package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func TestInitializeJSON(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev; JSONOutput = false })

	require.NoError(t, Initialize(true, VerbosityInfo))
	assert.True(t, JSONOutput)
	assert.NotNil(t, Logger)
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithProcessInstanceID(ctx, "pi-1")
	ctx = WithComponent(ctx, "pulse")

	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{
		FieldJobID, "job-1",
		FieldProcessInstanceID, "pi-1",
		FieldComponent, "pulse",
	}, fields)

	assert.Empty(t, FieldsFromContext(context.Background()))
}

func TestFromContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithJobID(context.Background(), "job-7")
	FromContext(ctx, base).Infow("executing")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "job-7", logs.All()[0].ContextMap()[FieldJobID])
}

func TestSymbolWrappers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	AddPulseSymbol(base).Infow("tick")
	AddEngineSymbol(base).Infow("step")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "꩜", logs.All()[0].ContextMap()[FieldSymbol])
	assert.Equal(t, "⟶", logs.All()[1].ContextMap()[FieldSymbol])
}
