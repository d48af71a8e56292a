package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityStateBits(t *testing.T) {
	var s EntityState
	s = s.With(EventSubscriptions).With(Jobs).With(ExternalTasks)

	assert.Equal(t, EntityState(0x1|0x4|0x80), s)
	assert.True(t, s.Has(Jobs))
	assert.False(t, s.Has(Tasks))
	assert.Equal(t, "EVENT_SUBSCRIPTIONS|JOBS|EXTERNAL_TASKS", s.String())
	assert.Equal(t, "-", EntityState(0).String())
}

func TestMarkRelated_ScopedKindsGoToScope(t *testing.T) {
	a := NewArena(sequentialIDs())
	root, _ := a.StartProcessInstance("def", "")
	tokens, _ := a.Fork(root.ID, 2)
	tok := tokens[0]

	for _, kind := range []EntityKind{Tasks, Jobs, EventSubscriptions} {
		require.NoError(t, a.MarkRelated(tok.ID, kind))
	}
	for _, kind := range []EntityKind{Variables, Incidents, ExternalTasks} {
		require.NoError(t, a.MarkRelated(tok.ID, kind))
	}

	assert.True(t, root.CachedEntityState.Has(Tasks))
	assert.True(t, root.CachedEntityState.Has(Jobs))
	assert.True(t, root.CachedEntityState.Has(EventSubscriptions))
	assert.False(t, root.CachedEntityState.Has(Variables))

	assert.True(t, tok.CachedEntityState.Has(Variables))
	assert.True(t, tok.CachedEntityState.Has(Incidents))
	assert.True(t, tok.CachedEntityState.Has(ExternalTasks))
	assert.False(t, tok.CachedEntityState.Has(Tasks))
}

func TestMarkRelated_NonRootScope(t *testing.T) {
	t.Log("User task inside an embedded subprocess")
	a := NewArena(sequentialIDs())
	root, _ := a.StartProcessInstance("def", "")
	sub, _ := a.CreateChild(root.ID, ChildScope)

	require.NoError(t, a.MarkRelated(sub.ID, Tasks))

	assert.Equal(t, EntityState(0), root.CachedEntityState, "root is untouched")
	assert.Equal(t, EntityState(0).With(Tasks), sub.CachedEntityState)
}

func TestResetEntityState(t *testing.T) {
	a := NewArena(sequentialIDs())
	root, _ := a.StartProcessInstance("def", "")
	tokens, _ := a.Fork(root.ID, 2)
	require.NoError(t, a.MarkRelated(tokens[1].ID, Variables)) // stale bit
	a.ClearChanges()

	a.ResetEntityState([]EntityRef{
		{ExecutionID: tokens[0].ID, Kind: Tasks},
		{ExecutionID: tokens[0].ID, Kind: Incidents},
		{ExecutionID: "gone", Kind: Jobs},
	})

	assert.Equal(t, EntityState(0).With(Tasks), root.CachedEntityState)
	assert.Equal(t, EntityState(0).With(Incidents), tokens[0].CachedEntityState)
	assert.Equal(t, EntityState(0), tokens[1].CachedEntityState, "reload clears bits with no backing rows")
	assert.Len(t, a.Changes().Updated, 3)
}
