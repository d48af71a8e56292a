package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseflow/errors"
	pftest "github.com/teranos/pulseflow/internal/testing"
)

func TestStore_FlushAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pftest.CreateTestDB(t))

	a := NewArena(sequentialIDs())
	root, _ := a.StartProcessInstance("order:1.0.0", "order-42")
	sub, _ := a.CreateChild(root.ID, ChildScope)
	sub.ActivityID = "approve"
	sub.WaitState = WaitTask
	root.ActivityID = "subprocess"
	root.IsActive = false

	require.NoError(t, store.Flush(ctx, a.Changes()))
	a.ClearChanges()

	require.NoError(t, store.InsertTask(ctx, &Task{
		ID: "t1", ExecutionID: sub.ID, ProcessInstanceID: root.ID, ActivityID: "approve", CreatedAt: time.Now(),
	}))

	loaded, err := store.LoadArena(ctx, root.ID, nil)
	require.NoError(t, err)

	got, err := loaded.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "approve", got.ActivityID)
	assert.Equal(t, WaitTask, got.WaitState)
	assert.True(t, got.CachedEntityState.Has(Tasks), "bits are recomputed from related rows on load")

	loadedRoot, _ := loaded.Root()
	assert.Equal(t, "order-42", loadedRoot.BusinessKey)
	assert.False(t, loadedRoot.IsActive)
	assert.Equal(t, []string{sub.ID}, loadedRoot.ChildIDs)
}

func TestStore_FlushUpdatesAndRemovals(t *testing.T) {
	ctx := context.Background()
	conn := pftest.CreateTestDB(t)
	store := NewStore(conn)

	a := NewArena(sequentialIDs())
	root, _ := a.StartProcessInstance("def", "")
	tokens, _ := a.Fork(root.ID, 2)
	require.NoError(t, store.Flush(ctx, a.Changes()))
	a.ClearChanges()

	require.NoError(t, a.Remove(tokens[1].ID))
	tokens[0].ActivityID = "after"
	_, _ = a.IncrementSequenceCounter(tokens[0].ID)
	_, err := a.Collapse(tokens[0].ID)
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, a.Changes()))

	rows, err := store.FindExecutionsByProcessInstance(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "after", rows[0].ActivityID)
	assert.Equal(t, int64(1), rows[0].SequenceCounter)
}

func TestStore_LoadMissingInstance(t *testing.T) {
	store := NewStore(pftest.CreateTestDB(t))
	_, err := store.LoadArena(context.Background(), "nope", nil)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_ReassignExecution(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pftest.CreateTestDB(t))
	now := time.Now()

	child, err := NewVariable("v1", "child", "pi", "amount", 10, now)
	require.NoError(t, err)
	parent, err := NewVariable("v2", "parent", "pi", "amount", 5, now)
	require.NoError(t, err)
	require.NoError(t, store.SaveVariable(ctx, child))
	require.NoError(t, store.SaveVariable(ctx, parent))
	require.NoError(t, store.InsertEventSubscription(ctx, &EventSubscription{
		ID: "s1", ExecutionID: "child", ProcessInstanceID: "pi", ActivityID: "wait", EventName: "paid", CreatedAt: now,
	}))

	require.NoError(t, store.ReassignExecution(ctx, "child", "parent"))

	vars, err := store.ListVariablesByProcessInstance(ctx, "pi")
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "parent", vars[0].ExecutionID)
	value, err := vars[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, float64(10), value, "the collapsing child's value wins")

	subs, err := store.FindEventSubscriptions(ctx, "paid", "")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "parent", subs[0].ExecutionID)
}

func TestStore_SaveVariableOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pftest.CreateTestDB(t))
	now := time.Now()

	v, _ := NewVariable("v1", "e1", "pi", "retryCycle", "R3/PT1M", now)
	require.NoError(t, store.SaveVariable(ctx, v))
	v2, _ := NewVariable("v-other", "e1", "pi", "retryCycle", "R5/PT5M", now)
	require.NoError(t, store.SaveVariable(ctx, v2))

	vars, err := store.ListVariablesByProcessInstance(ctx, "pi")
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "v1", vars[0].ID)
	assert.JSONEq(t, `"R5/PT5M"`, string(vars[0].Value))
}

func TestStore_RelatedLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pftest.CreateTestDB(t))
	now := time.Now()

	require.NoError(t, store.InsertExternalTask(ctx, &ExternalTask{
		ID: "x1", ExecutionID: "e1", ProcessInstanceID: "pi", ActivityID: "charge", Topic: "payments", CreatedAt: now,
	}))
	require.NoError(t, store.InsertTask(ctx, &Task{
		ID: "t1", ExecutionID: "e1", ProcessInstanceID: "pi", ActivityID: "review", Name: "Review order", CreatedAt: now,
	}))

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Review order", task.Name)

	ext, err := store.ListExternalTasks(ctx, "payments")
	require.NoError(t, err)
	require.Len(t, ext, 1)

	refs, err := store.ListEntityRefs(ctx, "pi")
	require.NoError(t, err)
	assert.ElementsMatch(t, []EntityRef{
		{ExecutionID: "e1", Kind: ExternalTasks},
		{ExecutionID: "e1", Kind: Tasks},
	}, refs)

	require.NoError(t, store.DeleteRelatedByProcessInstance(ctx, "pi"))
	_, err = store.GetTask(ctx, "t1")
	assert.True(t, errors.IsNotFoundError(err))
	_, err = store.GetExternalTask(ctx, "x1")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_InsertFailureCarriesExecutionID(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO executions").WillReturnError(fmt.Errorf("disk I/O error"))

	err = NewStore(conn).InsertExecution(context.Background(), Execution{ID: "e7", ProcessInstanceID: "e1"})
	require.Error(t, err)
	assert.Contains(t, errors.FlattenDetails(err), "Execution ID: e7")
	assert.NoError(t, mock.ExpectationsWereMet())
}
