package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pftest "github.com/teranos/pulseflow/internal/testing"
)

func TestIncidentStore(t *testing.T) {
	ctx := context.Background()
	store := NewIncidentStore(pftest.CreateTestDB(t))

	job := &Job{
		ID:                "j1",
		ExecutionID:       "e1",
		ProcessInstanceID: "pi-1",
		ActivityID:        "charge",
		ExceptionMessage:  "card declined",
	}
	first := NewFailedJobIncident(job, t0)
	assert.Equal(t, IncidentTypeFailedJob, first.Type)
	assert.Equal(t, "card declined", first.Message)
	require.NoError(t, store.CreateIncident(ctx, first))

	second := NewFailedJobIncident(&Job{ID: "j2", ProcessInstanceID: "pi-2"}, t0.Add(time.Minute))
	require.NoError(t, store.CreateIncident(ctx, second))

	all, err := store.ListIncidents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	byInstance, err := store.ListIncidents(ctx, "pi-1", 10)
	require.NoError(t, err)
	require.Len(t, byInstance, 1)
	assert.Equal(t, "e1", byInstance[0].ExecutionID)
	assert.Equal(t, "charge", byInstance[0].ActivityID)

	byJob, err := store.ListIncidentsByJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, byJob, 1)

	n, err := store.DeleteIncidentsByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteIncidentsByProcessInstance(ctx, "pi-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err = store.ListIncidents(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}
