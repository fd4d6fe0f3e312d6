package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTrackerLifecycle(t *testing.T) {
	tracker := NewJobTracker()
	tracker.CreateJob("job-1", "proj-1")

	job, ok := tracker.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, "running", job.Status)
	assert.Equal(t, "proj-1", job.ProjectID)

	tracker.UpdateProgress("job-1", 3, 10)
	job, _ = tracker.GetJob("job-1")
	assert.Equal(t, 3, job.Progress)
	assert.Equal(t, 10, job.Total)

	tracker.Complete("job-1", 1)
	job, _ = tracker.GetJob("job-1")
	assert.Equal(t, "complete", job.Status)
	assert.Equal(t, 1, job.Failed)
	assert.False(t, job.CompletedAt.IsZero())
}

func TestJobTrackerFail(t *testing.T) {
	tracker := NewJobTracker()
	tracker.CreateJob("job-1", "proj-1")
	tracker.Fail("job-1", "github unreachable")

	job, _ := tracker.GetJob("job-1")
	assert.Equal(t, "error", job.Status)
	assert.Equal(t, "github unreachable", job.Error)
}

func TestJobTrackerSubscribersReceiveUpdates(t *testing.T) {
	tracker := NewJobTracker()
	tracker.CreateJob("job-1", "proj-1")

	ch := tracker.Subscribe("job-1")
	defer tracker.Unsubscribe("job-1", ch)

	tracker.UpdateProgress("job-1", 1, 5)

	update := <-ch
	assert.Equal(t, 1, update.Progress)
	assert.Equal(t, 5, update.Total)
}

func TestJobTrackerUnknownJob(t *testing.T) {
	tracker := NewJobTracker()
	_, ok := tracker.GetJob("missing")
	assert.False(t, ok)

	// Updating a missing job is a no-op, not a panic.
	tracker.UpdateProgress("missing", 1, 2)
	tracker.Complete("missing", 0)
}
