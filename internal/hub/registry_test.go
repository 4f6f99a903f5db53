package hub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/core"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register("task-1", 6)

	state, err := r.Status("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Equal(t, 0, state.Current)
	assert.Equal(t, 6, state.Total)
	assert.False(t, state.StartTime.IsZero())

	r.Progress("task-1", 3, 0)
	state, err = r.Status("task-1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.Current)
	assert.Equal(t, 6, state.Total)
	assert.Equal(t, 50, state.Percentage())

	r.Complete("task-1")
	state, err = r.Status("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 6, state.Current)
	assert.Equal(t, 100, state.Percentage())
}

func TestRegistryFail(t *testing.T) {
	r := NewRegistry()
	r.Register("task-1", 3)
	r.Fail("task-1", errors.New("provider exhausted"))

	state, err := r.Status("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "provider exhausted", state.Error)
}

func TestRegistryUnknownTask(t *testing.T) {
	r := NewRegistry()

	_, err := r.Status("nope")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	// Updates to unknown tasks are advisory no-ops.
	r.Progress("nope", 1, 2)
	r.Complete("nope")
	r.Fail("nope", errors.New("x"))
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("task-1", 4)

	snap, err := r.Status("task-1")
	require.NoError(t, err)
	snap.Current = 99

	fresh, err := r.Status("task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Current)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("task-1", 1)
	r.Remove("task-1")

	_, err := r.Status("task-1")
	assert.Error(t, err)
}

func TestTaskStatePercentageZeroTotal(t *testing.T) {
	assert.Equal(t, 0, TaskState{Current: 5, Total: 0}.Percentage())
}

func TestRegistryReRegisterResets(t *testing.T) {
	r := NewRegistry()
	r.Register("task-1", 2)
	r.Fail("task-1", errors.New("boom"))

	r.Register("task-1", 5)
	state, err := r.Status("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Empty(t, state.Error)
	assert.Equal(t, 5, state.Total)
}
