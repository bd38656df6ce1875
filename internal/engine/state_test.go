package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
)

func newTestTracker() *tracker {
	return newTracker(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) })
}

func addMission(t *tracker, id string, opts model.MissionOptions) {
	t.add(model.Mission{ID: id, Status: model.MissionStatusPending, Options: opts})
}

func TestTracker_LifecycleCounts(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})

	tr.itemQueued("m1")
	m, _ := tr.snapshot("m1")
	assert.Equal(t, 1, m.Counts.Queued)

	require.True(t, tr.itemExecuting("m1"))
	m, _ = tr.snapshot("m1")
	assert.Equal(t, 0, m.Counts.Queued)
	assert.Equal(t, 1, m.Counts.Executing)
	assert.Equal(t, model.MissionStatusRunning, m.Status)

	tr.itemSettled("m1", outcomeFinalized, true)
	m, _ = tr.snapshot("m1")
	assert.Equal(t, 1, m.Counts.Succeeded)
	assert.Equal(t, model.MissionStatusCompleted, m.Status)
}

func TestTracker_ZeroLeadsMeansFailed(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})

	tr.itemQueued("m1")
	tr.itemExecuting("m1")
	tr.itemSettled("m1", outcomeFailed, true)

	m, _ := tr.snapshot("m1")
	assert.Equal(t, model.MissionStatusFailed, m.Status)
	assert.Equal(t, 1, m.Counts.Failed)
}

func TestTracker_DuplicatesAloneStillFail(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})

	tr.itemQueued("m1")
	tr.itemExecuting("m1")
	tr.itemSettled("m1", outcomeDuplicate, true)

	m, _ := tr.snapshot("m1")
	assert.Equal(t, model.MissionStatusFailed, m.Status, "a mission that produced no leads did not complete")
}

func TestTracker_CancelIsIdempotent(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})
	tr.itemQueued("m1")

	require.True(t, tr.cancel("m1"))
	require.True(t, tr.cancel("m1"))
	assert.False(t, tr.cancel("unknown"))

	m, _ := tr.snapshot("m1")
	assert.Equal(t, model.MissionStatusCancelled, m.Status)
	assert.True(t, tr.isStopped("m1"))
}

func TestTracker_CancelledStatusSurvivesSettlement(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})

	tr.itemQueued("m1")
	tr.itemExecuting("m1")
	tr.cancel("m1")

	// The in-flight item records its outcome without flipping the status.
	tr.itemSettled("m1", outcomeFinalized, true)
	m, _ := tr.snapshot("m1")
	assert.Equal(t, model.MissionStatusCancelled, m.Status)
	assert.Equal(t, 1, m.Counts.Succeeded)
}

func TestTracker_StoppedMissionRejectsExecution(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})
	tr.itemQueued("m1")
	tr.cancel("m1")

	assert.False(t, tr.itemExecuting("m1"))
}

func TestTracker_MaxLeadsCap(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{MaxLeads: 2})

	for i := 0; i < 3; i++ {
		tr.itemQueued("m1")
	}

	tr.itemExecuting("m1")
	assert.False(t, tr.itemSettled("m1", outcomeFinalized, true))

	tr.itemExecuting("m1")
	assert.True(t, tr.itemSettled("m1", outcomeFinalized, true), "second lead reaches the cap")
	assert.True(t, tr.isStopped("m1"))
}

func TestTracker_DoneChannelClosesOnSettle(t *testing.T) {
	tr := newTestTracker()
	addMission(tr, "m1", model.MissionOptions{})

	done, ok := tr.doneCh("m1")
	require.True(t, ok)
	select {
	case <-done:
		t.Fatal("done closed before settlement")
	default:
	}

	tr.itemQueued("m1")
	tr.itemExecuting("m1")
	tr.itemSettled("m1", outcomeFailed, true)

	select {
	case <-done:
	default:
		t.Fatal("done not closed after settlement")
	}
}
