package engine

import (
	"sync"
	"time"

	"github.com/sells-group/leadscout/internal/model"
)

// missionState is the live record of one mission. The tracker is its
// only mutator; everything handed out is a copy.
type missionState struct {
	mission model.Mission

	// pending counts non-terminal work items (queued, retry_wait, or
	// executing). The mission settles when it reaches zero.
	pending int

	// stopped halts dispatch of not-yet-executing items: set by Cancel
	// and by the MaxLeads cap. In-flight items still record their
	// outcomes but never advance the mission further.
	stopped bool

	done chan struct{}
}

// tracker owns all mission and work-item state transitions and the
// aggregate counters behind Status.
type tracker struct {
	mu       sync.Mutex
	missions map[string]*missionState
	now      func() time.Time
}

func newTracker(now func() time.Time) *tracker {
	if now == nil {
		now = time.Now
	}
	return &tracker{
		missions: make(map[string]*missionState),
		now:      now,
	}
}

func (t *tracker) add(m model.Mission) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missions[m.ID] = &missionState{
		mission: m,
		done:    make(chan struct{}),
	}
}

// snapshot returns a copy of the mission, if known.
func (t *tracker) snapshot(id string) (model.Mission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[id]
	if !ok {
		return model.Mission{}, false
	}
	return ms.mission, true
}

// snapshots returns copies of every tracked mission.
func (t *tracker) snapshots() []model.Mission {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Mission, 0, len(t.missions))
	for _, ms := range t.missions {
		out = append(out, ms.mission)
	}
	return out
}

// itemQueued records a newly enqueued work item.
func (t *tracker) itemQueued(missionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[missionID]
	if !ok {
		return
	}
	ms.pending++
	ms.mission.Counts.Queued++
	t.touch(ms)
}

// itemExecuting moves an item from the queued gauge to executing. It
// reports false when the mission has stopped and the item must be
// dropped instead of run.
func (t *tracker) itemExecuting(missionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[missionID]
	if !ok {
		return false
	}
	if ms.stopped || ms.mission.Status.Terminal() {
		return false
	}
	if ms.mission.Status == model.MissionStatusPending {
		ms.mission.Status = model.MissionStatusRunning
	}
	ms.mission.Counts.Queued--
	ms.mission.Counts.Executing++
	t.touch(ms)
	return true
}

// itemRequeued returns an executing item to the queued gauge, used for
// retry_wait scheduling.
func (t *tracker) itemRequeued(missionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[missionID]
	if !ok {
		return
	}
	ms.mission.Counts.Executing--
	ms.mission.Counts.Queued++
	t.touch(ms)
}

// outcome classifies how an item left the pipeline.
type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeFinalized
	outcomeFailed
	outcomeDuplicate
	outcomeDropped
)

// itemSettled records a terminal outcome for an item that was executing
// (or queued, for outcomeDropped and child duplicates) and finalizes the
// mission once nothing is left in flight. It reports whether the
// MaxLeads cap was hit by this settlement.
func (t *tracker) itemSettled(missionID string, out outcome, wasExecuting bool) (capReached bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[missionID]
	if !ok {
		return false
	}

	if wasExecuting {
		ms.mission.Counts.Executing--
	} else {
		ms.mission.Counts.Queued--
	}

	switch out {
	case outcomeFinalized:
		ms.mission.Counts.Succeeded++
	case outcomeFailed:
		ms.mission.Counts.Failed++
	case outcomeDuplicate:
		ms.mission.Counts.Duplicate++
	}

	ms.pending--

	if max := ms.mission.Options.MaxLeads; max > 0 && ms.mission.Counts.Succeeded >= max && !ms.stopped {
		ms.stopped = true
		capReached = true
	}

	if ms.pending <= 0 {
		t.finalize(ms)
	}
	t.touch(ms)
	return capReached
}

// duplicateChild records a fan-out child that was short-circuited by the
// dedup store before ever being enqueued.
func (t *tracker) duplicateChild(missionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[missionID]
	if !ok {
		return
	}
	ms.mission.Counts.Duplicate++
	t.touch(ms)
}

// cancel marks the mission cancelled. Idempotent; reports whether the
// mission is known.
func (t *tracker) cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[id]
	if !ok {
		return false
	}
	if ms.mission.Status.Terminal() {
		return true
	}
	ms.stopped = true
	ms.mission.Status = model.MissionStatusCancelled
	if ms.pending <= 0 {
		t.closeDone(ms)
	}
	t.touch(ms)
	return true
}

// stopped reports whether dispatch for the mission is halted.
func (t *tracker) isStopped(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[id]
	if !ok {
		return true
	}
	return ms.stopped || ms.mission.Status.Terminal()
}

// doneCh returns a channel closed once the mission has settled.
func (t *tracker) doneCh(id string) (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.missions[id]
	if !ok {
		return nil, false
	}
	return ms.done, true
}

// allSettled reports whether every tracked mission has reached a
// terminal status.
func (t *tracker) allSettled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ms := range t.missions {
		if !ms.mission.Status.Terminal() {
			return false
		}
	}
	return true
}

// finalize computes the terminal status once nothing is queued or
// executing: cancelled stays cancelled, otherwise a mission with zero
// finalized leads failed and any lead at all completes it.
func (t *tracker) finalize(ms *missionState) {
	if !ms.mission.Status.Terminal() {
		if ms.mission.Counts.Succeeded > 0 {
			ms.mission.Status = model.MissionStatusCompleted
		} else {
			ms.mission.Status = model.MissionStatusFailed
		}
	}
	t.closeDone(ms)
}

func (t *tracker) closeDone(ms *missionState) {
	select {
	case <-ms.done:
	default:
		close(ms.done)
	}
}

func (t *tracker) touch(ms *missionState) {
	ms.mission.UpdatedAt = t.now().UTC()
}
