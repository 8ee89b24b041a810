// Package deploy drives the multi-stage provisioning pipeline for new VPN
// nodes and tracks the progress of every in-flight deployment job.
package deploy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vpanel/core/pkg/errors"
)

// JobSnapshot is an immutable view of one deployment job. The logs slice is
// a copy; callers may retain snapshots freely.
type JobSnapshot struct {
	JobID      string
	NodeID     string
	Stage      Stage
	Logs       []string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// job is the mutable record behind a snapshot. Guarded by the tracker mutex;
// only the owning pipeline goroutine and the watchdog ever write to it.
type job struct {
	id         string
	nodeID     string
	stage      Stage
	logs       []string
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time
}

// Tracker holds the state of all deployment jobs in this process. One writer
// per job, many readers; readers always get consistent stage/log pairs
// because every mutation happens under the lock as a whole.
type Tracker struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	retention time.Duration
}

// NewTracker creates a job tracker. Finished jobs remain queryable for the
// retention window and are purged afterwards.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{
		jobs:      make(map[string]*job),
		retention: retention,
	}
}

// Create allocates a new job in the pending stage and returns its id
func (t *Tracker) Create(nodeID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.New().String()
	t.jobs[id] = &job{
		id:        id,
		nodeID:    nodeID,
		stage:     StagePending,
		logs:      make([]string, 0, 16),
		startedAt: time.Now(),
	}
	return id
}

// AppendLog adds a line to the job's progress log
func (t *Tracker) AppendLog(jobID, line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return apperrors.ErrDeploymentNotFound.WithMetadata("deployment_id", jobID)
	}
	j.logs = append(j.logs, line)
	return nil
}

// Advance moves the job to the next pipeline stage. The transition must be
// the immediate successor of the current stage; anything else is a
// programming error surfaced loudly. No-op once the job is terminal.
func (t *Tracker) Advance(jobID string, next Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return apperrors.ErrDeploymentNotFound.WithMetadata("deployment_id", jobID)
	}
	if j.stage.IsTerminal() {
		return nil
	}

	want, ok := successor(j.stage)
	if !ok || want != next {
		return apperrors.NewDeployError(apperrors.ErrCodeDeploymentFailed,
			fmt.Sprintf("illegal stage transition %s -> %s", j.stage, next), false, nil)
	}
	j.stage = next
	return nil
}

// Fail moves the job to the failed stage with the given error message.
// No-op once the job is terminal, so a late watchdog firing cannot clobber
// a completed job.
func (t *Tracker) Fail(jobID, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return apperrors.ErrDeploymentNotFound.WithMetadata("deployment_id", jobID)
	}
	if j.stage.IsTerminal() {
		return nil
	}
	j.stage = StageFailed
	j.errMsg = errMsg
	j.finishedAt = time.Now()
	return nil
}

// Complete marks the job successfully finished. Only legal from the last
// work stage; terminal jobs are left untouched.
func (t *Tracker) Complete(jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return apperrors.ErrDeploymentNotFound.WithMetadata("deployment_id", jobID)
	}
	if j.stage.IsTerminal() {
		return nil
	}

	want, ok := successor(j.stage)
	if !ok || want != StageCompleted {
		return apperrors.NewDeployError(apperrors.ErrCodeDeploymentFailed,
			fmt.Sprintf("illegal completion from stage %s", j.stage), false, nil)
	}
	j.stage = StageCompleted
	j.finishedAt = time.Now()
	return nil
}

// Get returns a snapshot of the job, or DeploymentNotFound if the id is
// unknown or the job aged past retention
func (t *Tracker) Get(jobID string) (JobSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	j, ok := t.jobs[jobID]
	if !ok || t.expired(j, time.Now()) {
		return JobSnapshot{}, apperrors.ErrDeploymentNotFound.WithMetadata("deployment_id", jobID)
	}
	return snapshotOf(j), nil
}

// Sweep removes finished jobs older than the retention window. Called
// periodically by the tick coordinator.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, j := range t.jobs {
		if t.expired(j, now) {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of jobs not yet in a terminal stage
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, j := range t.jobs {
		if !j.stage.IsTerminal() {
			n++
		}
	}
	return n
}

func (t *Tracker) expired(j *job, now time.Time) bool {
	return j.stage.IsTerminal() && !j.finishedAt.IsZero() && now.Sub(j.finishedAt) > t.retention
}

func snapshotOf(j *job) JobSnapshot {
	logs := make([]string, len(j.logs))
	copy(logs, j.logs)
	return JobSnapshot{
		JobID:      j.id,
		NodeID:     j.nodeID,
		Stage:      j.stage,
		Logs:       logs,
		Error:      j.errMsg,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}
