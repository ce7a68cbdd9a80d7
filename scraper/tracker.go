package scraper

import (
	"fmt"
	"time"
)

// Default polling cadences.
const (
	DefaultActiveInterval = 10 * time.Second
	DefaultIdleInterval   = 5 * time.Minute
)

// Job is a point-in-time view of the tracked job.
type Job struct {
	ID          string    `json:"id,omitempty"`
	Restaurant  string    `json:"restaurant,omitempty"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	PollEvery   string    `json:"poll_every"`
}

// Tracker is the job state machine of one session:
//
//	Ready -> InProgress          Begin
//	InProgress -> Completed|Failed   Observe
//	Completed|Failed -> Ready     Acknowledge
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	status      Status
	jobID       string
	restaurant  string
	submittedAt time.Time
	updatedAt   time.Time

	active time.Duration
	idle   time.Duration
	now    func() time.Time
}

// NewTracker returns a Ready tracker. Non-positive intervals use the defaults.
func NewTracker(active, idle time.Duration) *Tracker {
	if active <= 0 {
		active = DefaultActiveInterval
	}
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	return &Tracker{active: active, idle: idle, now: time.Now}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	return t.status
}

// JobID returns the tracked job id, empty when Ready.
func (t *Tracker) JobID() string {
	return t.jobID
}

// Outstanding reports whether a job is in progress.
func (t *Tracker) Outstanding() bool {
	return t.status.State == StateInProgress
}

// Begin starts tracking a submitted job. It fails with ErrJobOutstanding
// while another job is in progress. An unacknowledged terminal status is
// dropped.
func (t *Tracker) Begin(jobID, restaurant string) error {
	if t.Outstanding() {
		return fmt.Errorf("begin %s: %w (job %s)", jobID, ErrJobOutstanding, t.jobID)
	}
	if jobID == "" {
		return fmt.Errorf("begin: job id is required")
	}
	now := t.now()
	t.status = Status{State: StateInProgress}
	t.jobID = jobID
	t.restaurant = restaurant
	t.submittedAt = now
	t.updatedAt = now
	return nil
}

// Observe records a polled status and reports whether the state changed.
// Statuses are ignored unless a job is in progress; a Ready report from the
// backend leaves the job in progress.
func (t *Tracker) Observe(s Status) bool {
	if !t.Outstanding() {
		return false
	}
	t.updatedAt = t.now()
	if !s.Terminal() {
		return false
	}
	t.status = s
	return true
}

// Acknowledge surfaces a terminal status once and returns the tracker to
// Ready. It returns false when there is nothing to acknowledge.
func (t *Tracker) Acknowledge() (Job, bool) {
	if !t.status.Terminal() {
		return Job{}, false
	}
	job := t.Snapshot()
	t.status = Status{State: StateReady}
	t.jobID = ""
	t.restaurant = ""
	t.submittedAt = time.Time{}
	t.updatedAt = t.now()
	return job, true
}

// PollInterval is how long the caller should wait before polling again.
func (t *Tracker) PollInterval() time.Duration {
	if t.Outstanding() {
		return t.active
	}
	return t.idle
}

// Snapshot describes the tracked job.
func (t *Tracker) Snapshot() Job {
	return Job{
		ID:          t.jobID,
		Restaurant:  t.restaurant,
		Status:      t.status.State.String(),
		Reason:      t.status.Reason,
		SubmittedAt: t.submittedAt,
		UpdatedAt:   t.updatedAt,
		PollEvery:   t.PollInterval().String(),
	}
}
