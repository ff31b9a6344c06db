package scanning

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Timeline tracks when a scan was created and when it reached a terminal
// status.
type Timeline struct {
	createdAt    time.Time
	completedAt  time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline starting now.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	if timeProvider == nil {
		timeProvider = realTimeProvider{}
	}
	return &Timeline{
		createdAt:    timeProvider.Now(),
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline rebuilds a timeline from stored timestamps.
func ReconstructTimeline(createdAt, completedAt time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		completedAt:  completedAt,
		timeProvider: realTimeProvider{},
	}
}

// CreatedAt returns the time the scan was requested.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// CompletedAt returns the time the scan reached a terminal status, or the
// zero time.
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// MarkCompleted records completion time.
func (t *Timeline) MarkCompleted() { t.completedAt = t.timeProvider.Now() }

// IsCompleted checks if the timeline has been marked as completed.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }

// Duration is the wall time between creation and completion.
func (t *Timeline) Duration() time.Duration {
	if !t.IsCompleted() {
		return 0
	}
	return t.completedAt.Sub(t.createdAt)
}
