package model

import (
	"time"
)

const (
	// StatusPending indicates a step has not started yet.
	StatusPending = "pending"
	// StatusRunning indicates a step is actively executing.
	StatusRunning = "running"
	// StatusSuccess marks a successful step execution.
	StatusSuccess = "success"
	// StatusFailed marks a failure during step execution.
	StatusFailed = "failed"
	// StatusSkipped indicates the planner left the step out of the run.
	StatusSkipped = "skipped"
)

// StepResult captures the outcome of executing a single build step.
type StepResult struct {
	StepID    string
	Target    string
	Status    string
	Message   string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// ElapsedSeconds reports the step duration in seconds rounded to one decimal,
// the precision recorded in the build manifest.
func (r StepResult) ElapsedSeconds() float64 {
	return RoundSeconds(r.Duration)
}

// RoundSeconds converts a duration to seconds rounded to one decimal place.
func RoundSeconds(d time.Duration) float64 {
	return float64((d + 50*time.Millisecond).Truncate(100*time.Millisecond)) / float64(time.Second)
}
