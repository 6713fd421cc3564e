package jobstore

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// StepStatus is the outcome of one step run.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job transition")
)

var transitions = map[Status][]Status{
	StatusInitialized: {StatusRunning},
	StatusRunning:     {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one persisted pipeline job.
type Job struct {
	ID           string
	Topic        string
	OutputDir    string
	JobFile      string
	Status       Status
	FailedStep   string
	ErrorMessage string
	ContextJSON  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Duration returns the wall time between start and finish, or zero.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// StepRun is one recorded step execution.
type StepRun struct {
	ID           int64
	JobID        string
	Phase        string
	Step         string
	Index        int
	Mode         string
	RequestID    string
	Status       StepStatus
	ErrorMessage string
	PatchKeys    []string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Duration     time.Duration
}

// TransitionOptions carries the fields updated alongside a transition.
type TransitionOptions struct {
	FailedStep   string
	ErrorMessage string
	ContextJSON  string
	At           time.Time
}

// ListOptions filters List results.
type ListOptions struct {
	Statuses []Status
	Limit    int
}
