package jobqueue

import (
	"github.com/hibiken/asynq"
)

// JobState is the lifecycle state of a queued command
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobScheduled  JobState = "SCHEDULED"
	JobActive     JobState = "ACTIVE"
	JobFailed     JobState = "FAILED"
	JobCompleted  JobState = "COMPLETED"
	JobDeadLetter JobState = "DEAD_LETTER"
	JobUnknown    JobState = "UNKNOWN"
)

// JobStateOf maps an asynq task state. A task waiting for its next retry is
// FAILED; an archived task is DEAD_LETTER.
func JobStateOf(state asynq.TaskState) JobState {
	switch state {
	case asynq.TaskStatePending, asynq.TaskStateAggregating:
		return JobPending
	case asynq.TaskStateScheduled:
		return JobScheduled
	case asynq.TaskStateActive:
		return JobActive
	case asynq.TaskStateRetry:
		return JobFailed
	case asynq.TaskStateCompleted:
		return JobCompleted
	case asynq.TaskStateArchived:
		return JobDeadLetter
	default:
		return JobUnknown
	}
}

// Terminal reports whether no further processing happens in this state
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobDeadLetter
}
