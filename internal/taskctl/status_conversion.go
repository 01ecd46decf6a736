package taskctl

import "dgrid/internal/taskexecutor"

// FromExecutorStatus converts the executor's own wire status into the
// creator-side SubtaskStatus. The two enums are kept distinct on purpose:
// the executor's waiting_params/creating split is an implementation detail
// of how it provisions a container, and the creator only needs to know
// whether a subtask is pending dispatch, running, or finished. Collapsing
// waiting_params and creating into SubtaskRunning here is the one place
// that conversion happens, rather than threading the executor enum
// through the scheduler.
func FromExecutorStatus(s taskexecutor.Status) SubtaskStatus {
	switch s {
	case taskexecutor.StatusWaitingParams, taskexecutor.StatusCreating, taskexecutor.StatusRunning:
		return SubtaskRunning
	case taskexecutor.StatusSuccess:
		return SubtaskSuccess
	case taskexecutor.StatusError:
		return SubtaskError
	case taskexecutor.StatusTimeout:
		return SubtaskTimeout
	case taskexecutor.StatusCancelled:
		return SubtaskCancelled
	default:
		return SubtaskError
	}
}
