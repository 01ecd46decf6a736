package taskctl

import (
	"testing"

	"dgrid/internal/taskexecutor"
)

func TestFromExecutorStatus_CollapsesProvisioningIntoRunning(t *testing.T) {
	for _, s := range []taskexecutor.Status{taskexecutor.StatusWaitingParams, taskexecutor.StatusCreating, taskexecutor.StatusRunning} {
		if got := FromExecutorStatus(s); got != SubtaskRunning {
			t.Errorf("expected %s to convert to running, got %s", s, got)
		}
	}
}

func TestFromExecutorStatus_PreservesTerminalStatuses(t *testing.T) {
	cases := map[taskexecutor.Status]SubtaskStatus{
		taskexecutor.StatusSuccess:   SubtaskSuccess,
		taskexecutor.StatusError:     SubtaskError,
		taskexecutor.StatusTimeout:   SubtaskTimeout,
		taskexecutor.StatusCancelled: SubtaskCancelled,
	}
	for in, want := range cases {
		if got := FromExecutorStatus(in); got != want {
			t.Errorf("converting %s: expected %s, got %s", in, want, got)
		}
	}
}
