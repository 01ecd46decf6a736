package taskctl

import "testing"

func TestTaskStatus_AdvancesAlongMonotonicPath(t *testing.T) {
	if !TaskCreating.Advances(TaskExecutorsSearching) {
		t.Fatal("expected creating to advance to executors_searching")
	}
	if TaskSubtasksPolling.Advances(TaskCreating) {
		t.Fatal("did not expect subtasks_polling to advance backwards to creating")
	}
	if !TaskSubtasksPolling.Advances(TaskError) {
		t.Fatal("expected any non-terminal status to be able to advance to error")
	}
	if TaskSuccess.Advances(TaskError) {
		t.Fatal("did not expect success to advance to error")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskSuccess, TaskError} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	if TaskSubtasksPolling.Terminal() {
		t.Error("expected subtasks_polling to not be terminal")
	}
}

func TestAtomicConfigs_ExtractsSubtasksParams(t *testing.T) {
	task := Task{Params: map[string]interface{}{
		"subtasks_params": []interface{}{
			map[string]interface{}{"criterion": "gini"},
			map[string]interface{}{"criterion": "entropy"},
		},
		"model": "decision_tree",
	}}
	configs, err := task.AtomicConfigs()
	if err != nil {
		t.Fatalf("atomic configs: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 atomic configs, got %d", len(configs))
	}
}

func TestAtomicConfigs_MissingKeyErrors(t *testing.T) {
	task := Task{Params: map[string]interface{}{"model": "decision_tree"}}
	if _, err := task.AtomicConfigs(); err == nil {
		t.Fatal("expected error for missing subtasks_params")
	}
}

func TestSharedParams_DropsSubtasksParams(t *testing.T) {
	task := Task{Params: map[string]interface{}{
		"subtasks_params": []interface{}{map[string]interface{}{"criterion": "gini"}},
		"model":           "decision_tree",
	}}
	shared := task.SharedParams()
	if _, ok := shared["subtasks_params"]; ok {
		t.Fatal("expected subtasks_params removed from shared params")
	}
	if shared["model"] != "decision_tree" {
		t.Fatalf("expected model preserved in shared params, got %+v", shared)
	}
}

func TestSubtaskStatus_Done(t *testing.T) {
	for _, s := range []SubtaskStatus{SubtaskSuccess, SubtaskError, SubtaskTimeout, SubtaskCancelled} {
		if !s.Done() {
			t.Errorf("expected %s to be done", s)
		}
	}
	for _, s := range []SubtaskStatus{SubtaskPending, SubtaskRunning} {
		if s.Done() {
			t.Errorf("expected %s to not be done", s)
		}
	}
}
