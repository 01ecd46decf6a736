// Package taskctl implements the Task Controller: the creator-side
// scheduling state machine that fans a grid-search task out across
// accepted executors, publishes the shared image and dataset, dispatches
// each executor's slice of parameters, polls to completion, and reduces
// the partial results into one best-configuration answer.
package taskctl

import (
	"encoding/json"
	"fmt"
	"time"
)

type TaskType string

const TaskTypeGridSearch TaskType = "grid_search"

type TaskStatus string

const (
	TaskCreating            TaskStatus = "creating"
	TaskExecutorsSearching  TaskStatus = "executors_searching"
	TaskResourcesPublishing TaskStatus = "resources_publishing"
	TaskSubtasksSending     TaskStatus = "subtasks_sending"
	TaskSubtasksPolling     TaskStatus = "subtasks_polling"
	TaskResultProcessing    TaskStatus = "result_processing"
	TaskSuccess             TaskStatus = "success"
	TaskError               TaskStatus = "error"
)

// taskStatusOrder fixes the monotonic path status must advance along.
var taskStatusOrder = []TaskStatus{
	TaskCreating, TaskExecutorsSearching, TaskResourcesPublishing,
	TaskSubtasksSending, TaskSubtasksPolling, TaskResultProcessing,
	TaskSuccess,
}

// Advances reports whether moving from s to next respects the monotonic
// path, treating TaskError as reachable from any non-terminal status.
func (s TaskStatus) Advances(next TaskStatus) bool {
	if next == TaskError {
		return s != TaskSuccess && s != TaskError
	}
	from, to := -1, -1
	for i, st := range taskStatusOrder {
		if st == s {
			from = i
		}
		if st == next {
			to = i
		}
	}
	return from >= 0 && to > from
}

func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskError
}

// SubtaskStatus is the creator-side projection of a dispatched subtask.
// Converted from the executor's own wire status at ingestion time rather
// than reusing the executor's enum directly — see the note in
// status_conversion.go.
type SubtaskStatus string

const (
	SubtaskPending SubtaskStatus = "pending"
	SubtaskRunning SubtaskStatus = "running"
	SubtaskSuccess SubtaskStatus = "success"
	SubtaskError   SubtaskStatus = "error"
	SubtaskTimeout SubtaskStatus = "timeout"
	SubtaskCancelled SubtaskStatus = "cancelled"
)

func (s SubtaskStatus) Done() bool {
	switch s {
	case SubtaskSuccess, SubtaskCancelled, SubtaskError, SubtaskTimeout:
		return true
	default:
		return false
	}
}

// Subtask is the creator's own view of one dispatched unit of work.
type Subtask struct {
	SubtaskUID string
	TaskUID    string
	NodeUID    string // the executor this subtask was dispatched to
	Status     SubtaskStatus
}

// Task is a creator-side grid-search job.
type Task struct {
	TaskUID    string
	TaskType   TaskType
	CreatorUID string
	Status     TaskStatus
	DatasetUID string
	MagnetLink string
	ImageTag   string
	Params     map[string]interface{}
	Result     []map[string]interface{}
	CreatedAt  time.Time
	FinishedAt time.Time
}

func (t Task) ParamsJSON() (string, error) {
	if t.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(t.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

func (t Task) ResultJSON() (string, error) {
	if t.Result == nil {
		return "null", nil
	}
	data, err := json.Marshal(t.Result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

// AtomicConfigs extracts the subtasks_params list the spec's Partition
// step fans out over.
func (t Task) AtomicConfigs() ([]map[string]interface{}, error) {
	raw, ok := t.Params["subtasks_params"]
	if !ok {
		return nil, fmt.Errorf("params missing subtasks_params")
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("subtasks_params is not a list")
	}
	out := make([]map[string]interface{}, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("subtasks_params[%d] is not an object", i)
		}
		out[i] = m
	}
	return out, nil
}

// SharedParams returns a copy of params with subtasks_params removed. The
// copy is shallow: nested maps and slices are shared with t.Params and with
// every per-executor payload built from the result, not duplicated.
func (t Task) SharedParams() map[string]interface{} {
	out := make(map[string]interface{}, len(t.Params))
	for k, v := range t.Params {
		if k == "subtasks_params" {
			continue
		}
		out[k] = v
	}
	return out
}

// Wire is the JSON representation of Task used on /task* endpoints.
type Wire struct {
	TaskUID    string                   `json:"task_uid"`
	TaskType   string                   `json:"task_type"`
	CreatorUID string                   `json:"creator_uid"`
	Status     string                   `json:"status"`
	DatasetUID string                   `json:"dataset_uid,omitempty"`
	Params     map[string]interface{}   `json:"params,omitempty"`
	Result     []map[string]interface{} `json:"result,omitempty"`
	CreatedAt  int64                    `json:"created_at,omitempty"`
	FinishedAt int64                    `json:"finished_at,omitempty"`
}

func (t Task) ToWire() Wire {
	w := Wire{
		TaskUID:    t.TaskUID,
		TaskType:   string(t.TaskType),
		CreatorUID: t.CreatorUID,
		Status:     string(t.Status),
		DatasetUID: t.DatasetUID,
		Params:     t.Params,
		Result:     t.Result,
	}
	if !t.CreatedAt.IsZero() {
		w.CreatedAt = t.CreatedAt.Unix()
	}
	if !t.FinishedAt.IsZero() {
		w.FinishedAt = t.FinishedAt.Unix()
	}
	return w
}
