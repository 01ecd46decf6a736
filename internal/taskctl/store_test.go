package taskctl

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite3", ":memory:?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)
	if err := s.EnsureSchema(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestInsertTaskThenGet(t *testing.T) {
	s := newTestStore(t)
	task := Task{
		TaskUID:    "t1",
		TaskType:   TaskTypeGridSearch,
		CreatorUID: "creator-a",
		Status:     TaskCreating,
		Params:     map[string]interface{}{"subtasks_params": []interface{}{}},
		CreatedAt:  time.Now(),
	}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := s.GetTask("t1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != TaskCreating || got.CreatorUID != "creator-a" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestSetResourcesThenResult(t *testing.T) {
	s := newTestStore(t)
	task := Task{TaskUID: "t1", TaskType: TaskTypeGridSearch, CreatorUID: "c", Status: TaskCreating, Params: map[string]interface{}{}, CreatedAt: time.Now()}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.SetResources("t1", "ds1", "magnet:?xt=1", "dgrid/grid_search:abc"); err != nil {
		t.Fatalf("set resources: %v", err)
	}
	result := []map[string]interface{}{{"f1_score": 0.9}}
	if err := s.SetResult("t1", result, time.Now()); err != nil {
		t.Fatalf("set result: %v", err)
	}

	got, ok, err := s.GetTask("t1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != TaskSuccess {
		t.Fatalf("expected success status, got %s", got.Status)
	}
	if got.DatasetUID != "ds1" || got.MagnetLink != "magnet:?xt=1" {
		t.Fatalf("expected resources persisted, got %+v", got)
	}
	if len(got.Result) != 1 || got.Result[0]["f1_score"] != 0.9 {
		t.Fatalf("expected result round-tripped, got %+v", got.Result)
	}
}

func TestFailSetsErrorStatus(t *testing.T) {
	s := newTestStore(t)
	task := Task{TaskUID: "t1", TaskType: TaskTypeGridSearch, CreatorUID: "c", Status: TaskExecutorsSearching, Params: map[string]interface{}{}, CreatedAt: time.Now()}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Fail("t1", time.Now()); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, ok, err := s.GetTask("t1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != TaskError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("expected finished_at to be set")
	}
}

func TestSubtaskInsertIsIdempotentOnConflict(t *testing.T) {
	s := newTestStore(t)
	task := Task{TaskUID: "t1", TaskType: TaskTypeGridSearch, CreatorUID: "c", Status: TaskCreating, Params: map[string]interface{}{}, CreatedAt: time.Now()}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	st := Subtask{SubtaskUID: "s1", TaskUID: "t1", NodeUID: "node-a", Status: SubtaskPending}
	if err := s.InsertSubtask(st); err != nil {
		t.Fatalf("insert subtask: %v", err)
	}
	if err := s.InsertSubtask(st); err != nil {
		t.Fatalf("re-insert subtask: %v", err)
	}

	subtasks, err := s.SubtasksForTask("t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subtasks) != 1 {
		t.Fatalf("expected exactly one subtask row, got %d", len(subtasks))
	}
}

func TestSetSubtaskStatus(t *testing.T) {
	s := newTestStore(t)
	task := Task{TaskUID: "t1", TaskType: TaskTypeGridSearch, CreatorUID: "c", Status: TaskCreating, Params: map[string]interface{}{}, CreatedAt: time.Now()}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	st := Subtask{SubtaskUID: "s1", TaskUID: "t1", NodeUID: "node-a", Status: SubtaskPending}
	if err := s.InsertSubtask(st); err != nil {
		t.Fatalf("insert subtask: %v", err)
	}
	if err := s.SetSubtaskStatus("s1", SubtaskSuccess); err != nil {
		t.Fatalf("set status: %v", err)
	}

	subtasks, err := s.SubtasksForTask("t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subtasks) != 1 || subtasks[0].Status != SubtaskSuccess {
		t.Fatalf("expected subtask success, got %+v", subtasks)
	}
}
