package taskctl

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists Task and creator-side Subtask rows in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_uid    TEXT PRIMARY KEY,
			task_type   TEXT NOT NULL,
			creator_uid TEXT NOT NULL,
			status      TEXT NOT NULL,
			dataset_uid TEXT NOT NULL DEFAULT '',
			magnet_link TEXT NOT NULL DEFAULT '',
			image_tag   TEXT NOT NULL DEFAULT '',
			params      TEXT NOT NULL DEFAULT '{}',
			result      TEXT,
			created_at  INTEGER NOT NULL,
			finished_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS subtasks (
			subtask_uid TEXT PRIMARY KEY,
			task_uid    TEXT NOT NULL,
			node_uid    TEXT NOT NULL,
			status      TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure taskctl schema: %w", err)
	}
	return nil
}

func (s *Store) InsertTask(t Task) error {
	paramsJSON, err := t.ParamsJSON()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (task_uid, task_type, creator_uid, status, dataset_uid, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_uid) DO NOTHING
	`, t.TaskUID, string(t.TaskType), t.CreatorUID, string(t.Status), t.DatasetUID, paramsJSON, t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.TaskUID, err)
	}
	return nil
}

func (s *Store) SetStatus(taskUID string, status TaskStatus) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE task_uid = ?`, string(status), taskUID)
	if err != nil {
		return fmt.Errorf("set task status %s: %w", taskUID, err)
	}
	return nil
}

func (s *Store) SetResources(taskUID, datasetUID, magnetLink, imageTag string) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET dataset_uid = ?, magnet_link = ?, image_tag = ? WHERE task_uid = ?
	`, datasetUID, magnetLink, imageTag, taskUID)
	if err != nil {
		return fmt.Errorf("set task resources %s: %w", taskUID, err)
	}
	return nil
}

func (s *Store) SetResult(taskUID string, result []map[string]interface{}, finishedAt time.Time) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE tasks SET result = ?, status = ?, finished_at = ? WHERE task_uid = ?
	`, string(data), string(TaskSuccess), finishedAt.Unix(), taskUID)
	if err != nil {
		return fmt.Errorf("set task result %s: %w", taskUID, err)
	}
	return nil
}

func (s *Store) Fail(taskUID string, finishedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, finished_at = ? WHERE task_uid = ?
	`, string(TaskError), finishedAt.Unix(), taskUID)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", taskUID, err)
	}
	return nil
}

func (s *Store) GetTask(taskUID string) (Task, bool, error) {
	row := s.db.QueryRow(`
		SELECT task_uid, task_type, creator_uid, status, dataset_uid, magnet_link, image_tag, params, result, created_at, finished_at
		FROM tasks WHERE task_uid = ?
	`, taskUID)
	return scanTask(row)
}

func (s *Store) AllTasks() ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT task_uid, task_type, creator_uid, status, dataset_uid, magnet_link, image_tag, params, result, created_at, finished_at
		FROM tasks ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, ok, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scannable) (Task, bool, error) {
	var (
		taskUID, taskType, creatorUID, status string
		datasetUID, magnetLink, imageTag      string
		paramsJSON                            string
		resultJSON                            sql.NullString
		createdAt                             int64
		finishedAt                            sql.NullInt64
	)
	err := row.Scan(&taskUID, &taskType, &creatorUID, &status, &datasetUID, &magnetLink, &imageTag,
		&paramsJSON, &resultJSON, &createdAt, &finishedAt)
	if err == sql.ErrNoRows {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("scan task: %w", err)
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return Task{}, false, fmt.Errorf("unmarshal params: %w", err)
	}
	var result []map[string]interface{}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return Task{}, false, fmt.Errorf("unmarshal result: %w", err)
		}
	}

	t := Task{
		TaskUID:    taskUID,
		TaskType:   TaskType(taskType),
		CreatorUID: creatorUID,
		Status:     TaskStatus(status),
		DatasetUID: datasetUID,
		MagnetLink: magnetLink,
		ImageTag:   imageTag,
		Params:     params,
		Result:     result,
		CreatedAt:  time.Unix(createdAt, 0),
	}
	if finishedAt.Valid {
		t.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	return t, true, nil
}

// InsertSubtask records a dispatched creator-side subtask, starting in
// SubtaskPending until subtasks_sending confirms it running.
func (s *Store) InsertSubtask(st Subtask) error {
	_, err := s.db.Exec(`
		INSERT INTO subtasks (subtask_uid, task_uid, node_uid, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subtask_uid) DO UPDATE SET node_uid = excluded.node_uid
	`, st.SubtaskUID, st.TaskUID, st.NodeUID, string(st.Status))
	if err != nil {
		return fmt.Errorf("insert subtask %s: %w", st.SubtaskUID, err)
	}
	return nil
}

func (s *Store) SetSubtaskStatus(subtaskUID string, status SubtaskStatus) error {
	_, err := s.db.Exec(`UPDATE subtasks SET status = ? WHERE subtask_uid = ?`, string(status), subtaskUID)
	if err != nil {
		return fmt.Errorf("set subtask status %s: %w", subtaskUID, err)
	}
	return nil
}

func (s *Store) SubtasksForTask(taskUID string) ([]Subtask, error) {
	rows, err := s.db.Query(`
		SELECT subtask_uid, task_uid, node_uid, status FROM subtasks WHERE task_uid = ?
	`, taskUID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks for %s: %w", taskUID, err)
	}
	defer rows.Close()

	var out []Subtask
	for rows.Next() {
		var st Subtask
		var status string
		if err := rows.Scan(&st.SubtaskUID, &st.TaskUID, &st.NodeUID, &status); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		st.Status = SubtaskStatus(status)
		out = append(out, st)
	}
	return out, rows.Err()
}
