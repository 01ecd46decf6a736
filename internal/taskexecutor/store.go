package taskexecutor

import (
	"database/sql"
	"fmt"
	"time"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executor_subtasks (
			subtask_uid TEXT PRIMARY KEY,
			creator_uid TEXT NOT NULL,
			dataset_uid TEXT NOT NULL DEFAULT '',
			image_tag   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			created_at  INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("executor subtask schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(st Subtask) error {
	_, err := s.db.Exec(`
		INSERT INTO executor_subtasks (subtask_uid, creator_uid, dataset_uid, image_tag, status, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subtask_uid) DO NOTHING
	`, st.SubtaskUID, st.CreatorUID, st.DatasetUID, st.ImageTag, string(st.Status), unixOrZero(st.CreatedAt), unixOrZero(st.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert subtask %s: %w", st.SubtaskUID, err)
	}
	return nil
}

func (s *Store) SetFields(st Subtask) error {
	_, err := s.db.Exec(`
		UPDATE executor_subtasks SET
			dataset_uid=?, image_tag=?, status=?, created_at=?, finished_at=?
		WHERE subtask_uid = ?
	`, st.DatasetUID, st.ImageTag, string(st.Status), unixOrZero(st.CreatedAt), unixOrZero(st.FinishedAt), st.SubtaskUID)
	if err != nil {
		return fmt.Errorf("update subtask %s: %w", st.SubtaskUID, err)
	}
	return nil
}

func (s *Store) SetStatus(subtaskUID string, status Status) error {
	_, err := s.db.Exec(`UPDATE executor_subtasks SET status = ? WHERE subtask_uid = ?`, string(status), subtaskUID)
	if err != nil {
		return fmt.Errorf("set subtask status %s: %w", subtaskUID, err)
	}
	return nil
}

func (s *Store) Get(subtaskUID string) (Subtask, bool, error) {
	row := s.db.QueryRow(`
		SELECT subtask_uid, creator_uid, dataset_uid, image_tag, status, created_at, finished_at
		FROM executor_subtasks WHERE subtask_uid = ?
	`, subtaskUID)
	return scanSubtask(row)
}

func (s *Store) All() ([]Subtask, error) {
	rows, err := s.db.Query(`
		SELECT subtask_uid, creator_uid, dataset_uid, image_tag, status, created_at, finished_at
		FROM executor_subtasks
	`)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()
	var out []Subtask
	for rows.Next() {
		st, err := scanSubtaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSubtask(row scannable) (Subtask, bool, error) {
	st, err := scanSubtaskRow(row)
	if err == sql.ErrNoRows {
		return Subtask{}, false, nil
	}
	if err != nil {
		return Subtask{}, false, err
	}
	return st, true, nil
}

func scanSubtaskRow(row scannable) (Subtask, error) {
	var st Subtask
	var status string
	var createdAt, finishedAt int64
	if err := row.Scan(&st.SubtaskUID, &st.CreatorUID, &st.DatasetUID, &st.ImageTag, &status, &createdAt, &finishedAt); err != nil {
		return Subtask{}, err
	}
	st.Status = Status(status)
	if createdAt != 0 {
		st.CreatedAt = time.Unix(createdAt, 0)
	}
	if finishedAt != 0 {
		st.FinishedAt = time.Unix(finishedAt, 0)
	}
	return st, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
