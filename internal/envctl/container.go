package envctl

import (
	"database/sql"
	"fmt"
)

// ContainerStatus tracks a single subtask run as observed by this
// Environment Controller, independent of the executor-side Subtask
// status the Task Executor keeps.
type ContainerStatus string

const (
	ContainerCreating ContainerStatus = "creating"
	ContainerRunning  ContainerStatus = "running"
	ContainerSuccess  ContainerStatus = "success"
	ContainerError    ContainerStatus = "error"
	ContainerTimeout  ContainerStatus = "timeout"
)

type ContainerRun struct {
	SubtaskUID  string
	ContainerID string
	ImageTag    string
	Status      ContainerStatus
	ResultFile  string
}

type containerStore struct {
	db *sql.DB
}

// NewContainerStore constructs the container-run tracking store. Returned
// as the unexported type; composition roots hold it opaquely and pass it
// straight to NewService.
func NewContainerStore(db *sql.DB) *containerStore {
	return &containerStore{db: db}
}

func (s *containerStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS container_runs (
			subtask_uid  TEXT PRIMARY KEY,
			container_id TEXT NOT NULL DEFAULT '',
			image_tag    TEXT NOT NULL,
			status       TEXT NOT NULL,
			result_file  TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("container run schema: %w", err)
	}
	return nil
}

func (s *containerStore) upsert(r ContainerRun) error {
	_, err := s.db.Exec(`
		INSERT INTO container_runs (subtask_uid, container_id, image_tag, status, result_file)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subtask_uid) DO UPDATE SET
			container_id=excluded.container_id,
			image_tag=excluded.image_tag,
			status=excluded.status,
			result_file=excluded.result_file
	`, r.SubtaskUID, r.ContainerID, r.ImageTag, string(r.Status), r.ResultFile)
	if err != nil {
		return fmt.Errorf("upsert container run %s: %w", r.SubtaskUID, err)
	}
	return nil
}

func (s *containerStore) setStatus(subtaskUID string, status ContainerStatus) error {
	_, err := s.db.Exec(`UPDATE container_runs SET status = ? WHERE subtask_uid = ?`, string(status), subtaskUID)
	if err != nil {
		return fmt.Errorf("set container run status %s: %w", subtaskUID, err)
	}
	return nil
}

func (s *containerStore) setResultFile(subtaskUID, path string) error {
	_, err := s.db.Exec(`UPDATE container_runs SET result_file = ? WHERE subtask_uid = ?`, path, subtaskUID)
	if err != nil {
		return fmt.Errorf("set result file %s: %w", subtaskUID, err)
	}
	return nil
}

func (s *containerStore) get(subtaskUID string) (ContainerRun, bool, error) {
	row := s.db.QueryRow(`
		SELECT subtask_uid, container_id, image_tag, status, result_file
		FROM container_runs WHERE subtask_uid = ?
	`, subtaskUID)
	var r ContainerRun
	var status string
	if err := row.Scan(&r.SubtaskUID, &r.ContainerID, &r.ImageTag, &status, &r.ResultFile); err != nil {
		if err == sql.ErrNoRows {
			return ContainerRun{}, false, nil
		}
		return ContainerRun{}, false, fmt.Errorf("get container run %s: %w", subtaskUID, err)
	}
	r.Status = ContainerStatus(status)
	return r, true, nil
}
