package dataset

import (
	"database/sql"
	"fmt"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS datasets (
			dataset_uid TEXT PRIMARY KEY,
			magnet_link TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("dataset schema: %w", err)
	}
	return nil
}

func (s *Store) Upsert(d Dataset) error {
	_, err := s.db.Exec(`
		INSERT INTO datasets (dataset_uid, magnet_link, path, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dataset_uid) DO UPDATE SET
			magnet_link=excluded.magnet_link,
			path=excluded.path,
			status=excluded.status
	`, d.DatasetUID, d.MagnetLink, d.Path, string(d.Status))
	if err != nil {
		return fmt.Errorf("upsert dataset %s: %w", d.DatasetUID, err)
	}
	return nil
}

func (s *Store) SetStatus(datasetUID string, status Status) error {
	_, err := s.db.Exec(`UPDATE datasets SET status = ? WHERE dataset_uid = ?`, string(status), datasetUID)
	if err != nil {
		return fmt.Errorf("set dataset status %s: %w", datasetUID, err)
	}
	return nil
}

func (s *Store) SetMagnetLink(datasetUID, magnet string) error {
	_, err := s.db.Exec(`UPDATE datasets SET magnet_link = ? WHERE dataset_uid = ?`, magnet, datasetUID)
	if err != nil {
		return fmt.Errorf("set magnet link %s: %w", datasetUID, err)
	}
	return nil
}

func (s *Store) Get(datasetUID string) (Dataset, bool, error) {
	row := s.db.QueryRow(`SELECT dataset_uid, magnet_link, path, status FROM datasets WHERE dataset_uid = ?`, datasetUID)
	var d Dataset
	var status string
	if err := row.Scan(&d.DatasetUID, &d.MagnetLink, &d.Path, &status); err != nil {
		if err == sql.ErrNoRows {
			return Dataset{}, false, nil
		}
		return Dataset{}, false, fmt.Errorf("get dataset %s: %w", datasetUID, err)
	}
	d.Status = Status(status)
	return d, true, nil
}
