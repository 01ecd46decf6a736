package image

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
		CREATE TABLE IF NOT EXISTS images (
			image_tag TEXT PRIMARY KEY,
			image_id  TEXT NOT NULL DEFAULT '',
			status    TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("image schema: %w", err)
	}
	return nil
}

func (s *Store) Upsert(img Image) error {
	_, err := s.db.Exec(`
		INSERT INTO images (image_tag, image_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT(image_tag) DO UPDATE SET
			image_id=excluded.image_id,
			status=excluded.status
	`, img.ImageTag, img.ImageID, string(img.Status))
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", img.ImageTag, err)
	}
	return nil
}

func (s *Store) SetStatus(imageTag string, status Status) error {
	_, err := s.db.Exec(`UPDATE images SET status = ? WHERE image_tag = ?`, string(status), imageTag)
	if err != nil {
		return fmt.Errorf("set image status %s: %w", imageTag, err)
	}
	return nil
}

func (s *Store) SetImageID(imageTag, imageID string) error {
	_, err := s.db.Exec(`UPDATE images SET image_id = ? WHERE image_tag = ?`, imageID, imageTag)
	if err != nil {
		return fmt.Errorf("set image id %s: %w", imageTag, err)
	}
	return nil
}

func (s *Store) Get(imageTag string) (Image, bool, error) {
	row := s.db.QueryRow(`SELECT image_tag, image_id, status FROM images WHERE image_tag = ?`, imageTag)
	var img Image
	var status string
	if err := row.Scan(&img.ImageTag, &img.ImageID, &status); err != nil {
		if err == sql.ErrNoRows {
			return Image{}, false, nil
		}
		return Image{}, false, fmt.Errorf("get image %s: %w", imageTag, err)
	}
	img.Status = Status(status)
	return img, true, nil
}
