// Package datactl implements the Data Controller: publishes a local
// directory tree to the swarm and downloads a dataset by magnet link,
// bridging the filesystem the containers mount against the BitTorrent
// client daemon.
package datactl

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"dgrid/internal/audit"
	"dgrid/internal/dataset"
)

const (
	// PublishTimeout bounds how long a local publish waits for the swarm
	// client to report full seeding progress.
	PublishTimeout = 10 * time.Second
	// DownloadTimeout bounds a remote dataset download.
	DownloadTimeout = 120 * time.Second
	pollInterval    = 100 * time.Millisecond
)

type Config struct {
	StorageRoot string // datasets/<dataset_uid>/
}

type Service struct {
	cfg   Config
	store *dataset.Store
	swarm *Swarm
}

func NewService(cfg Config, store *dataset.Store, swarm *Swarm) *Service {
	return &Service{cfg: cfg, store: store, swarm: swarm}
}

// Publish mints a dataset_uid, copies sourcePath into storage, and
// returns immediately while a background job seeds it over the swarm and
// advances status creating -> publishing -> available.
func (s *Service) Publish(ctx context.Context, sourcePath string) (string, error) {
	datasetUID := uuid.NewString()
	dest := filepath.Join(s.cfg.StorageRoot, datasetUID)
	if err := copyTree(sourcePath, dest); err != nil {
		return "", fmt.Errorf("publish: copy source tree: %w", err)
	}

	d := dataset.Dataset{DatasetUID: datasetUID, Path: dest, Status: dataset.StatusCreating}
	if err := s.store.Upsert(d); err != nil {
		return "", err
	}
	go s.publish(datasetUID, dest)
	return datasetUID, nil
}

func (s *Service) publish(datasetUID, dir string) {
	start := time.Now()
	s.store.SetStatus(datasetUID, dataset.StatusPublishing)

	t, err := s.swarm.Seed(dir)
	if err != nil {
		log.Printf("datactl: seed %s: %v", datasetUID, err)
		audit.Event("dataset.publish", datasetUID, false, time.Since(start), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()
	if err := pollUntilComplete(ctx, t); err != nil {
		log.Printf("datactl: publish %s timed out: %v", datasetUID, err)
		audit.Event("dataset.publish", datasetUID, false, time.Since(start), err)
		return
	}

	s.store.SetMagnetLink(datasetUID, MagnetLink(t))
	s.store.SetStatus(datasetUID, dataset.StatusAvailable)
	audit.Event("dataset.publish", datasetUID, true, time.Since(start), nil)
}

// Download creates a dataset row in status=downloading for the supplied
// magnet link and returns immediately while a background job leeches it.
func (s *Service) Download(ctx context.Context, datasetUID, magnetLink string) error {
	dest := filepath.Join(s.cfg.StorageRoot, datasetUID)
	if err := ensureDir(dest); err != nil {
		return fmt.Errorf("download: prepare destination: %w", err)
	}
	d := dataset.Dataset{DatasetUID: datasetUID, MagnetLink: magnetLink, Path: dest, Status: dataset.StatusDownloading}
	if err := s.store.Upsert(d); err != nil {
		return err
	}
	go s.download(datasetUID, magnetLink)
	return nil
}

func (s *Service) download(datasetUID, magnetLink string) {
	start := time.Now()
	t, err := s.swarm.Leech(datasetUID, magnetLink)
	if err != nil {
		log.Printf("datactl: leech %s: %v", datasetUID, err)
		audit.Event("dataset.download", datasetUID, false, time.Since(start), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DownloadTimeout)
	defer cancel()
	if err := pollUntilComplete(ctx, t); err != nil {
		log.Printf("datactl: download %s timed out: %v", datasetUID, err)
		audit.Event("dataset.download", datasetUID, false, time.Since(start), err)
		return
	}

	s.store.SetStatus(datasetUID, dataset.StatusAvailable)
	audit.Event("dataset.download", datasetUID, true, time.Since(start), nil)
}

// Get is a read-only projection of a dataset's current state.
func (s *Service) Get(datasetUID string) (dataset.Dataset, bool, error) {
	return s.store.Get(datasetUID)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
