package taskexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"dgrid/internal/audit"
)

const (
	imagePollInterval     = 50 * time.Millisecond
	datasetPollInterval   = 100 * time.Millisecond
	containerPollInterval = 50 * time.Millisecond

	imagePullTimeout   = 120 * time.Second
	datasetPollTimeout = 120 * time.Second
	containerTimeout   = 120 * time.Second
)

type Config struct {
	SubtasksDir string // subtasks/<subtask_uid>/config.json
}

type Service struct {
	cfg   Config
	store *Store
	env   *EnvClient
	data  *DataClient
}

func NewService(cfg Config, store *Store, env *EnvClient, data *DataClient) *Service {
	return &Service{cfg: cfg, store: store, env: env, data: data}
}

// Offer creates a waiting_params row for subtaskUID if one doesn't
// already exist and always accepts — idempotent on subtask_uid.
func (s *Service) Offer(subtaskUID, creatorUID string) (accepted bool, err error) {
	existing, ok, err := s.store.Get(subtaskUID)
	if err != nil {
		return false, err
	}
	if ok {
		_ = existing
		return true, nil
	}
	if err := s.store.Insert(Subtask{
		SubtaskUID: subtaskUID,
		CreatorUID: creatorUID,
		Status:     StatusWaitingParams,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Start requires an existing waiting_params row, kicks off the dataset
// download and image pull, transitions to creating, and launches the
// background job that waits for both, runs the container, and polls it
// to a terminal status.
func (s *Service) Start(ctx context.Context, subtaskUID, imageTag, datasetUID, magnetLink string, params map[string]interface{}) error {
	st, ok, err := s.store.Get(subtaskUID)
	if err != nil {
		return err
	}
	if !ok || st.Status != StatusWaitingParams {
		return fmt.Errorf("start: subtask %s is not in waiting_params", subtaskUID)
	}

	if err := s.data.Download(ctx, datasetUID, magnetLink); err != nil {
		return fmt.Errorf("start: submit dataset download: %w", err)
	}
	if err := s.env.Pull(ctx, imageTag); err != nil {
		return fmt.Errorf("start: submit image pull: %w", err)
	}

	st.DatasetUID = datasetUID
	st.ImageTag = imageTag
	st.Status = StatusCreating
	if err := s.store.SetFields(st); err != nil {
		return err
	}

	go s.run(subtaskUID, imageTag, datasetUID, params)
	return nil
}

func (s *Service) run(subtaskUID, imageTag, datasetUID string, params map[string]interface{}) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), imagePullTimeout)
	defer cancel()
	if err := s.pollImagePulled(ctx, imageTag); err != nil {
		s.fail(subtaskUID, StatusTimeout, "image.pull", err, start)
		return
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), datasetPollTimeout)
	defer cancel2()
	if err := s.pollDatasetAvailable(ctx2, datasetUID); err != nil {
		s.fail(subtaskUID, StatusTimeout, "dataset.download", err, start)
		return
	}

	configPath := filepath.Join(s.cfg.SubtasksDir, subtaskUID, "config.json")
	if err := writeConfig(configPath, params); err != nil {
		s.fail(subtaskUID, StatusError, "config.write", err, start)
		return
	}

	d, err := s.data.Get(context.Background(), datasetUID)
	if err != nil {
		s.fail(subtaskUID, StatusError, "dataset.get", err, start)
		return
	}
	inputFiles, err := filesUnder(d.Path)
	if err != nil {
		s.fail(subtaskUID, StatusError, "dataset.list", err, start)
		return
	}
	inputFiles = append(inputFiles, configPath)

	if err := s.env.Run(context.Background(), subtaskUID, imageTag, inputFiles); err != nil {
		s.fail(subtaskUID, StatusError, "container.run", err, start)
		return
	}

	st, ok, err := s.store.Get(subtaskUID)
	if err != nil || !ok {
		log.Printf("taskexecutor: %s vanished mid-run", subtaskUID)
		return
	}
	st.Status = StatusRunning
	st.CreatedAt = time.Now()
	s.store.SetFields(st)

	ctx3, cancel3 := context.WithTimeout(context.Background(), containerTimeout)
	defer cancel3()
	finalStatus, err := s.pollContainer(ctx3, subtaskUID)
	if err != nil {
		s.fail(subtaskUID, StatusTimeout, "container.poll", err, start)
		return
	}

	st, ok, err = s.store.Get(subtaskUID)
	if err != nil || !ok {
		return
	}
	st.Status = finalStatus
	st.FinishedAt = time.Now()
	s.store.SetFields(st)
	audit.Event("subtask.run", subtaskUID, finalStatus == StatusSuccess, time.Since(start), nil)
}

func (s *Service) fail(subtaskUID string, status Status, stage string, err error, start time.Time) {
	log.Printf("taskexecutor: %s failed at %s: %v", subtaskUID, stage, err)
	if st, ok, getErr := s.store.Get(subtaskUID); getErr == nil && ok {
		st.Status = status
		st.FinishedAt = time.Now()
		s.store.SetFields(st)
	}
	audit.Event("subtask.run", subtaskUID, false, time.Since(start), err)
}

func (s *Service) pollImagePulled(ctx context.Context, imageTag string) error {
	ticker := time.NewTicker(imagePollInterval)
	defer ticker.Stop()
	for {
		status, err := s.env.ImageStatus(ctx, imageTag)
		if err == nil {
			if status.Terminal() {
				if status.Error() {
					return fmt.Errorf("image %s reached %s", imageTag, status)
				}
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("image %s did not pull in time: %w", imageTag, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) pollDatasetAvailable(ctx context.Context, datasetUID string) error {
	ticker := time.NewTicker(datasetPollInterval)
	defer ticker.Stop()
	for {
		d, err := s.data.Get(ctx, datasetUID)
		if err == nil && d.Status.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dataset %s did not become available in time: %w", datasetUID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) pollContainer(ctx context.Context, subtaskUID string) (Status, error) {
	ticker := time.NewTicker(containerPollInterval)
	defer ticker.Stop()
	for {
		status, err := s.env.ContainerStatus(ctx, subtaskUID)
		if err == nil {
			switch status {
			case "success":
				return StatusSuccess, nil
			case "error":
				return StatusError, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("container for %s did not finish in time: %w", subtaskUID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Get, GetSubtasks and GetResult are read-only projections.

func (s *Service) Get(subtaskUID string) (Subtask, bool, error) {
	return s.store.Get(subtaskUID)
}

func (s *Service) GetSubtasks() ([]Subtask, error) {
	return s.store.All()
}

func (s *Service) GetResult(ctx context.Context, subtaskUID string) ([]byte, error) {
	resultFile, err := s.env.ContainerResult(ctx, subtaskUID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return os.ReadFile(resultFile)
}

func writeConfig(path string, params map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func filesUnder(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
