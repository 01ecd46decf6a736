// Package envctl implements the Environment Controller: builds and
// pushes subtask container images, pulls images for local execution, and
// runs subtask containers with the input/output bind mounts the subtask
// container contract requires.
package envctl

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"dgrid/internal/audit"
	"dgrid/internal/dockerclient"
	"dgrid/internal/image"
)

// Config carries the filesystem roots and registry namespace this
// controller operates under.
type Config struct {
	Namespace      string // e.g. "dgrid" -> image tags "dgrid/<kind>:<hash>"
	BuildContexts  string // tasks/<task_kind>/subtasks/<subtask_kind>/ root
	RuntimeDir     string // runtime/<subtask_uid>/{input,output}/
}

type Service struct {
	cfg    Config
	images *image.Store
	runs   *containerStore
	docker *dockerclient.Client
}

func NewService(cfg Config, images *image.Store, runs *containerStore, docker *dockerclient.Client) *Service {
	return &Service{cfg: cfg, images: images, runs: runs, docker: docker}
}

// EnsureSchema initializes every table this service owns.
func EnsureSchema(images *image.Store, runs *containerStore) error {
	if err := images.EnsureSchema(); err != nil {
		return err
	}
	return runs.ensureSchema()
}

// Push computes the deterministic tag for a subtask kind's source tree,
// upserts it as building, and returns immediately while a background job
// builds then pushes the image. Repeat calls for an unchanged source tree
// resolve to the same tag and the push becomes a registry-level no-op.
func (s *Service) Push(ctx context.Context, taskKind, subtaskKind string) (string, image.Status, error) {
	sourceDir := filepath.Join(s.cfg.BuildContexts, taskKind, "subtasks", subtaskKind)
	tag, err := ImageTag(s.cfg.Namespace, subtaskKind, sourceDir)
	if err != nil {
		return "", "", fmt.Errorf("compute image tag: %w", err)
	}

	if err := s.images.Upsert(image.Image{ImageTag: tag, Status: image.StatusBuilding}); err != nil {
		return "", "", err
	}
	go s.buildAndPush(tag, sourceDir)
	return tag, image.StatusBuilding, nil
}

func (s *Service) buildAndPush(tag, sourceDir string) {
	start := time.Now()
	buildCtx, err := dockerclient.BuildContextTar(sourceDir)
	if err != nil {
		log.Printf("envctl: build context for %s: %v", tag, err)
		s.images.SetStatus(tag, image.StatusBuildError)
		audit.Event("image.build", tag, false, time.Since(start), err)
		return
	}
	if err := s.docker.BuildImage(context.Background(), tag, buildCtx); err != nil {
		log.Printf("envctl: build %s: %v", tag, err)
		s.images.SetStatus(tag, image.StatusBuildError)
		audit.Event("image.build", tag, false, time.Since(start), err)
		return
	}
	if id, err := s.docker.InspectImage(context.Background(), tag); err == nil {
		s.images.SetImageID(tag, id)
	}
	audit.Event("image.build", tag, true, time.Since(start), nil)

	s.images.SetStatus(tag, image.StatusPushing)
	pushStart := time.Now()
	if err := s.docker.PushImage(context.Background(), tag); err != nil {
		log.Printf("envctl: push %s: %v", tag, err)
		s.images.SetStatus(tag, image.StatusPushError)
		audit.Event("image.push", tag, false, time.Since(pushStart), err)
		return
	}
	s.images.SetStatus(tag, image.StatusPushed)
	audit.Event("image.push", tag, true, time.Since(pushStart), nil)
}

// Pull upserts imageTag as pulling and returns immediately; a background
// job pulls the image from the registry, then marks it pulled.
func (s *Service) Pull(ctx context.Context, imageTag string) (image.Status, error) {
	if err := s.images.Upsert(image.Image{ImageTag: imageTag, Status: image.StatusPulling}); err != nil {
		return "", err
	}
	go s.pull(imageTag)
	return image.StatusPulling, nil
}

func (s *Service) pull(imageTag string) {
	start := time.Now()
	if err := s.docker.PullImage(context.Background(), imageTag); err != nil {
		log.Printf("envctl: pull %s: %v", imageTag, err)
		s.images.SetStatus(imageTag, image.StatusPullError)
		audit.Event("image.pull", imageTag, false, time.Since(start), err)
		return
	}
	if id, err := s.docker.InspectImage(context.Background(), imageTag); err == nil {
		s.images.SetImageID(imageTag, id)
	}
	s.images.SetStatus(imageTag, image.StatusPulled)
	audit.Event("image.pull", imageTag, true, time.Since(start), nil)
}

// ImageStatus is a read-only projection used by pollers.
func (s *Service) ImageStatus(imageTag string) (image.Image, bool, error) {
	return s.images.Get(imageTag)
}

// Run copies every input file into runtime/<subtask_uid>/input/, creates
// and starts the subtask container with the bind mounts the container
// contract requires, and tracks its status. Blocks only long enough to
// launch; the background job below waits for exit.
func (s *Service) Run(ctx context.Context, subtaskUID, imageTag string, inputFiles []string) error {
	inputDir := filepath.Join(s.cfg.RuntimeDir, subtaskUID, "input")
	outputDir := filepath.Join(s.cfg.RuntimeDir, subtaskUID, "output")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return fmt.Errorf("run: mkdir input: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("run: mkdir output: %w", err)
	}
	for _, src := range inputFiles {
		if err := copyFile(src, filepath.Join(inputDir, filepath.Base(src))); err != nil {
			return fmt.Errorf("run: copy input %s: %w", src, err)
		}
	}

	if err := s.runs.upsert(ContainerRun{SubtaskUID: subtaskUID, ImageTag: imageTag, Status: ContainerCreating}); err != nil {
		return err
	}

	id, err := s.docker.ContainerCreate(ctx, "dgrid-"+subtaskUID, dockerclient.ContainerCreateSpec{
		Image:     imageTag,
		InputDir:  inputDir,
		OutputDir: outputDir,
	})
	if err != nil {
		s.runs.setStatus(subtaskUID, ContainerError)
		return fmt.Errorf("run: create container: %w", err)
	}
	if err := s.docker.Start(ctx, id); err != nil {
		s.runs.setStatus(subtaskUID, ContainerError)
		return fmt.Errorf("run: start container: %w", err)
	}

	run, _, _ := s.runs.get(subtaskUID)
	run.ContainerID = id
	run.Status = ContainerRunning
	s.runs.upsert(run)

	go s.awaitExit(subtaskUID, id, outputDir)
	return nil
}

func (s *Service) awaitExit(subtaskUID, containerID, outputDir string) {
	start := time.Now()
	code, err := s.docker.Wait(context.Background(), containerID)
	if err != nil {
		log.Printf("envctl: wait %s: %v", subtaskUID, err)
		s.runs.setStatus(subtaskUID, ContainerError)
		audit.Event("container.run", subtaskUID, false, time.Since(start), err)
		return
	}
	if code != 0 {
		s.runs.setStatus(subtaskUID, ContainerError)
		audit.Event("container.run", subtaskUID, false, time.Since(start), fmt.Errorf("exit code %d", code))
		return
	}
	resultFile := filepath.Join(outputDir, "result.json")
	s.runs.setResultFile(subtaskUID, resultFile)
	s.runs.setStatus(subtaskUID, ContainerSuccess)
	audit.Event("container.run", subtaskUID, true, time.Since(start), nil)
}

// ContainerStatus is a read-only projection used by pollers.
func (s *Service) ContainerStatus(subtaskUID string) (ContainerRun, bool, error) {
	return s.runs.get(subtaskUID)
}

func copyFile(src, dst string) error {
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
	_, err = out.ReadFrom(in)
	return err
}
