package taskctl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dgrid/internal/audit"
	"dgrid/internal/node"
)

const (
	executorSearchRetry   = 30 * time.Second
	resourcePollInterval  = 50 * time.Millisecond
	datasetPollInterval   = 100 * time.Millisecond
	subtaskPollInterval   = 50 * time.Millisecond
	resourcePublishBound  = 120 * time.Second
	subtaskPollBound      = 120 * time.Second
)

// Service runs the creator-side scheduling state machine. One Service
// instance per task creator node; CreateTask spawns an independent
// background goroutine per task, so multiple tasks run concurrently. The
// Environment Controller already knows where a subtask kind's build
// context lives, so Service only ever needs task_type/subtask_type to
// request a push — no local path configuration of its own.
type Service struct {
	store *Store
	nodes *NodeClient
	env   *EnvClient
	data  *DataClient
}

func NewService(store *Store, nodes *NodeClient, env *EnvClient, data *DataClient) *Service {
	return &Service{store: store, nodes: nodes, env: env, data: data}
}

// CreateTask persists a new task in TaskCreating and starts its scheduling
// job in the background. Returns immediately with the minted task_uid.
func (s *Service) CreateTask(creatorUID string, taskType TaskType, params map[string]interface{}, datasetSourcePath string) (string, error) {
	taskUID := uuid.NewString()
	t := Task{
		TaskUID:    taskUID,
		TaskType:   taskType,
		CreatorUID: creatorUID,
		Status:     TaskCreating,
		Params:     params,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertTask(t); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	go s.run(taskUID, datasetSourcePath)
	return taskUID, nil
}

// run drives one task through the full 7-step state machine, end to end.
// Failure at any step is terminal for the task: status becomes TaskError
// and the job stops. There is no per-subtask retry — an executor that
// errors, times out, or is unreachable fails the whole task.
func (s *Service) run(taskUID, datasetSourcePath string) {
	t, ok, err := s.store.GetTask(taskUID)
	if !ok || err != nil {
		log.Printf("taskctl: %s: task vanished before scheduling began: %v", taskUID, err)
		return
	}

	executors, err := s.searchExecutors(taskUID)
	if err != nil {
		s.fail(taskUID, "executors_searching", err)
		return
	}

	configs, err := t.AtomicConfigs()
	if err != nil {
		s.fail(taskUID, "partition", err)
		return
	}
	groups := Group(configs, len(executors))

	imageTag, datasetUID, magnetLink, err := s.publishResources(taskUID, datasetSourcePath)
	if err != nil {
		s.fail(taskUID, "resources_publishing", err)
		return
	}

	shared := t.SharedParams()
	if err := s.sendSubtasks(taskUID, executors, groups, imageTag, datasetUID, magnetLink, shared); err != nil {
		s.fail(taskUID, "subtasks_sending", err)
		return
	}

	if err := s.pollSubtasks(taskUID); err != nil {
		s.fail(taskUID, "subtasks_polling", err)
		return
	}

	result, err := s.reduceResults(taskUID)
	if err != nil {
		s.fail(taskUID, "result_processing", err)
		return
	}

	if err := s.store.SetResult(taskUID, result, time.Now()); err != nil {
		log.Printf("taskctl: %s: failed to persist final result: %v", taskUID, err)
		return
	}
	audit.Event("task.success", taskUID, true, 0, nil)
}

func (s *Service) fail(taskUID, stage string, err error) {
	log.Printf("taskctl: %s: failed at %s: %v", taskUID, stage, err)
	audit.Event("task."+stage, taskUID, false, 0, err)
	if setErr := s.store.Fail(taskUID, time.Now()); setErr != nil {
		log.Printf("taskctl: %s: failed to persist failure status: %v", taskUID, setErr)
	}
}

// searchExecutors loops exchanging with the local Node Controller and
// offering the task to every active executor it learns of, until at least
// one accepts. Retries every 30s on an empty accepted set.
func (s *Service) searchExecutors(taskUID string) ([]node.Node, error) {
	if err := s.store.SetStatus(taskUID, TaskExecutorsSearching); err != nil {
		return nil, err
	}

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		candidates, err := s.nodes.ActiveExecutors(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("refresh active executors: %w", err)
		}

		accepted := s.offerToAll(taskUID, candidates)
		if len(accepted) > 0 {
			return accepted, nil
		}
		time.Sleep(executorSearchRetry)
	}
}

// offerToAll concurrently offers taskUID to every candidate and returns
// the subset that accepted, minting one subtask_uid per acceptance and
// recording it as a pending creator-side Subtask.
func (s *Service) offerToAll(taskUID string, candidates []node.Node) []node.Node {
	type result struct {
		n          node.Node
		subtaskUID string
		accepted   bool
	}
	results := make([]result, len(candidates))

	var g errgroup.Group
	for i, n := range candidates {
		i, n := i, n
		g.Go(func() error {
			subtaskUID := uuid.NewString()
			client := NewExecutorClient(n.Addr())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			accepted, err := client.Offer(ctx, subtaskUID, taskUID)
			if err != nil {
				audit.Event("offer", n.NodeUID, false, 0, err)
				return nil
			}
			results[i] = result{n: n, subtaskUID: subtaskUID, accepted: accepted}
			return nil
		})
	}
	g.Wait()

	var accepted []node.Node
	for _, r := range results {
		if !r.accepted {
			continue
		}
		if err := s.store.InsertSubtask(Subtask{
			SubtaskUID: r.subtaskUID,
			TaskUID:    taskUID,
			NodeUID:    r.n.NodeUID,
			Status:     SubtaskPending,
		}); err != nil {
			log.Printf("taskctl: %s: failed to record accepted subtask for %s: %v", taskUID, r.n.NodeUID, err)
			continue
		}
		accepted = append(accepted, r.n)
	}
	return accepted
}

// publishResources requests the shared image build/push and dataset
// publish concurrently and polls each to completion.
func (s *Service) publishResources(taskUID, datasetSourcePath string) (imageTag, datasetUID, magnetLink string, err error) {
	if err := s.store.SetStatus(taskUID, TaskResourcesPublishing); err != nil {
		return "", "", "", err
	}

	t, ok, err := s.store.GetTask(taskUID)
	if !ok || err != nil {
		return "", "", "", fmt.Errorf("reload task: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		tag, err := s.pushAndAwaitImage(taskUID, string(t.TaskType))
		if err != nil {
			return err
		}
		imageTag = tag
		return nil
	})
	g.Go(func() error {
		uid, magnet, err := s.publishAndAwaitDataset(taskUID, datasetSourcePath)
		if err != nil {
			return err
		}
		datasetUID = uid
		magnetLink = magnet
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", "", err
	}

	if err := s.store.SetResources(taskUID, datasetUID, magnetLink, imageTag); err != nil {
		return "", "", "", err
	}
	return imageTag, datasetUID, magnetLink, nil
}

func (s *Service) pushAndAwaitImage(taskUID, taskType string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	tag, err := s.env.Push(ctx, taskType, taskType)
	cancel()
	if err != nil {
		return "", fmt.Errorf("push image: %w", err)
	}

	deadline := time.Now().Add(resourcePublishBound)
	ticker := time.NewTicker(resourcePollInterval)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		status, err := s.env.ImageStatus(ctx, tag)
		cancel()
		if err == nil {
			if status.Error() {
				return "", fmt.Errorf("image %s failed: %s", tag, status)
			}
			if status.Terminal() {
				return tag, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("image %s did not become ready before deadline", tag)
		}
		<-ticker.C
	}
}

func (s *Service) publishAndAwaitDataset(taskUID, sourcePath string) (datasetUID, magnetLink string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	uid, err := s.data.Publish(ctx, sourcePath)
	cancel()
	if err != nil {
		return "", "", fmt.Errorf("publish dataset: %w", err)
	}

	deadline := time.Now().Add(resourcePublishBound)
	ticker := time.NewTicker(datasetPollInterval)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d, err := s.data.Get(ctx, uid)
		cancel()
		if err == nil && d.Status.Terminal() {
			return uid, d.MagnetLink, nil
		}
		if time.Now().After(deadline) {
			return "", "", fmt.Errorf("dataset %s did not become available before deadline", uid)
		}
		<-ticker.C
	}
}

// sendSubtasks pushes each executor's partitioned slice of params and
// flips its creator-side Subtask row from pending to running once start
// is acknowledged.
func (s *Service) sendSubtasks(taskUID string, executors []node.Node, groups [][]map[string]interface{}, imageTag, datasetUID, magnetLink string, shared map[string]interface{}) error {
	if err := s.store.SetStatus(taskUID, TaskSubtasksSending); err != nil {
		return err
	}

	subtasks, err := s.store.SubtasksForTask(taskUID)
	if err != nil {
		return err
	}
	byNode := make(map[string]string, len(subtasks))
	for _, st := range subtasks {
		byNode[st.NodeUID] = st.SubtaskUID
	}

	var g errgroup.Group
	for i, n := range executors {
		i, n := i, n
		subtaskUID, ok := byNode[n.NodeUID]
		if !ok {
			continue
		}
		g.Go(func() error {
			params := make(map[string]interface{}, len(shared)+1)
			for k, v := range shared {
				params[k] = v
			}
			if i < len(groups) {
				params["atomic_configs"] = groups[i]
			}

			client := NewExecutorClient(n.Addr())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Start(ctx, subtaskUID, imageTag, datasetUID, magnetLink, params); err != nil {
				return fmt.Errorf("start subtask %s on %s: %w", subtaskUID, n.NodeUID, err)
			}
			return s.store.SetSubtaskStatus(subtaskUID, SubtaskRunning)
		})
	}
	return g.Wait()
}

// pollSubtasks loops get() against every dispatched subtask until every
// one has reached a terminal executor status.
func (s *Service) pollSubtasks(taskUID string) error {
	if err := s.store.SetStatus(taskUID, TaskSubtasksPolling); err != nil {
		return err
	}

	deadline := time.Now().Add(subtaskPollBound)
	ticker := time.NewTicker(subtaskPollInterval)
	defer ticker.Stop()
	for {
		subtasks, err := s.store.SubtasksForTask(taskUID)
		if err != nil {
			return err
		}

		done := true
		var g errgroup.Group
		for _, st := range subtasks {
			st := st
			if st.Status.Done() {
				continue
			}
			done = false
			g.Go(func() error {
				n, ok, err := s.nodeFor(st.NodeUID)
				if !ok || err != nil {
					return nil
				}
				client := NewExecutorClient(n.Addr())
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				wire, err := client.Get(ctx, st.SubtaskUID)
				if err != nil {
					return nil
				}
				return s.store.SetSubtaskStatus(st.SubtaskUID, FromExecutorStatus(wire))
			})
		}
		g.Wait()

		if done {
			return s.checkAllSucceeded(taskUID)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("subtasks for %s did not all complete before deadline", taskUID)
		}
		<-ticker.C
	}
}

func (s *Service) checkAllSucceeded(taskUID string) error {
	subtasks, err := s.store.SubtasksForTask(taskUID)
	if err != nil {
		return err
	}
	for _, st := range subtasks {
		if st.Status != SubtaskSuccess {
			return fmt.Errorf("subtask %s ended in status %s", st.SubtaskUID, st.Status)
		}
	}
	return nil
}

func (s *Service) nodeFor(nodeUID string) (node.Node, bool, error) {
	executors, err := s.nodes.ActiveExecutors(context.Background())
	if err != nil {
		return node.Node{}, false, err
	}
	for _, n := range executors {
		if n.NodeUID == nodeUID {
			return n, true, nil
		}
	}
	return node.Node{}, false, nil
}

// reduceResults fetches every executor's partial result list and reduces
// it to one best configuration. For grid_search the winner is the entry
// with the highest f1_score, ties resolved by first-seen order.
func (s *Service) reduceResults(taskUID string) ([]map[string]interface{}, error) {
	if err := s.store.SetStatus(taskUID, TaskResultProcessing); err != nil {
		return nil, err
	}

	subtasks, err := s.store.SubtasksForTask(taskUID)
	if err != nil {
		return nil, err
	}

	all := make([][]map[string]interface{}, len(subtasks))
	var g errgroup.Group
	for i, st := range subtasks {
		i, st := i, st
		g.Go(func() error {
			n, ok, err := s.nodeFor(st.NodeUID)
			if !ok || err != nil {
				return fmt.Errorf("resolve executor %s: %w", st.NodeUID, err)
			}
			client := NewExecutorClient(n.Addr())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			result, err := client.GetResult(ctx, st.SubtaskUID)
			if err != nil {
				return fmt.Errorf("get result %s: %w", st.SubtaskUID, err)
			}
			all[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []map[string]interface{}
	for _, part := range all {
		flat = append(flat, part...)
	}
	return ReduceGridSearch(flat), nil
}

// ReduceGridSearch selects the entry with the highest f1_score from a
// flattened result list, ties resolved by first-seen order.
func ReduceGridSearch(results []map[string]interface{}) []map[string]interface{} {
	if len(results) == 0 {
		return nil
	}
	best := results[0]
	bestScore := f1Score(best)
	for _, r := range results[1:] {
		if score := f1Score(r); score > bestScore {
			best, bestScore = r, score
		}
	}
	return []map[string]interface{}{best}
}

func f1Score(r map[string]interface{}) float64 {
	v, ok := r["f1_score"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func (s *Service) GetTask(taskUID string) (Task, bool, error) {
	return s.store.GetTask(taskUID)
}

func (s *Service) ListTasks() ([]Task, error) {
	return s.store.AllTasks()
}

func (s *Service) GetSubtasks(taskUID string) ([]Subtask, error) {
	return s.store.SubtasksForTask(taskUID)
}
