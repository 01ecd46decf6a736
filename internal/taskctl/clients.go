package taskctl

import (
	"context"
	"fmt"
	"time"

	"dgrid/internal/dataset"
	"dgrid/internal/httpclient"
	"dgrid/internal/image"
	"dgrid/internal/node"
	"dgrid/internal/taskexecutor"
)

// NodeClient talks to the local Node Controller to refresh the view of
// peers before every executors_searching round.
type NodeClient struct {
	http *httpclient.Client
}

func NewNodeClient(baseURL string) *NodeClient {
	return &NodeClient{http: httpclient.New(baseURL, 10*time.Second)}
}

// ActiveExecutors posts an empty node list to the local Node Controller's
// exchange endpoint and returns the active executors in the known set it
// sends back. The Node Controller does not contact its peers for this call.
func (c *NodeClient) ActiveExecutors(ctx context.Context) ([]node.Node, error) {
	var resp struct {
		Nodes []node.Wire `json:"nodes"`
	}
	if err := c.http.PostJSON(ctx, "/nodes/exchange", struct {
		Nodes []node.Wire `json:"nodes"`
	}{}, &resp); err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	out := make([]node.Node, 0, len(resp.Nodes))
	for _, w := range resp.Nodes {
		n, err := node.FromWire(w)
		if err != nil {
			continue
		}
		if n.Role == node.RoleExecutor && n.Status == node.StatusActive {
			out = append(out, n)
		}
	}
	return out, nil
}

// ExecutorClient talks directly to one peer executor.
type ExecutorClient struct {
	http *httpclient.Client
}

func NewExecutorClient(baseURL string) *ExecutorClient {
	return &ExecutorClient{http: httpclient.New(baseURL, 10*time.Second)}
}

func (c *ExecutorClient) Offer(ctx context.Context, subtaskUID, creatorUID string) (bool, error) {
	var resp struct {
		Verdict string `json:"verdict"`
	}
	if err := c.http.PostJSON(ctx, "/subtask/offer", map[string]string{
		"subtask_uid": subtaskUID,
		"creator_uid": creatorUID,
	}, &resp); err != nil {
		return false, fmt.Errorf("offer: %w", err)
	}
	return resp.Verdict == "accepted", nil
}

func (c *ExecutorClient) Start(ctx context.Context, subtaskUID, imageTag, datasetUID, magnetLink string, params map[string]interface{}) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.http.PostJSON(ctx, "/subtask/start", map[string]interface{}{
		"subtask_uid": subtaskUID,
		"image_tag":   imageTag,
		"dataset_uid": datasetUID,
		"magnet_link": magnetLink,
		"params":      params,
	}, &resp)
}

// Get reads back an executor's own subtask status, parsed into the
// executor's wire enum. Callers convert it with FromExecutorStatus before
// storing it on the creator side.
func (c *ExecutorClient) Get(ctx context.Context, subtaskUID string) (taskexecutor.Status, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.http.PostJSON(ctx, "/subtask/get", map[string]string{"subtask_uid": subtaskUID}, &resp); err != nil {
		return "", fmt.Errorf("get subtask %s: %w", subtaskUID, err)
	}
	return taskexecutor.ParseStatus(resp.Status)
}

func (c *ExecutorClient) GetResult(ctx context.Context, subtaskUID string) ([]map[string]interface{}, error) {
	var resp struct {
		Result []map[string]interface{} `json:"result"`
	}
	if err := c.http.PostJSON(ctx, "/subtask/result", map[string]string{"subtask_uid": subtaskUID}, &resp); err != nil {
		return nil, fmt.Errorf("get result %s: %w", subtaskUID, err)
	}
	return resp.Result, nil
}

// EnvClient talks to the local Environment Controller to publish the
// task's shared image.
type EnvClient struct {
	http *httpclient.Client
}

func NewEnvClient(baseURL string) *EnvClient {
	return &EnvClient{http: httpclient.New(baseURL, 10*time.Second)}
}

func (c *EnvClient) Push(ctx context.Context, taskKind, subtaskKind string) (string, error) {
	var resp struct {
		ImageTag string `json:"image_tag"`
	}
	if err := c.http.PostJSON(ctx, "/image/push", map[string]string{
		"task_type":    taskKind,
		"subtask_type": subtaskKind,
	}, &resp); err != nil {
		return "", fmt.Errorf("push image: %w", err)
	}
	return resp.ImageTag, nil
}

func (c *EnvClient) ImageStatus(ctx context.Context, imageTag string) (image.Status, error) {
	var resp image.Wire
	if err := c.http.PostJSON(ctx, "/image/status", map[string]string{"image_tag": imageTag}, &resp); err != nil {
		return "", fmt.Errorf("image status: %w", err)
	}
	return image.ParseStatus(resp.Status)
}

// DataClient talks to the local Data Controller to publish the task's
// shared dataset.
type DataClient struct {
	http *httpclient.Client
}

func NewDataClient(baseURL string) *DataClient {
	return &DataClient{http: httpclient.New(baseURL, 10*time.Second)}
}

func (c *DataClient) Publish(ctx context.Context, path string) (string, error) {
	var resp struct {
		DatasetUID string `json:"dataset_uid"`
	}
	if err := c.http.PostJSON(ctx, "/data/publish", map[string]string{"path": path}, &resp); err != nil {
		return "", fmt.Errorf("publish dataset: %w", err)
	}
	return resp.DatasetUID, nil
}

func (c *DataClient) Get(ctx context.Context, datasetUID string) (dataset.Dataset, error) {
	var resp dataset.Wire
	if err := c.http.PostJSON(ctx, "/data", map[string]string{"dataset_uid": datasetUID}, &resp); err != nil {
		return dataset.Dataset{}, fmt.Errorf("get dataset %s: %w", datasetUID, err)
	}
	return dataset.FromWire(resp)
}
