package taskexecutor

import (
	"context"
	"fmt"
	"time"

	"dgrid/internal/dataset"
	"dgrid/internal/httpclient"
	"dgrid/internal/image"
)

// EnvClient talks to the local Environment Controller.
type EnvClient struct {
	http *httpclient.Client
}

func NewEnvClient(baseURL string) *EnvClient {
	return &EnvClient{http: httpclient.New(baseURL, 10*time.Second)}
}

func (c *EnvClient) Pull(ctx context.Context, imageTag string) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.http.PostJSON(ctx, "/image/pull", map[string]string{"image_tag": imageTag}, &resp)
}

func (c *EnvClient) ImageStatus(ctx context.Context, imageTag string) (image.Status, error) {
	var resp image.Wire
	if err := c.http.PostJSON(ctx, "/image/status", map[string]string{"image_tag": imageTag}, &resp); err != nil {
		return "", fmt.Errorf("image status: %w", err)
	}
	return image.ParseStatus(resp.Status)
}

func (c *EnvClient) Run(ctx context.Context, subtaskUID, imageTag string, inputFiles []string) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.http.PostJSON(ctx, "/container/run", map[string]interface{}{
		"subtask_uid": subtaskUID,
		"image_tag":   imageTag,
		"input_files": inputFiles,
	}, &resp)
}

func (c *EnvClient) ContainerStatus(ctx context.Context, subtaskUID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.http.PostJSON(ctx, "/container/status", map[string]string{"subtask_uid": subtaskUID}, &resp); err != nil {
		return "", fmt.Errorf("container status: %w", err)
	}
	return resp.Status, nil
}

func (c *EnvClient) ContainerResult(ctx context.Context, subtaskUID string) (string, error) {
	var resp struct {
		ResultFile string `json:"result_file"`
	}
	if err := c.http.PostJSON(ctx, "/container/result", map[string]string{"subtask_uid": subtaskUID}, &resp); err != nil {
		return "", fmt.Errorf("container result: %w", err)
	}
	return resp.ResultFile, nil
}

// DataClient talks to the local Data Controller.
type DataClient struct {
	http *httpclient.Client
}

func NewDataClient(baseURL string) *DataClient {
	return &DataClient{http: httpclient.New(baseURL, 10*time.Second)}
}

func (c *DataClient) Download(ctx context.Context, datasetUID, magnetLink string) error {
	var resp struct {
		DatasetUID string `json:"dataset_uid"`
	}
	return c.http.PostJSON(ctx, "/data/download", map[string]string{
		"dataset_uid": datasetUID,
		"magnet_link": magnetLink,
	}, &resp)
}

func (c *DataClient) Get(ctx context.Context, datasetUID string) (dataset.Dataset, error) {
	var resp dataset.Wire
	if err := c.http.PostJSON(ctx, "/data", map[string]string{"dataset_uid": datasetUID}, &resp); err != nil {
		return dataset.Dataset{}, fmt.Errorf("data get: %w", err)
	}
	return dataset.FromWire(resp)
}
