package dockerclient

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BuildContextTar walks dir and packs it into a tar stream suitable for
// POST /build. Mirrors GenerateBundle's tar-over-gzip shape in
// support_bundle.go, minus the gzip layer — the Docker build API wants a
// raw tar.
func BuildContextTar(dir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("build context tar: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("build context tar close: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildImage builds imageTag from the tar'd build context. Blocks until
// the build stream ends; returns an error on any build-step failure
// reported in the stream.
func (c *Client) BuildImage(ctx context.Context, imageTag string, buildContext []byte) error {
	q := url.Values{"t": {imageTag}}
	u := "http://docker/" + apiVersion + "/build?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buildContext))
	if err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-tar")

	longClient := &http.Client{Transport: c.http.Transport, Timeout: 15 * time.Minute}
	resp, err := longClient.Do(req)
	if err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("docker build %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream      string `json:"stream"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("docker build stream: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("docker build: %s", msg.Error)
		}
	}
	return nil
}

// PushImage pushes imageTag to its configured registry. Blocks until the
// push stream ends.
func (c *Client) PushImage(ctx context.Context, imageTag string) error {
	u := "http://docker/" + apiVersion + "/images/" + url.PathEscape(imageTag) + "/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("docker push: %w", err)
	}
	req.Header.Set("X-Registry-Auth", "")

	longClient := &http.Client{Transport: c.http.Transport, Timeout: 10 * time.Minute}
	resp, err := longClient.Do(req)
	if err != nil {
		return fmt.Errorf("docker push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("docker push %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// InspectImage returns the engine-assigned image ID for a tag, or an
// error if the tag is unknown locally.
func (c *Client) InspectImage(ctx context.Context, imageTag string) (string, error) {
	resp, err := c.get(ctx, "/images/"+url.PathEscape(imageTag)+"/json", nil)
	if err != nil {
		return "", fmt.Errorf("docker inspect image: %w", err)
	}
	var detail struct {
		Id string `json:"Id"`
	}
	if err := decodeJSON(resp, &detail); err != nil {
		return "", fmt.Errorf("docker inspect image decode: %w", err)
	}
	return detail.Id, nil
}

// ContainerCreateSpec describes the container to create for a subtask
// run: the image to run, and the input/output bind mounts.
type ContainerCreateSpec struct {
	Image       string
	InputDir    string
	OutputDir   string
	ContainerWD string
}

// ContainerCreate creates (but does not start) a container bind-mounting
// InputDir read-only onto /usr/src/app/input and OutputDir read-write
// onto /usr/src/app/output, matching the subtask container contract.
func (c *Client) ContainerCreate(ctx context.Context, name string, spec ContainerCreateSpec) (string, error) {
	body := map[string]interface{}{
		"Image": spec.Image,
		"HostConfig": map[string]interface{}{
			"Binds": []string{
				spec.InputDir + ":/usr/src/app/input:ro",
				spec.OutputDir + ":/usr/src/app/output:rw",
			},
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("docker create marshal: %w", err)
	}
	u := "http://docker/" + apiVersion + "/containers/create"
	if name != "" {
		u += "?" + (url.Values{"name": {name}}).Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}
	var created struct {
		Id string `json:"Id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", fmt.Errorf("docker create decode: %w", err)
	}
	return created.Id, nil
}

// Wait blocks until the container exits and returns its exit code.
func (c *Client) Wait(ctx context.Context, id string) (int, error) {
	resp, err := c.post(ctx, "/containers/"+url.PathEscape(id)+"/wait", nil)
	if err != nil {
		return 0, fmt.Errorf("docker wait: %w", err)
	}
	var result struct {
		StatusCode int `json:"StatusCode"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, fmt.Errorf("docker wait decode: %w", err)
	}
	return result.StatusCode, nil
}
