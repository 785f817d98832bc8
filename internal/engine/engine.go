// Package engine holds the HTTP clients for the external render farm
// and the automation runner. Both are thin: post the work, wait for the
// synchronous reply, surface the error. Retry scheduling lives in the
// queue layer, not here.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/renderowl/backend/internal/models"
)

// RenderClient drives one render on the farm and returns the output
// artifact URL.
type RenderClient struct {
	baseURL string
	client  *http.Client
}

func NewRenderClient(baseURL string, timeout time.Duration) *RenderClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &RenderClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	JobID  string          `json:"job_id"`
	Engine string          `json:"engine"`
	Input  json.RawMessage `json:"input"`
}

type renderResponse struct {
	OutputURL string `json:"output_url"`
	Error     string `json:"error,omitempty"`
}

// Render blocks until the farm finishes the job or the context expires.
func (c *RenderClient) Render(ctx context.Context, job *models.RenderJob) (string, error) {
	body, err := json.Marshal(renderRequest{JobID: job.ID, Engine: job.Engine, Input: job.Input})
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("render farm returned %d: %s", resp.StatusCode, snippet)
	}
	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("render failed: %s", out.Error)
	}
	if out.OutputURL == "" {
		return "", fmt.Errorf("render farm returned no output URL")
	}
	return out.OutputURL, nil
}

// RunnerClient executes one automation run against the pipeline runner.
type RunnerClient struct {
	baseURL string
	client  *http.Client
}

func NewRunnerClient(baseURL string, timeout time.Duration) *RunnerClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RunnerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Execute posts the run to the runner and treats any non-200 as failure.
func (c *RunnerClient) Execute(ctx context.Context, run *models.AutomationRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("runner request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
