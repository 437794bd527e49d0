// Package agent provides worker-agent clients. Workers execute task prompts
// outside the engine; the coordinator only sees the result or an error.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPWorker invokes an external worker agent over HTTP. The attempt deadline
// is carried by the request context; the coordinator owns retries.
type HTTPWorker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPWorker builds a worker client for the given endpoint URL.
func NewHTTPWorker(endpoint string) *HTTPWorker {
	return &HTTPWorker{
		endpoint: endpoint,
		client: &http.Client{
			// Per-attempt deadlines come from the context; this only guards
			// against a worker that never responds at the transport level.
			Timeout: 30 * time.Minute,
		},
	}
}

type workerRequest struct {
	Prompt string `json:"prompt"`
	GoalID string `json:"goal_id"`
	TaskID string `json:"task_id"`
}

type workerResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Run posts the prompt to the worker and returns its result.
func (w *HTTPWorker) Run(ctx context.Context, prompt, goalID, taskID string) (string, error) {
	raw, err := json.Marshal(workerRequest{Prompt: prompt, GoalID: goalID, TaskID: taskID})
	if err != nil {
		return "", fmt.Errorf("encoding worker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("building worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling worker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("reading worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("worker returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out workerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding worker response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("worker error: %s", out.Error)
	}
	return out.Result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
