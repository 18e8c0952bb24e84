package mlcontract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend implements Detector and Embedder against a local inference
// server reachable over HTTP, using a submit-then-poll protocol: a
// request is accepted (202) with a task id, then polled until it reaches
// a terminal state. This is the same async-first shape the teacher used
// for every model call, generalized away from one vendor's endpoint
// layout to a detect/embed contract this engine defines.
type HTTPBackend struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
	poll       PollingConfig
}

// NewHTTPBackend constructs a backend against baseURL, reporting model
// name and embedding dimensionality for the canonical-model bookkeeping
// in internal/embeddings.
func NewHTTPBackend(baseURL, model string, dim int, poll PollingConfig) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    baseURL,
		model:      model,
		dim:        dim,
		httpClient: &http.Client{Timeout: poll.Timeout},
		poll:       poll,
	}
}

func (b *HTTPBackend) Model() string { return b.model }
func (b *HTTPBackend) Dim() int      { return b.dim }
func (b *HTTPBackend) Version() string { return b.model }

type taskSubmitResponse struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type taskStatusResponse struct {
	Status string          `json:"status"` // queued | running | completed | failed | timeout
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// DetectFaces submits an image for face detection and polls for the
// result.
func (b *HTTPBackend) DetectFaces(ctx context.Context, imagePath string) ([]FaceDetection, error) {
	var out struct {
		Faces []FaceDetection `json:"faces"`
	}
	if err := b.submitAndPoll(ctx, "/v1/faces/detect", map[string]string{"image_path": imagePath}, &out); err != nil {
		return nil, fmt.Errorf("mlcontract: detect faces: %w", err)
	}
	return out.Faces, nil
}

// EmbedImage submits an image for embedding and polls for the result.
func (b *HTTPBackend) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := b.submitAndPoll(ctx, "/v1/embed/image", map[string]string{"image_path": imagePath, "model": b.model}, &out); err != nil {
		return nil, fmt.Errorf("mlcontract: embed image: %w", err)
	}
	return out.Embedding, nil
}

// EmbedText submits free text for embedding and polls for the result.
func (b *HTTPBackend) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := b.submitAndPoll(ctx, "/v1/embed/text", map[string]string{"text": text, "model": b.model}, &out); err != nil {
		return nil, fmt.Errorf("mlcontract: embed text: %w", err)
	}
	return out.Embedding, nil
}

func (b *HTTPBackend) submitAndPoll(ctx context.Context, path string, payload interface{}, dst interface{}) error {
	var submitResp taskSubmitResponse
	if err := b.doRequest(ctx, http.MethodPost, b.baseURL+path, payload, &submitResp); err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	if !submitResp.Success {
		return fmt.Errorf("task submission rejected: %s", submitResp.Message)
	}

	pollCtx, cancel := context.WithTimeout(ctx, b.poll.Timeout)
	defer cancel()

	ticker := time.NewTicker(b.poll.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return fmt.Errorf("task %s: %w", submitResp.TaskID, pollCtx.Err())
		case <-ticker.C:
			var status taskStatusResponse
			if err := b.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s/v1/tasks/%s", b.baseURL, submitResp.TaskID), nil, &status); err != nil {
				continue // transient poll failure, retry on next tick
			}
			switch status.Status {
			case "completed":
				return json.Unmarshal(status.Result, dst)
			case "failed", "timeout":
				return fmt.Errorf("task %s: %s", submitResp.TaskID, status.Error)
			}
		}
	}
}

func (b *HTTPBackend) doRequest(ctx context.Context, method, url string, payload interface{}, dst interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
