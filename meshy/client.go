// Package meshy is the client for the Meshy image-to-3D service.
//
// client.go implements submission and polling. Submission prefers the
// multi-image endpoint whenever more than one view is available (strictly
// better mesh fidelity); a rejected multi-image submission retries once as a
// single-image submission, the only automatic retry in the pipeline.
// Completion is discovered by explicit polling only; there is no background
// scheduler.
package meshy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"pawprints_backend/core"
	"pawprints_backend/logging"
	"pawprints_backend/transcode"

	"go.uber.org/zap"
)

// Submission defaults sent with every task.
const (
	defaultAIModel    = "meshy-6"
	defaultTopology   = "triangle"
	defaultPolycount  = 30000
	singleEndpoint    = "/openapi/v1/image-to-3d"
	multiEndpoint     = "/openapi/v1/multi-image-to-3d"
	maxMeshAssetBytes = 256 << 20
)

// Client errors.
var (
	ErrNotConfigured = errors.New("meshy: API key not configured")
	ErrUnknownTask   = errors.New("meshy: unknown task id")
	ErrNoImages      = errors.New("meshy: at least one image is required")
)

// Client talks to the Meshy API and tracks submitted tasks.
//
// The task registry is the only shared mutable state; it remembers each
// task's endpoint family and caches terminal results so that re-polling a
// finished task costs no network calls.
//
// Thread Safety: safe for concurrent use. The registry lock is held only
// around map access, never across network calls.
type Client struct {
	apiKey       string
	baseURL      string
	submitClient *http.Client
	pollClient   *http.Client
	logger       *logging.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewClient creates a Meshy client from configuration.
// Returns ErrNotConfigured if no API key is set.
func NewClient(cfg *core.Config, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("meshy: config cannot be nil")
	}
	if cfg.MeshyAPIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		return nil, fmt.Errorf("meshy: logger cannot be nil")
	}

	return &Client{
		apiKey:       cfg.MeshyAPIKey,
		baseURL:      strings.TrimRight(cfg.MeshyBaseURL, "/"),
		submitClient: core.GetHTTPClient(cfg, cfg.ReconstructTimeout),
		pollClient:   core.GetHTTPClient(cfg, cfg.PollTimeout),
		logger:       logger.Named("meshy"),
		tasks:        make(map[string]*Task),
	}, nil
}

// Image is one input to a reconstruction submission.
type Image struct {
	Data []byte
	MIME string
}

// submitRequest is the consumed subset of the Meshy submission body.
type submitRequest struct {
	ImageURL        string   `json:"image_url,omitempty"`
	ImageURLs       []string `json:"image_urls,omitempty"`
	AIModel         string   `json:"ai_model"`
	Topology        string   `json:"topology"`
	TargetPolycount int      `json:"target_polycount"`
}

// submitResponse is the consumed subset of the submission response.
type submitResponse struct {
	Result string `json:"result"`
	ID     string `json:"id"`
}

// statusResponse is the consumed subset of the status response.
type statusResponse struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ModelURLs struct {
		GLB string `json:"glb"`
		STL string `json:"stl"`
		OBJ string `json:"obj"`
	} `json:"model_urls"`
	Message   string `json:"message"`
	TaskError struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

// Submit starts a reconstruction, choosing the multi-image endpoint when
// more than one image is available and single-image otherwise.
func (c *Client) Submit(ctx context.Context, images []Image) (string, error) {
	switch {
	case len(images) == 0:
		return "", ErrNoImages
	case len(images) == 1:
		return c.SubmitSingle(ctx, images[0])
	default:
		return c.SubmitMulti(ctx, images)
	}
}

// SubmitSingle starts a single-image reconstruction and returns the task id.
func (c *Client) SubmitSingle(ctx context.Context, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", ErrNoImages
	}

	body := submitRequest{
		ImageURL:        transcode.DataURI(img.Data, img.MIME),
		AIModel:         defaultAIModel,
		Topology:        defaultTopology,
		TargetPolycount: defaultPolycount,
	}

	taskID, err := c.postSubmission(ctx, singleEndpoint, body)
	if err != nil {
		return "", err
	}

	c.register(taskID, false)
	c.logger.Info("reconstruction task started",
		zap.String("task_id", taskID),
		zap.Bool("multi_view", false))
	return taskID, nil
}

// SubmitMulti starts a multi-image reconstruction. If the vendor rejects the
// multi-image submission, it retries once as a single-image submission using
// the first image.
func (c *Client) SubmitMulti(ctx context.Context, images []Image) (string, error) {
	if len(images) == 0 {
		return "", ErrNoImages
	}

	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = transcode.DataURI(img.Data, img.MIME)
	}

	body := submitRequest{
		ImageURLs:       urls,
		AIModel:         defaultAIModel,
		Topology:        defaultTopology,
		TargetPolycount: defaultPolycount,
	}

	taskID, err := c.postSubmission(ctx, multiEndpoint, body)
	if err != nil {
		c.logger.Warn("multi-image submission rejected, retrying as single-image",
			zap.Int("images", len(images)),
			zap.Error(err))
		return c.SubmitSingle(ctx, images[0])
	}

	c.register(taskID, true)
	c.logger.Info("reconstruction task started",
		zap.String("task_id", taskID),
		zap.Bool("multi_view", true),
		zap.Int("images", len(images)))
	return taskID, nil
}

// Poll queries the vendor for the task's current state.
//
// The task's endpoint family is taken from the registry, never re-derived.
// Terminal tasks are returned from cache without any network traffic. On
// first SUCCEEDED, the glb and stl assets are downloaded and cached.
func (c *Client) Poll(ctx context.Context, taskID string) (*Task, error) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownTask
	}
	if task.Status.Terminal() {
		snapshot := task.clone()
		c.mu.Unlock()
		return snapshot, nil
	}
	multiView := task.MultiView
	c.mu.Unlock()

	status, err := c.fetchStatus(ctx, taskID, multiView)
	if err != nil {
		return nil, err
	}

	update := Task{
		ID:        taskID,
		MultiView: multiView,
		Status:    normalizeStatus(status.Status),
		Progress:  status.Progress,
	}
	update.Assets.GLBURL = status.ModelURLs.GLB
	update.Assets.STLURL = status.ModelURLs.STL
	update.Assets.OBJURL = status.ModelURLs.OBJ

	if update.Status == StatusFailed {
		update.Error = status.TaskError.Message
		if update.Error == "" {
			update.Error = status.Message
		}
		if update.Error == "" {
			update.Error = "unknown error"
		}
	}

	if update.Status == StatusSucceeded {
		if err := c.materializeAssets(ctx, &update); err != nil {
			// Leave the task non-terminal so a later poll can retry the
			// download; the vendor state itself is final.
			c.logger.Error("failed to download mesh assets",
				zap.String("task_id", taskID),
				zap.Error(err))
			return nil, err
		}
	}

	return c.apply(taskID, &update), nil
}

// Lookup returns the cached task state without touching the vendor.
func (c *Client) Lookup(taskID string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	return task.clone(), nil
}

// register records a fresh task with its endpoint family.
func (c *Client) register(taskID string, multiView bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[taskID] = &Task{
		ID:        taskID,
		MultiView: multiView,
		Status:    StatusPending,
	}
}

// apply merges a poll result into the registry, enforcing forward-only
// status transitions, and returns a snapshot.
func (c *Client) apply(taskID string, update *Task) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[taskID]
	if !ok {
		// Task registered by this client earlier; recreate defensively.
		task = &Task{ID: taskID, MultiView: update.MultiView, Status: StatusPending}
		c.tasks[taskID] = task
	}

	// A concurrent poll may have finished first; terminal state wins.
	if task.Status.Terminal() {
		return task.clone()
	}

	if update.Status.rank() >= task.Status.rank() {
		task.Status = update.Status
	}
	if update.Progress > task.Progress {
		task.Progress = update.Progress
	}
	if update.Error != "" {
		task.Error = update.Error
	}
	if update.Assets.GLBURL != "" || update.Assets.STLURL != "" || update.Assets.OBJURL != "" {
		urls := update.Assets
		urls.GLB = task.Assets.GLB
		urls.STL = task.Assets.STL
		task.Assets = urls
	}
	if len(update.Assets.GLB) > 0 {
		task.Assets.GLB = update.Assets.GLB
	}
	if len(update.Assets.STL) > 0 {
		task.Assets.STL = update.Assets.STL
	}
	if task.Status == StatusSucceeded {
		task.Progress = 100
	}

	return task.clone()
}

// postSubmission sends a submission body and extracts the task id.
func (c *Client) postSubmission(ctx context.Context, endpoint string, body submitRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("meshy: failed to encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("meshy: failed to build submission request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.submitClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("meshy: submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return "", fmt.Errorf("meshy: submission returned %d: %s", resp.StatusCode, detail)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("meshy: failed to decode submission response: %w", err)
	}

	taskID := parsed.Result
	if taskID == "" {
		taskID = parsed.ID
	}
	if taskID == "" {
		return "", fmt.Errorf("meshy: submission response carried no task id")
	}
	return taskID, nil
}

// fetchStatus queries the status endpoint of the task's family.
func (c *Client) fetchStatus(ctx context.Context, taskID string, multiView bool) (*statusResponse, error) {
	endpoint := singleEndpoint
	if multiView {
		endpoint = multiEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("meshy: failed to build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meshy: status query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, fmt.Errorf("meshy: status query returned %d: %s", resp.StatusCode, detail)
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("meshy: failed to decode status response: %w", err)
	}
	return &parsed, nil
}

// materializeAssets downloads the completed mesh, each offered format into
// its own slot: the viewer consumes glb, the print vendor stl. A format the
// vendor did not offer stays empty rather than borrowing another format's
// bytes, and each offered URL is fetched exactly once.
func (c *Client) materializeAssets(ctx context.Context, task *Task) error {
	if task.Assets.GLBURL == "" && task.Assets.STLURL == "" {
		return fmt.Errorf("meshy: succeeded task %s offered no glb or stl asset", task.ID)
	}

	if task.Assets.GLBURL != "" {
		glb, err := c.download(ctx, task.Assets.GLBURL)
		if err != nil {
			return err
		}
		task.Assets.GLB = glb
	}

	if task.Assets.STLURL != "" {
		stl, err := c.download(ctx, task.Assets.STLURL)
		if err != nil {
			return err
		}
		task.Assets.STL = stl
	}

	c.logger.Info("mesh assets downloaded",
		zap.String("task_id", task.ID),
		zap.Int("glb_bytes", len(task.Assets.GLB)),
		zap.Int("stl_bytes", len(task.Assets.STL)))
	return nil
}

// download fetches one asset URL into memory.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("meshy: failed to build asset request: %w", err)
	}

	resp, err := c.submitClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meshy: asset download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meshy: asset download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMeshAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("meshy: failed to read asset body: %w", err)
	}
	return data, nil
}

// normalizeStatus maps vendor status strings onto the Task lifecycle.
// Unknown strings report as PENDING with progress carried through.
func normalizeStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "SUCCEEDED":
		return StatusSucceeded
	case "FAILED", "CANCELED":
		return StatusFailed
	case "IN_PROGRESS", "PROCESSING":
		return StatusProcessing
	case "PENDING", "QUEUED":
		return StatusPending
	}
	return StatusPending
}
