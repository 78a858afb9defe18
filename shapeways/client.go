package shapeways

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"pawprints_backend/core"
	"pawprints_backend/logging"

	"go.uber.org/zap"
)

// Quote sources reported to callers.
const (
	SourceVendor    = "shapeways"
	SourceEstimated = "estimated"
	SourceError     = "error"
)

// Client uploads models to Shapeways and fetches pricing. A nil Client is
// valid and behaves as the soft-disabled integration: uploads are skipped
// and quotes come back estimated.
//
// The task-id to vendor-model-id cache is the only shared mutable state;
// an upload for a task that already has a vendor model is a no-op returning
// the cached id.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	tokens       *TokenSource
	baseURL      string
	uploadClient *http.Client
	quoteClient  *http.Client
	markupRate   float64
	logger       *logging.Logger

	mu     sync.Mutex
	models map[string]string
}

// NewClient creates a vendor client from configuration.
// Returns ErrNotConfigured when credentials are missing; callers should
// treat that as a degraded integration and keep a nil Client.
func NewClient(cfg *core.Config, logger *logging.Logger) (*Client, error) {
	tokens, err := NewTokenSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		tokens:       tokens,
		baseURL:      strings.TrimRight(cfg.ShapewaysBaseURL, "/"),
		uploadClient: core.GetHTTPClient(cfg, cfg.UploadTimeout),
		quoteClient:  core.GetHTTPClient(cfg, cfg.PollTimeout),
		markupRate:   cfg.MarkupRate,
		logger:       logger.Named("shapeways"),
		models:       make(map[string]string),
	}, nil
}

// uploadRequest is the model upload body. The rights flags are required by
// the vendor for every programmatic upload.
type uploadRequest struct {
	FileName                 string `json:"fileName"`
	File                     string `json:"file"`
	HasRightsToModel         int    `json:"hasRightsToModel"`
	AcceptTermsAndConditions int    `json:"acceptTermsAndConditions"`
	Units                    string `json:"units"`
}

// uploadResponse is the consumed subset of the upload response. The id field
// has appeared under different names across vendor API revisions.
type uploadResponse struct {
	ModelID     json.Number `json:"modelId"`
	ModelIDSnek json.Number `json:"model_id"`
	ID          json.Number `json:"id"`
}

func (u *uploadResponse) id() string {
	for _, v := range []json.Number{u.ModelID, u.ModelIDSnek, u.ID} {
		if v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// UploadModel registers a mesh with the vendor and returns the vendor model
// id. The upload is idempotent per task: once a task has a vendor model, all
// later calls return the cached id without touching the network. Skipped
// uploads (disabled client, empty mesh, no token) return "" with no error.
func (c *Client) UploadModel(ctx context.Context, taskID, filename string, mesh []byte) (string, error) {
	if c == nil {
		return "", nil
	}

	c.mu.Lock()
	if id, ok := c.models[taskID]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if len(mesh) == 0 {
		c.logger.Warn("vendor upload skipped, no mesh bytes",
			zap.String("task_id", taskID))
		return "", nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Warn("vendor upload skipped, no token",
			zap.String("task_id", taskID),
			zap.Error(err))
		return "", nil
	}

	body := uploadRequest{
		FileName:                 filename,
		File:                     base64.StdEncoding.EncodeToString(mesh),
		HasRightsToModel:         1,
		AcceptTermsAndConditions: 1,
		Units:                    "mm",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("shapeways: failed to encode upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/v1", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("shapeways: failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shapeways: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return "", fmt.Errorf("shapeways: upload returned %d: %s", resp.StatusCode, detail)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("shapeways: failed to decode upload response: %w", err)
	}
	modelID := parsed.id()
	if modelID == "" {
		return "", fmt.Errorf("shapeways: upload response carried no model id")
	}

	c.mu.Lock()
	// A concurrent upload for the same task may have won the race; keep the
	// first recorded id so the mapping never changes once set.
	if existing, ok := c.models[taskID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.models[taskID] = modelID
	c.mu.Unlock()

	c.logger.Info("model uploaded to vendor",
		zap.String("task_id", taskID),
		zap.String("model_id", modelID),
		zap.Int("mesh_bytes", len(mesh)))
	return modelID, nil
}

// ModelID returns the cached vendor model id for a task, if any.
func (c *Client) ModelID(taskID string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.models[taskID]
	return id, ok
}
