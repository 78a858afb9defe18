// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// removebg.go implements the legacy remove.bg provider, the last resort in
// the fallback chain. It only strips the background rather than restyling,
// which is still good enough input for 3D reconstruction.
package stylize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"pawprints_backend/core"
)

// RemoveBGProvider calls the remove.bg background-removal API.
//
// Thread Safety: safe for concurrent use.
type RemoveBGProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// DefaultRemoveBGEndpoint is the production remove.bg API URL.
const DefaultRemoveBGEndpoint = "https://api.remove.bg/v1.0/removebg"

// NewRemoveBGProvider creates the remove.bg provider.
// Returns an error if the API key is missing.
func NewRemoveBGProvider(cfg *core.Config) (*RemoveBGProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stylize: config cannot be nil")
	}
	if cfg.RemoveBGAPIKey == "" {
		return nil, fmt.Errorf("stylize: remove.bg API key is required")
	}

	return &RemoveBGProvider{
		apiKey:   cfg.RemoveBGAPIKey,
		endpoint: DefaultRemoveBGEndpoint,
		client:   core.GetHTTPClient(cfg, cfg.StylizeTimeout),
	}, nil
}

// NewRemoveBGProviderWithEndpoint creates the provider against an explicit
// endpoint. Useful for tests.
func NewRemoveBGProviderWithEndpoint(apiKey, endpoint string, client *http.Client) *RemoveBGProvider {
	return &RemoveBGProvider{apiKey: apiKey, endpoint: endpoint, client: client}
}

// Name implements Provider.
func (p *RemoveBGProvider) Name() string { return "removebg" }

// Stylize posts the image as multipart form data and returns the cut-out.
// The prompt is ignored; remove.bg does one thing only.
func (p *RemoveBGProvider) Stylize(ctx context.Context, img []byte, mimeType, prompt string) ([]byte, string, error) {
	if len(img) == 0 {
		return nil, "", fmt.Errorf("stylize: image cannot be empty")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image_file", "photo")
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to build multipart body: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return nil, "", fmt.Errorf("stylize: failed to write multipart body: %w", err)
	}
	if err := writer.WriteField("size", "auto"); err != nil {
		return nil, "", fmt.Errorf("stylize: failed to write multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("stylize: failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to build remove.bg request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: remove.bg call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, "", fmt.Errorf("stylize: remove.bg returned %d: %s", resp.StatusCode, detail)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to read remove.bg response: %w", err)
	}
	if len(out) == 0 {
		return nil, "", fmt.Errorf("stylize: remove.bg returned an empty image")
	}

	return out, "image/png", nil
}

// Ensure RemoveBGProvider implements Provider at compile time.
var _ Provider = (*RemoveBGProvider)(nil)
