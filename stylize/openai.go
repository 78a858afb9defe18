// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// openai.go implements the OpenAI image-edit provider, the secondary link
// in the fallback chain. The edits endpoint wants a file handle, so the
// prepared image is staged through a temp file for the duration of the call.
package stylize

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"pawprints_backend/core"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider stylizes images via the OpenAI image edits API.
//
// Responses are parsed for inline base64 payloads first; URL responses are
// fetched through the shared Fetcher as a secondary path.
//
// Thread Safety: safe for concurrent use. Each call stages its own temp file.
type OpenAIProvider struct {
	client  *openai.Client
	fetcher *Fetcher
	model   string
}

// NewOpenAIProvider creates the OpenAI stylization provider.
// Returns an error if the API key is missing.
func NewOpenAIProvider(cfg *core.Config, fetcher *Fetcher) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stylize: config cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("stylize: OpenAI API key is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("stylize: fetcher cannot be nil")
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIImageURL != "" {
		clientConfig.BaseURL = cfg.OpenAIImageURL
	}
	clientConfig.HTTPClient = core.GetHTTPClient(cfg, cfg.StylizeTimeout)

	model := cfg.OpenAIImageModel
	if model == "" {
		model = "gpt-image-1"
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		fetcher: fetcher,
		model:   model,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Stylize edits the image according to the prompt via the OpenAI API.
func (p *OpenAIProvider) Stylize(ctx context.Context, img []byte, mimeType, prompt string) ([]byte, string, error) {
	if len(img) == 0 {
		return nil, "", fmt.Errorf("stylize: image cannot be empty")
	}
	if prompt == "" {
		return nil, "", fmt.Errorf("stylize: prompt cannot be empty")
	}

	file, err := stageTempImage(img, mimeType)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()

	req := openai.ImageEditRequest{
		Image:          file,
		Prompt:         prompt,
		Model:          p.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}

	resp, err := p.client.CreateEditImage(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: OpenAI image edit failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, "", fmt.Errorf("stylize: OpenAI returned empty data")
	}

	// Inline payload first, URL second.
	if b64 := resp.Data[0].B64JSON; b64 != "" {
		out, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, "", fmt.Errorf("stylize: OpenAI returned invalid base64: %w", err)
		}
		return out, "image/png", nil
	}

	if url := resp.Data[0].URL; url != "" {
		return p.fetcher.Fetch(ctx, url)
	}

	return nil, "", fmt.Errorf("stylize: OpenAI response carried neither inline image nor URL")
}

// stageTempImage writes the image to a temp file with an extension matching
// its MIME type, as the edits endpoint infers format from the filename.
func stageTempImage(img []byte, mimeType string) (*os.File, error) {
	ext := ".png"
	if mimeType == "image/jpeg" {
		ext = ".jpg"
	}

	file, err := os.CreateTemp("", "stylize_*"+ext)
	if err != nil {
		return nil, fmt.Errorf("stylize: failed to create temp image: %w", err)
	}

	if _, err := file.Write(img); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("stylize: failed to write temp image: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("stylize: failed to rewind temp image: %w", err)
	}

	return file, nil
}

// Model returns the configured image model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Ensure OpenAIProvider implements Provider at compile time.
var _ Provider = (*OpenAIProvider)(nil)
