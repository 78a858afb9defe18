// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// gemini.go implements the Gemini image-editing provider. Gemini is the
// primary stylization backend: it takes the prompt plus the inline source
// image and returns the edited image inline. Several model names are tried
// in order because image-capable model availability varies by account.
package stylize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pawprints_backend/core"
)

// GeminiProvider calls the generativelanguage generateContent API with an
// inline image part and extracts the inline image from the response.
//
// Thread Safety: safe for concurrent use; the http.Client pools connections.
type GeminiProvider struct {
	apiKey   string
	endpoint string
	models   []string
	client   *http.Client
}

// geminiRequest is the consumed subset of the generateContent request body.
type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

// geminiResponse is the consumed subset of the generateContent response body.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewGeminiProvider creates the Gemini stylization provider.
// Returns an error if the API key is empty or no model names are given.
func NewGeminiProvider(cfg *core.Config) (*GeminiProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stylize: config cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("stylize: Gemini API key is required")
	}
	if len(cfg.GeminiModels) == 0 {
		return nil, fmt.Errorf("stylize: at least one Gemini model name is required")
	}

	return &GeminiProvider{
		apiKey:   cfg.GeminiAPIKey,
		endpoint: strings.TrimRight(cfg.GeminiEndpoint, "/"),
		models:   cfg.GeminiModels,
		client:   core.GetHTTPClient(cfg, cfg.StylizeTimeout),
	}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Stylize sends the prompt and inline image to each configured model in
// order, returning the first inline image found in a response. A model that
// answers non-200 or without an image part falls through to the next model.
func (p *GeminiProvider) Stylize(ctx context.Context, img []byte, mimeType, prompt string) ([]byte, string, error) {
	if len(img) == 0 {
		return nil, "", fmt.Errorf("stylize: image cannot be empty")
	}
	if prompt == "" {
		return nil, "", fmt.Errorf("stylize: prompt cannot be empty")
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(img),
				}},
			},
		}},
		GenerationConfig: geminiGenConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to encode Gemini request: %w", err)
	}

	var lastErr error
	for _, model := range p.models {
		out, outMIME, err := p.callModel(ctx, model, body)
		if err == nil {
			return out, outMIME, nil
		}
		lastErr = err
	}

	return nil, "", fmt.Errorf("stylize: all Gemini models failed: %w", lastErr)
}

// callModel invokes one model and extracts the first inline image part.
func (p *GeminiProvider) callModel(ctx context.Context, model string, body []byte) ([]byte, string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.endpoint, model, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to build Gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: Gemini call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, "", fmt.Errorf("stylize: Gemini model %s returned %d: %s", model, resp.StatusCode, detail)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", fmt.Errorf("stylize: failed to decode Gemini response: %w", err)
	}

	for _, candidate := range parsed.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, "", fmt.Errorf("stylize: Gemini returned invalid base64: %w", err)
			}
			outMIME := part.InlineData.MIMEType
			if outMIME == "" {
				outMIME = "image/png"
			}
			return data, outMIME, nil
		}
	}

	return nil, "", fmt.Errorf("stylize: Gemini model %s returned no image part", model)
}

// Models returns the configured model fallback order.
func (p *GeminiProvider) Models() []string { return p.models }

// Ensure GeminiProvider implements Provider at compile time.
var _ Provider = (*GeminiProvider)(nil)
