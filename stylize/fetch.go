// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// fetch.go implements the Fetcher used for providers that answer with a
// temporary image URL instead of inline bytes. Provider URLs expire quickly
// (typically within an hour), so results are fetched immediately.
package stylize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pawprints_backend/core"
)

// maxFetchBytes caps a fetched provider image at 32MB.
const maxFetchBytes = 32 << 20

// Fetcher downloads provider-hosted images into memory.
//
// Thread Safety: safe for concurrent use.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the configured TLS settings.
func NewFetcher(cfg *core.Config) *Fetcher {
	return &Fetcher{client: core.GetDefaultHTTPClient(cfg)}
}

// NewFetcherWithClient creates a Fetcher over an explicit HTTP client.
// Useful for tests.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads the image at url and returns its bytes and MIME type.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("stylize: fetch URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to build fetch request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("stylize: image fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("stylize: image fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("stylize: failed to read fetched image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("stylize: fetched image is empty")
	}

	mimeType := resp.Header.Get("Content-Type")
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return data, mimeType, nil
}
