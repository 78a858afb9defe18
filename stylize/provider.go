// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// provider.go defines the Provider interface implemented by each backend
// (Gemini, OpenAI, remove.bg) and the Result record produced per attempt.
// Providers are composed into an ordered fallback Chain (chain.go); the
// multi-view generator (multiview.go) drives the chain once per camera angle.
package stylize

import (
	"context"
)

// Provider is the interface for generative image backends.
// Each provider accepts the prepared source image plus a prompt and returns
// the stylized image bytes.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in results and logs.
	Name() string

	// Stylize transforms the image according to the prompt.
	// Returns the output image bytes and their MIME type.
	Stylize(ctx context.Context, img []byte, mimeType, prompt string) ([]byte, string, error)
}

// Attempt records the outcome of a single provider invocation.
// Attempts are never mutated after creation.
type Attempt struct {
	// Provider is the name of the provider that was tried.
	Provider string

	// Err is nil when the attempt produced an image.
	Err error
}

// Result is the final outcome of a stylization request.
type Result struct {
	// Provider is the name of the provider that produced the image, or
	// "original" when every provider failed and the input was passed through.
	Provider string

	// Image holds the stylized image bytes (or the unmodified input on
	// total fallback).
	Image []byte

	// MIME is the media type of Image.
	MIME string

	// Fallback is true when the chain was exhausted and the original
	// input bytes were returned unmodified.
	Fallback bool

	// Attempts lists every provider invocation in order.
	Attempts []Attempt
}
