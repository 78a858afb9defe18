// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// chain.go implements the ordered provider fallback chain. A failed or
// timed-out provider falls through to the next one immediately; there is no
// retry-with-backoff. When every provider fails the original image is
// returned unmodified, so stylization degrades gracefully instead of
// failing the pipeline.
package stylize

import (
	"context"
	"time"

	"pawprints_backend/logging"

	"go.uber.org/zap"
)

// DefaultAttemptTimeout bounds each provider attempt. A timeout counts as
// that provider's failure and control moves to the next provider.
const DefaultAttemptTimeout = 45 * time.Second

// Chain tries an ordered list of providers until one succeeds.
//
// Thread Safety: Chain is safe for concurrent use; it holds no mutable state.
type Chain struct {
	providers      []Provider
	attemptTimeout time.Duration
	logger         *logging.Logger
}

// NewChain creates a provider chain in the given order.
// A zero attemptTimeout uses DefaultAttemptTimeout.
func NewChain(providers []Provider, attemptTimeout time.Duration, logger *logging.Logger) *Chain {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Chain{
		providers:      providers,
		attemptTimeout: attemptTimeout,
		logger:         logger.Named("stylize"),
	}
}

// Providers returns the configured provider order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Stylize runs the fallback chain for one image+prompt pair.
//
// The first provider to return an image wins; providers after it are not
// invoked. If the chain is exhausted, the original input bytes are returned
// with Fallback set, so the caller can always proceed with the result.
func (c *Chain) Stylize(ctx context.Context, img []byte, mimeType, prompt string) *Result {
	result := &Result{}

	for _, provider := range c.providers {
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		out, outMIME, err := provider.Stylize(attemptCtx, img, mimeType, prompt)
		cancel()

		result.Attempts = append(result.Attempts, Attempt{Provider: provider.Name(), Err: err})

		if err != nil {
			c.logger.Warn("stylization provider failed, falling through",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			continue
		}

		c.logger.Info("stylization succeeded",
			zap.String("provider", provider.Name()),
			zap.Int("output_bytes", len(out)))

		result.Provider = provider.Name()
		result.Image = out
		result.MIME = outMIME
		return result
	}

	c.logger.Warn("all stylization providers failed, returning original image",
		zap.Int("providers_tried", len(result.Attempts)))

	result.Provider = "original"
	result.Image = img
	result.MIME = mimeType
	result.Fallback = true
	return result
}
