// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// multiview.go implements the multi-view generator. It drives the provider
// chain once per canonical view label (front/side/back); the three attempts
// are independent, so one failed angle degrades the set instead of aborting
// the run. Reconstruction fidelity improves with every extra view.
package stylize

import (
	"context"
	"errors"

	"pawprints_backend/logging"

	"go.uber.org/zap"
)

// ErrNoViewsProduced is returned when every view attempt fails.
var ErrNoViewsProduced = errors.New("stylize: no views produced")

// View is one labeled derived image in a ViewSet.
type View struct {
	// Label is one of ViewLabels.
	Label string

	// Image holds the derived image bytes.
	Image []byte

	// MIME is the media type of Image.
	MIME string

	// Provider is the name of the provider that produced this view.
	Provider string
}

// ViewSet is an ordered collection of up to 3 labeled views.
// A partial set (fewer than 3 views) is a valid, degraded outcome;
// Succeeded reports how many attempts produced an image.
type ViewSet struct {
	Views     []View
	Succeeded int
	Attempted int
}

// Get returns the view with the given label, if present.
func (s *ViewSet) Get(label string) (View, bool) {
	for _, v := range s.Views {
		if v.Label == label {
			return v, true
		}
	}
	return View{}, false
}

// Images returns the view images in canonical order.
func (s *ViewSet) Images() [][]byte {
	out := make([][]byte, 0, len(s.Views))
	for _, v := range s.Views {
		out = append(out, v.Image)
	}
	return out
}

// Views generates multi-view image sets through a provider chain.
type Views struct {
	chain  *Chain
	logger *logging.Logger
}

// NewViews creates a multi-view generator over the given chain.
func NewViews(chain *Chain, logger *logging.Logger) *Views {
	return &Views{
		chain:  chain,
		logger: logger.Named("multiview"),
	}
}

// Generate produces the front/side/back views for one prepared image.
//
// A view whose chain run ends in total fallback (original image returned
// unmodified) does not count as a produced view: passing three copies of
// the source photo to reconstruction is worse than passing the photo once.
// Returns ErrNoViewsProduced only when all three attempts fail.
func (v *Views) Generate(ctx context.Context, img []byte, mimeType, productType, material string) (*ViewSet, error) {
	set := &ViewSet{Attempted: len(ViewLabels)}

	for _, label := range ViewLabels {
		prompt := ViewPrompt(label, productType, material)
		result := v.chain.Stylize(ctx, img, mimeType, prompt)

		if result.Fallback {
			v.logger.Warn("view generation failed",
				zap.String("view", label),
				zap.String("product_type", productType))
			continue
		}

		set.Views = append(set.Views, View{
			Label:    label,
			Image:    result.Image,
			MIME:     result.MIME,
			Provider: result.Provider,
		})
		set.Succeeded++
	}

	if set.Succeeded == 0 {
		return nil, ErrNoViewsProduced
	}

	v.logger.Info("view set generated",
		zap.Int("succeeded", set.Succeeded),
		zap.Int("attempted", set.Attempted),
		zap.String("product_type", productType),
		zap.String("material", material))

	return set, nil
}
