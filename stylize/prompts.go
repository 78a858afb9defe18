// Package stylize turns raw pet photos into product-ready renderings via
// generative image providers.
//
// prompts.go holds the prompt templates. The base prompts mirror what the
// product needs for each type; the view prompts add camera-angle framing for
// multi-view generation.
package stylize

import (
	"fmt"
	"strings"
)

// Product types supported by the pipeline.
const (
	ProductStatue  = "statue"
	ProductKeyring = "keyring"
)

// Materials supported by the pipeline.
const (
	MaterialBronze = "bronze"
	MaterialResin  = "resin"
)

// View labels, in canonical order.
const (
	ViewFront = "front"
	ViewSide  = "side"
	ViewBack  = "back"
)

// ViewLabels is the canonical multi-view label order.
var ViewLabels = []string{ViewFront, ViewSide, ViewBack}

const statuePrompt = "Isolate the animal from this image. Remove the entire background and replace it " +
	"with a pure white background. Keep the animal exactly as it appears — do not alter, " +
	"stylize, or add anything. Output a clean, high-resolution image of just the animal " +
	"on white, suitable for 3D model generation."

const keyringPrompt = "Isolate the animal from the image and make the background white, turn it into a " +
	"detailed bronze keychain that looks identical to the pet, don't include the chain " +
	"or ring, just the fixed eyelet, the eyelet should be in full view."

// StylizePrompt returns the base stylization prompt for a product type.
// Unknown product types fall back to the statue prompt.
func StylizePrompt(productType string) string {
	switch productType {
	case ProductKeyring:
		return keyringPrompt
	default:
		return statuePrompt
	}
}

// materialFinish describes the target surface for view prompts.
func materialFinish(material string) string {
	switch material {
	case MaterialResin:
		return "smooth matte resin finish in natural colors"
	default:
		return "solid cast bronze finish with subtle patina"
	}
}

// viewFraming returns the camera instruction for a view label.
func viewFraming(view string) string {
	switch view {
	case ViewSide:
		return "Render the subject rotated to an exact side profile, 90 degrees from the camera."
	case ViewBack:
		return "Render the subject seen directly from behind, 180 degrees from the camera."
	default:
		return "Render the subject facing the camera directly, centered."
	}
}

// ViewPrompt builds the label-specific prompt for multi-view generation,
// parameterized by product type and material. The three views of one run
// must agree on subject and finish so the reconstruction provider can fuse
// them into a single mesh.
func ViewPrompt(view, productType, material string) string {
	subject := "a small statue of the animal"
	if productType == ProductKeyring {
		subject = "a keychain charm of the animal with a fixed eyelet in full view"
	}

	return strings.Join([]string{
		fmt.Sprintf("Turn the animal in this image into %s with a %s.", subject, materialFinish(material)),
		viewFraming(view),
		"Keep the pose, proportions and markings identical across views.",
		"Pure white background, even studio lighting, no shadows, no props.",
	}, " ")
}
