package shapeways

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// MaterialQuote is one material's vendor price.
type MaterialQuote struct {
	MaterialID string  `json:"material_id"`
	Name       string  `json:"name"`
	VendorCost float64 `json:"shapeways_cost"`
}

// QuoteResult is the pricing answer for an uploaded model. Source is
// SourceVendor when real vendor prices were fetched, SourceEstimated when
// the model has not been uploaded or the integration is disabled, and
// SourceError when the vendor rejected the request.
//
// The bronze buckets are a best-effort name-based classification for UI
// convenience; materials that match no bucket appear only in AllMaterials.
type QuoteResult struct {
	Source       string                   `json:"source"`
	ModelID      string                   `json:"model_id,omitempty"`
	AllMaterials map[string]MaterialQuote `json:"all_materials,omitempty"`
	Dimensions   json.RawMessage          `json:"dimensions,omitempty"`

	BronzeRaw      *MaterialQuote `json:"bronze_raw,omitempty"`
	BronzePolished *MaterialQuote `json:"bronze_polished,omitempty"`
	Bronze         *MaterialQuote `json:"bronze,omitempty"`

	Note string `json:"note,omitempty"`
}

// PriceBreakdown is the marked-up price for one model/material pair.
type PriceBreakdown struct {
	Source       string  `json:"source"`
	MaterialName string  `json:"material_name,omitempty"`
	BasePrice    float64 `json:"base_price,omitempty"`
	Markup       float64 `json:"markup,omitempty"`
	Total        float64 `json:"total,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// modelDetailResponse is the consumed subset of the model-detail response.
type modelDetailResponse struct {
	Materials map[string]struct {
		Title string      `json:"title"`
		Price json.Number `json:"price"`
	} `json:"materials"`
	Dimensions json.RawMessage `json:"dimensions"`
}

// Quote fetches per-material vendor pricing for the model uploaded for a
// reconstruction task. Tasks without an uploaded model and disabled clients
// get an estimated result rather than an error.
func (c *Client) Quote(ctx context.Context, taskID string) (*QuoteResult, error) {
	if c == nil {
		return &QuoteResult{Source: SourceEstimated, Note: "vendor integration not configured"}, nil
	}

	modelID, ok := c.ModelID(taskID)
	if !ok {
		return &QuoteResult{Source: SourceEstimated, Note: "model not yet uploaded to vendor"}, nil
	}

	detail, err := c.fetchModelDetail(ctx, modelID)
	if err != nil {
		c.logger.Warn("vendor quote failed",
			zap.String("task_id", taskID),
			zap.String("model_id", modelID),
			zap.Error(err))
		return &QuoteResult{Source: SourceError, ModelID: modelID, Note: err.Error()}, nil
	}

	result := &QuoteResult{
		Source:       SourceVendor,
		ModelID:      modelID,
		AllMaterials: make(map[string]MaterialQuote),
		Dimensions:   detail.Dimensions,
	}

	for id, mat := range detail.Materials {
		price, _ := mat.Price.Float64()
		if price <= 0 {
			continue
		}
		name := mat.Title
		if name == "" {
			name = "Material " + id
		}
		result.AllMaterials[id] = MaterialQuote{
			MaterialID: id,
			Name:       name,
			VendorCost: roundCents(price),
		}
	}

	classifyBronze(result)
	c.logger.Info("vendor quote fetched",
		zap.String("model_id", modelID),
		zap.Int("materials", len(result.AllMaterials)))
	return result, nil
}

// PriceWithMarkup returns the vendor base price for one material with the
// configured markup applied. Unavailable vendors or models produce an
// estimated result, never an error.
func (c *Client) PriceWithMarkup(ctx context.Context, modelID, materialID string) (*PriceBreakdown, error) {
	if c == nil || modelID == "" {
		return &PriceBreakdown{Source: SourceEstimated, Note: "using local price estimate"}, nil
	}

	detail, err := c.fetchModelDetail(ctx, modelID)
	if err != nil {
		c.logger.Warn("vendor price lookup failed",
			zap.String("model_id", modelID),
			zap.Error(err))
		return &PriceBreakdown{Source: SourceEstimated, Note: "using local price estimate"}, nil
	}

	mat, ok := detail.Materials[materialID]
	if !ok {
		return &PriceBreakdown{Source: SourceEstimated, Note: "material not offered for this model"}, nil
	}

	base, _ := mat.Price.Float64()
	markup := base * c.markupRate
	return &PriceBreakdown{
		Source:       SourceVendor,
		MaterialName: mat.Title,
		BasePrice:    roundCents(base),
		Markup:       roundCents(markup),
		Total:        roundCents(base + markup),
	}, nil
}

// Materials returns the vendor's full material catalog as raw JSON.
func (c *Client) Materials(ctx context.Context) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/materials/v1", nil)
	if err != nil {
		return nil, fmt.Errorf("shapeways: failed to build materials request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.quoteClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shapeways: materials query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shapeways: materials query returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("shapeways: failed to read materials response: %w", err)
	}
	return json.RawMessage(data), nil
}

// fetchModelDetail queries the model-detail endpoint for pricing data.
func (c *Client) fetchModelDetail(ctx context.Context, modelID string) (*modelDetailResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/"+modelID+"/v1", nil)
	if err != nil {
		return nil, fmt.Errorf("shapeways: failed to build model detail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.quoteClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shapeways: model detail query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, fmt.Errorf("shapeways: model detail query returned %d: %s", resp.StatusCode, detail)
	}

	var parsed modelDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("shapeways: failed to decode model detail response: %w", err)
	}
	return &parsed, nil
}

// classifyBronze fills the bronze buckets by material name. "raw" and
// "polished" variants are distinguished first; a bare bronze match lands in
// the generic bucket.
func classifyBronze(result *QuoteResult) {
	for id := range result.AllMaterials {
		q := result.AllMaterials[id]
		name := strings.ToLower(q.Name)
		switch {
		case strings.Contains(name, "bronze") && strings.Contains(name, "raw"):
			result.BronzeRaw = &q
		case strings.Contains(name, "bronze") && strings.Contains(name, "polished"):
			result.BronzePolished = &q
		case strings.Contains(name, "bronze"):
			result.Bronze = &q
		}
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
