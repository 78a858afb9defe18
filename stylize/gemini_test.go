package stylize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pawprints_backend/core"
)

func geminiTestConfig(serverURL string, models ...string) *core.Config {
	return &core.Config{
		GeminiAPIKey:   "test-key",
		GeminiEndpoint: serverURL,
		GeminiModels:   models,
		StylizeTimeout: 5 * time.Second,
	}
}

func geminiImageResponse(img []byte) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"parts": []map[string]interface{}{{
					"inlineData": map[string]interface{}{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(img),
					},
				}},
			},
		}},
	}
}

// TestGeminiProvider_ExtractsInlineImage tests the happy path of inline
// image extraction.
func TestGeminiProvider_ExtractsInlineImage(t *testing.T) {
	want := []byte("edited-image")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash-image") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("unexpected request shape: %+v", req)
		}

		json.NewEncoder(w).Encode(geminiImageResponse(want))
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL, "gemini-2.5-flash-image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, mime, err := provider.Stylize(context.Background(), []byte("photo"), "image/jpeg", "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, want) {
		t.Errorf("unexpected output: %q", out)
	}
	if mime != "image/png" {
		t.Errorf("unexpected mime: %s", mime)
	}
}

// TestGeminiProvider_ModelFallback tests that a failing model name falls
// through to the next one in the list.
func TestGeminiProvider_ModelFallback(t *testing.T) {
	want := []byte("from-second-model")
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if strings.Contains(r.URL.Path, "model-a") {
			http.Error(w, "not available", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(geminiImageResponse(want))
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL, "model-a", "model-b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, _, err := provider.Stylize(context.Background(), []byte("photo"), "image/jpeg", "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, want) {
		t.Errorf("unexpected output: %q", out)
	}
	if len(calls) != 2 {
		t.Errorf("expected 2 model calls, got %d: %v", len(calls), calls)
	}
}

// TestGeminiProvider_NoImagePart tests that a textual response without an
// image part is treated as failure.
func TestGeminiProvider_NoImagePart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{{"text": "I cannot do that"}},
				},
			}},
		})
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL, "model-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = provider.Stylize(context.Background(), []byte("photo"), "image/jpeg", "prompt")
	if err == nil {
		t.Fatal("expected error when response has no image part")
	}
}

// TestGeminiProvider_AllModelsFail tests exhaustion of the model list.
func TestGeminiProvider_AllModelsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL, "model-a", "model-b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = provider.Stylize(context.Background(), []byte("photo"), "image/jpeg", "prompt")
	if err == nil {
		t.Fatal("expected error when all models fail")
	}
}

// TestNewGeminiProvider_MissingKey tests constructor validation.
func TestNewGeminiProvider_MissingKey(t *testing.T) {
	cfg := geminiTestConfig("http://example.invalid", "model-a")
	cfg.GeminiAPIKey = ""
	if _, err := NewGeminiProvider(cfg); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// TestGeminiProvider_EmptyInputs tests input validation.
func TestGeminiProvider_EmptyInputs(t *testing.T) {
	provider, err := NewGeminiProvider(geminiTestConfig("http://example.invalid", "model-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := provider.Stylize(context.Background(), nil, "image/png", "prompt"); err == nil {
		t.Error("expected error for empty image")
	}
	if _, _, err := provider.Stylize(context.Background(), []byte("x"), "image/png", ""); err == nil {
		t.Error("expected error for empty prompt")
	}
}
