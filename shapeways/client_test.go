package shapeways

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pawprints_backend/core"
	"pawprints_backend/logging"

	"go.uber.org/zap/zapcore"
)

func testLogger() *logging.Logger {
	return logging.NewTestLogger(zapcore.NewNopCore())
}

// fakeVendor is a scripted Shapeways API for client tests.
type fakeVendor struct {
	mu sync.Mutex

	tokenExpiresIn int
	failUpload     bool

	// models maps model id to its detail response body.
	models map[string]map[string]interface{}

	tokenExchanges int
	uploads        int
	detailQueries  int
	lastUploadBody map[string]interface{}
}

func (f *fakeVendor) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant type: %s", r.PostForm.Get("grant_type"))
		}
		f.mu.Lock()
		f.tokenExchanges++
		n := f.tokenExchanges
		expires := f.tokenExpiresIn
		f.mu.Unlock()
		if expires == 0 {
			expires = 3600
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   expires,
		})
	})

	mux.HandleFunc("/models/v1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.uploads++
		n := f.uploads
		f.lastUploadBody = body
		fail := f.failUpload
		f.mu.Unlock()
		if fail {
			http.Error(w, "mesh rejected", http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"modelId": 9000 + n})
	})

	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		modelID := r.URL.Path[len("/models/") : len(r.URL.Path)-len("/v1")]
		f.mu.Lock()
		f.detailQueries++
		detail := f.models[modelID]
		f.mu.Unlock()
		if detail == nil {
			http.Error(w, "no such model", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(detail)
	})

	return mux
}

func newTestVendorClient(t *testing.T, fake *fakeVendor) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	cfg := &core.Config{
		ShapewaysClientID:     "client-id",
		ShapewaysClientSecret: "client-secret",
		ShapewaysBaseURL:      server.URL,
		TokenTimeout:          5 * time.Second,
		UploadTimeout:         5 * time.Second,
		PollTimeout:           5 * time.Second,
		MarkupRate:            0.40,
	}
	client, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

// TestTokenSource_CachesUntilMargin tests that a cached token is reused and
// refreshed once it enters the 60-second expiry margin.
func TestTokenSource_CachesUntilMargin(t *testing.T) {
	fake := &fakeVendor{tokenExpiresIn: 3600}
	client := newTestVendorClient(t, fake)

	base := time.Now()
	clock := base
	client.tokens.now = func() time.Time { return clock }

	first, err := client.tokens.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "tok-1" {
		t.Errorf("unexpected token: %s", first)
	}

	// Well inside the lifetime: cache hit.
	clock = base.Add(30 * time.Minute)
	second, err := client.tokens.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first || fake.tokenExchanges != 1 {
		t.Errorf("expected cached token, got %s after %d exchanges", second, fake.tokenExchanges)
	}

	// 30 seconds before vendor expiry: inside the margin, must refresh.
	clock = base.Add(3600*time.Second - 30*time.Second)
	third, err := client.tokens.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != "tok-2" || fake.tokenExchanges != 2 {
		t.Errorf("expected refreshed token, got %s after %d exchanges", third, fake.tokenExchanges)
	}
}

// TestNewClient_MissingCredentials tests the soft-disabled constructor path.
func TestNewClient_MissingCredentials(t *testing.T) {
	cfg := &core.Config{ShapewaysBaseURL: "https://api.shapeways.com", ShapewaysClientID: "only-id"}
	_, err := NewClient(cfg, testLogger())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

// TestClient_UploadModel tests the upload body shape and returned id.
func TestClient_UploadModel(t *testing.T) {
	fake := &fakeVendor{}
	client := newTestVendorClient(t, fake)

	mesh := []byte("solid-mesh-bytes")
	modelID, err := client.UploadModel(context.Background(), "task-1", "task-1.stl", mesh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if modelID != "9001" {
		t.Errorf("unexpected model id: %s", modelID)
	}

	body := fake.lastUploadBody
	if body["fileName"] != "task-1.stl" {
		t.Errorf("unexpected filename: %v", body["fileName"])
	}
	if body["file"] != base64.StdEncoding.EncodeToString(mesh) {
		t.Error("mesh bytes were not base64-encoded")
	}
	if body["hasRightsToModel"] != float64(1) || body["acceptTermsAndConditions"] != float64(1) {
		t.Error("rights flags missing from upload body")
	}
	if body["units"] != "mm" {
		t.Errorf("unexpected units: %v", body["units"])
	}
}

// TestClient_UploadModelIdempotent tests that a second upload for the same
// task returns the cached id with a single network upload observed.
func TestClient_UploadModelIdempotent(t *testing.T) {
	fake := &fakeVendor{}
	client := newTestVendorClient(t, fake)

	mesh := []byte("solid-mesh-bytes")
	first, err := client.UploadModel(context.Background(), "task-1", "task-1.stl", mesh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := client.UploadModel(context.Background(), "task-1", "task-1.stl", mesh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("cached id changed: %s -> %s", first, second)
	}
	if fake.uploads != 1 {
		t.Errorf("expected exactly one network upload, got %d", fake.uploads)
	}

	// A different task still uploads.
	third, err := client.UploadModel(context.Background(), "task-2", "task-2.stl", mesh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third == first {
		t.Error("distinct tasks shared a model id")
	}
	if fake.uploads != 2 {
		t.Errorf("expected a second upload for a new task, got %d", fake.uploads)
	}
}

// TestClient_UploadModelSkips tests the null-returning skip paths.
func TestClient_UploadModelSkips(t *testing.T) {
	fake := &fakeVendor{}
	client := newTestVendorClient(t, fake)

	id, err := client.UploadModel(context.Background(), "task-1", "task-1.stl", nil)
	if err != nil || id != "" {
		t.Errorf("empty mesh: expected silent skip, got id=%q err=%v", id, err)
	}
	if fake.uploads != 0 {
		t.Errorf("skip still uploaded: %d", fake.uploads)
	}

	var disabled *Client
	id, err = disabled.UploadModel(context.Background(), "task-1", "task-1.stl", []byte("mesh"))
	if err != nil || id != "" {
		t.Errorf("disabled client: expected silent skip, got id=%q err=%v", id, err)
	}
}

// TestClient_QuoteClassifiesBronze tests quote assembly and the name-based
// bronze buckets.
func TestClient_QuoteClassifiesBronze(t *testing.T) {
	fake := &fakeVendor{models: map[string]map[string]interface{}{
		"9001": {
			"materials": map[string]interface{}{
				"85": map[string]interface{}{"title": "Raw Bronze", "price": 41.50},
				"86": map[string]interface{}{"title": "Polished Bronze", "price": 55.25},
				"6":  map[string]interface{}{"title": "White Natural Versatile Plastic", "price": 12.00},
				"99": map[string]interface{}{"title": "Discontinued", "price": 0},
			},
			"dimensions": map[string]interface{}{"x": 40.0, "y": 25.0, "z": 50.0},
		},
	}}
	client := newTestVendorClient(t, fake)

	if _, err := client.UploadModel(context.Background(), "task-1", "task-1.stl", []byte("mesh")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, err := client.Quote(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Source != SourceVendor {
		t.Fatalf("expected vendor quote, got %s", quote.Source)
	}
	if quote.ModelID != "9001" {
		t.Errorf("unexpected model id: %s", quote.ModelID)
	}
	if len(quote.AllMaterials) != 3 {
		t.Errorf("expected 3 priced materials, got %d", len(quote.AllMaterials))
	}
	if quote.BronzeRaw == nil || quote.BronzeRaw.VendorCost != 41.50 {
		t.Errorf("raw bronze bucket wrong: %+v", quote.BronzeRaw)
	}
	if quote.BronzePolished == nil || quote.BronzePolished.VendorCost != 55.25 {
		t.Errorf("polished bronze bucket wrong: %+v", quote.BronzePolished)
	}
	if quote.Bronze != nil {
		t.Errorf("generic bronze bucket should be empty, got %+v", quote.Bronze)
	}
	if len(quote.Dimensions) == 0 {
		t.Error("dimensions were dropped")
	}
}

// TestClient_QuoteBeforeUpload tests that an un-uploaded task gets an
// estimated quote rather than an error.
func TestClient_QuoteBeforeUpload(t *testing.T) {
	fake := &fakeVendor{}
	client := newTestVendorClient(t, fake)

	quote, err := client.Quote(context.Background(), "task-never-uploaded")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Source != SourceEstimated {
		t.Errorf("expected estimated quote, got %s", quote.Source)
	}
	if fake.detailQueries != 0 {
		t.Errorf("estimated quote hit the network: %d queries", fake.detailQueries)
	}

	var disabled *Client
	quote, err = disabled.Quote(context.Background(), "task-1")
	if err != nil || quote.Source != SourceEstimated {
		t.Errorf("disabled client: expected estimated quote, got %+v err=%v", quote, err)
	}
}

// TestClient_PriceWithMarkup tests the 40% markup arithmetic.
func TestClient_PriceWithMarkup(t *testing.T) {
	fake := &fakeVendor{models: map[string]map[string]interface{}{
		"9001": {
			"materials": map[string]interface{}{
				"85": map[string]interface{}{"title": "Raw Bronze", "price": 50.00},
			},
		},
	}}
	client := newTestVendorClient(t, fake)

	price, err := client.PriceWithMarkup(context.Background(), "9001", "85")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.Source != SourceVendor {
		t.Fatalf("expected vendor price, got %s", price.Source)
	}
	if price.BasePrice != 50.00 || price.Markup != 20.00 || price.Total != 70.00 {
		t.Errorf("markup arithmetic wrong: %+v", price)
	}
	if price.MaterialName != "Raw Bronze" {
		t.Errorf("unexpected material: %s", price.MaterialName)
	}

	// Unknown material and missing model both degrade to estimates.
	price, err = client.PriceWithMarkup(context.Background(), "9001", "404")
	if err != nil || price.Source != SourceEstimated {
		t.Errorf("unknown material: expected estimate, got %+v err=%v", price, err)
	}
	price, err = client.PriceWithMarkup(context.Background(), "", "85")
	if err != nil || price.Source != SourceEstimated {
		t.Errorf("missing model: expected estimate, got %+v err=%v", price, err)
	}
}

// TestClient_UploadFailureIsError tests that a vendor rejection surfaces and
// leaves no cached mapping.
func TestClient_UploadFailureIsError(t *testing.T) {
	fake := &fakeVendor{failUpload: true}
	client := newTestVendorClient(t, fake)

	_, err := client.UploadModel(context.Background(), "task-1", "task-1.stl", []byte("mesh"))
	if err == nil {
		t.Fatal("expected error from rejected upload")
	}
	if _, ok := client.ModelID("task-1"); ok {
		t.Error("failed upload left a cached model id")
	}
}
