package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pawprints_backend/core"
	"pawprints_backend/db"
	"pawprints_backend/logging"
	"pawprints_backend/meshy"
	"pawprints_backend/pipeline"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// maxUploadBytes bounds multipart photo uploads.
	maxUploadBytes = 20 << 20

	// maxJSONBytes bounds JSON request bodies (base64 images inflate them).
	maxJSONBytes = 64 << 20
)

// Server is the HTTP front end. Every endpoint is a thin shim over one
// pipeline operation; no business logic lives here.
type Server struct {
	cfg        *core.Config
	pipeline   *pipeline.Pipeline
	repo       *db.Repository
	logger     *logging.Logger
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(cfg *core.Config, p *pipeline.Pipeline, repo *db.Repository, logger *logging.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		repo:     repo,
		logger:   logger.Named("http"),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.loggingMiddleware(s.mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/admission", s.handleAdmission)
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/api/process-image", s.handleProcessImage)
	s.mux.HandleFunc("/api/generate-multiview", s.handleGenerateMultiView)
	s.mux.HandleFunc("/api/generate-3d", s.handleGenerate3D)
	s.mux.HandleFunc("/api/model-status/", s.handleModelStatus)
	s.mux.HandleFunc("/api/shapeways-quote/", s.handleVendorQuote)
	s.mux.HandleFunc("/api/shapeways/price", s.handleVendorPrice)
	s.mux.HandleFunc("/api/profile", s.handleProfile)
	s.mux.HandleFunc("/api/history", s.handleHistory)

	// Finished meshes are written to the models directory and served as
	// plain files.
	s.mux.Handle("/models/", http.StripPrefix("/models/",
		http.FileServer(http.Dir(s.cfg.ModelsDir))))
}

// Start begins listening. Blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ---- middleware ----

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs every request except health probes.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// ---- response helpers ----

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Best effort - headers already written
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// writePipelineError maps a classified pipeline error to an HTTP status.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)

	var status int
	switch code {
	case core.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case core.ErrCodeAdmissionDenied:
		status = http.StatusForbidden
	case core.ErrCodeTaskNotFound:
		status = http.StatusNotFound
	case core.ErrCodeVendorDisabled:
		status = http.StatusServiceUnavailable
	case core.ErrCodeProviderUnavailable:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	s.writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: err.Error(),
	})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// ---- endpoints ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"reconstruction": s.cfg.HasMeshy(),
		"vendor":         s.cfg.HasShapeways(),
	})
}

type registerRequest struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UID == "" {
		s.writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	if err := s.pipeline.RegisterEmail(req.UID, req.Email); err != nil {
		s.writePipelineError(w, err)
		return
	}

	decision := s.pipeline.CheckAdmission(req.UID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"registered": true,
		"allowed":    decision.Allowed,
		"remaining":  decision.Remaining,
		"unlimited":  decision.Unlimited,
	})
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "uid query parameter is required")
		return
	}

	decision := s.pipeline.CheckAdmission(uid)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":   decision.Allowed,
		"remaining": decision.Remaining,
		"unlimited": decision.Unlimited,
		"reason":    decision.Reason,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	fileID := uuid.New().String() + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(s.cfg.UploadsDir, fileID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.logger.Error("failed to store upload", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id": fileID,
		"bytes":   len(data),
	})
}

// imageFromRequest resolves an image either from a stored upload (file_id)
// or from an inline base64 payload.
func (s *Server) imageFromRequest(fileID, imageB64 string) ([]byte, error) {
	switch {
	case fileID != "":
		// Reject path traversal out of the uploads dir
		if fileID != filepath.Base(fileID) {
			return nil, fmt.Errorf("invalid file id")
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.UploadsDir, fileID))
		if err != nil {
			return nil, fmt.Errorf("unknown file id %q", fileID)
		}
		return data, nil
	case imageB64 != "":
		data, err := base64.StdEncoding.DecodeString(imageB64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("either file_id or image is required")
	}
}

type processImageRequest struct {
	UID         string `json:"uid"`
	FileID      string `json:"file_id"`
	Image       string `json:"image"` // base64, alternative to file_id
	ProductType string `json:"product_type"`
}

func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req processImageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UID == "" {
		s.writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	photo, err := s.imageFromRequest(req.FileID, req.Image)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.pipeline.RequestStylization(r.Context(), req.UID, photo, req.ProductType)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"correlation_id": result.CorrelationID,
		"provider":       result.Provider,
		"fallback":       result.Fallback,
		"mime":           result.MIME,
		"image":          base64.StdEncoding.EncodeToString(result.Image),
	})
}

type multiViewRequest struct {
	UID         string `json:"uid"`
	FileID      string `json:"file_id"`
	Image       string `json:"image"`
	ProductType string `json:"product_type"`
	Material    string `json:"material"`
}

func (s *Server) handleGenerateMultiView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req multiViewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UID == "" {
		s.writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	image, err := s.imageFromRequest(req.FileID, req.Image)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	set, err := s.pipeline.RequestMultiView(r.Context(), req.UID, image, req.ProductType, req.Material)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(set.Views))
	for _, v := range set.Views {
		views = append(views, map[string]interface{}{
			"label":    v.Label,
			"provider": v.Provider,
			"mime":     v.MIME,
			"image":    base64.StdEncoding.EncodeToString(v.Image),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"views":     views,
		"succeeded": set.Succeeded,
		"attempted": set.Attempted,
	})
}

type generate3DRequest struct {
	UID         string `json:"uid"`
	Images      []struct {
		Image string `json:"image"` // base64
		MIME  string `json:"mime"`
	} `json:"images"`
	ProductType string `json:"product_type"`
	Material    string `json:"material"`
}

func (s *Server) handleGenerate3D(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req generate3DRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UID == "" {
		s.writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	images := make([]meshy.Image, 0, len(req.Images))
	for i, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Image)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("image %d is not valid base64", i))
			return
		}
		images = append(images, meshy.Image{Data: data, MIME: img.MIME})
	}

	result, err := s.pipeline.SubmitReconstruction(r.Context(), req.UID, images, req.ProductType, req.Material)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"correlation_id": result.CorrelationID,
		"task_id":        result.TaskID,
		"multi_view":     result.MultiView,
		"remaining":      result.Remaining,
	})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/model-status/")
	if taskID == "" || strings.Contains(taskID, "/") {
		s.writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	status, err := s.pipeline.PollReconstruction(r.Context(), taskID)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	response := map[string]interface{}{
		"task_id":  status.TaskID,
		"status":   string(status.Status),
		"progress": status.Progress,
	}
	if status.Error != "" {
		response["error"] = status.Error
	}
	if status.VendorModelID != "" {
		response["vendor_model_id"] = status.VendorModelID
	}
	if status.Status == meshy.StatusSucceeded {
		response["model_urls"] = s.persistAssets(taskID, status)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// persistAssets writes downloaded mesh files under the models directory
// and returns their serving URLs. Failures degrade to omitted URLs.
func (s *Server) persistAssets(taskID string, status *pipeline.ReconstructionStatus) map[string]string {
	urls := make(map[string]string, 2)

	write := func(ext string, data []byte) {
		if len(data) == 0 {
			return
		}
		name := taskID + ext
		if err := os.WriteFile(filepath.Join(s.cfg.ModelsDir, name), data, 0644); err != nil {
			s.logger.Warn("failed to persist mesh asset",
				zap.String("task_id", taskID),
				zap.String("ext", ext),
				zap.Error(err))
			return
		}
		urls[strings.TrimPrefix(ext, ".")] = "/models/" + name
	}

	write(".glb", status.GLB)
	write(".stl", status.STL)
	return urls
}

func (s *Server) handleVendorQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/shapeways-quote/")
	if taskID == "" || strings.Contains(taskID, "/") {
		s.writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	quote, err := s.pipeline.GetVendorQuote(r.Context(), taskID)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

type vendorPriceRequest struct {
	ModelID    string `json:"model_id"`
	MaterialID string `json:"material_id"`
}

func (s *Server) handleVendorPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req vendorPriceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.MaterialID == "" {
		s.writeError(w, http.StatusBadRequest, "material_id is required")
		return
	}

	price, err := s.pipeline.GetVendorPrice(r.Context(), req.ModelID, req.MaterialID)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, price)
}

type profileRequest struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	PetName string `json:"pet_name"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "profiles are not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			s.writeError(w, http.StatusBadRequest, "uid query parameter is required")
			return
		}
		profile, err := s.repo.GetProfile(r.Context(), uid)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "profile not found")
				return
			}
			s.logger.Error("profile lookup failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "profile lookup failed")
			return
		}
		s.writeJSON(w, http.StatusOK, profile)

	case http.MethodPost:
		var req profileRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if req.UID == "" {
			s.writeError(w, http.StatusBadRequest, "uid is required")
			return
		}
		err := s.repo.SaveProfile(r.Context(), db.UserProfile{
			UID:     req.UID,
			Email:   req.Email,
			Name:    req.Name,
			PetName: req.PetName,
		})
		if err != nil {
			s.logger.Error("profile save failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "profile save failed")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"saved": true})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.repo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not available")
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "uid query parameter is required")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	records, err := s.repo.QueryGenerationsByRequester(r.Context(), uid, limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}
