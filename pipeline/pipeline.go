// Package pipeline orchestrates the end-to-end pet-photo-to-print flow:
// admission, stylization, multi-view synthesis, 3D reconstruction, and
// print-vendor upload and pricing.
//
// The pipeline composes:
//   - admission.Gate: daily quota and email gating
//   - transcode: input normalization for provider payloads
//   - stylize.Chain / stylize.Views: provider fallback and view synthesis
//   - meshy.Client: asynchronous 3D reconstruction tasks
//   - shapeways.Client: optional print-vendor integration
//   - db.Repository: generation history bookkeeping
//
// Stages within one request run sequentially; independent requests run
// concurrently. Quota is consumed only on reconstruction submission, never
// on stylization rerolls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pawprints_backend/admission"
	"pawprints_backend/core"
	"pawprints_backend/db"
	"pawprints_backend/logging"
	"pawprints_backend/meshy"
	"pawprints_backend/shapeways"
	"pawprints_backend/stylize"
	"pawprints_backend/transcode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline wires the generation stages together behind a small surface the
// HTTP layer calls into. Safe for concurrent use.
type Pipeline struct {
	cfg    *core.Config
	gate   *admission.Gate
	chain  *stylize.Chain
	views  *stylize.Views
	mesh   *meshy.Client
	vendor *shapeways.Client
	repo   *db.Repository
	logger *logging.Logger

	// mu guards the per-task metadata used to finish bookkeeping when a
	// poll discovers the terminal state.
	mu    sync.Mutex
	tasks map[string]*taskMeta
}

// taskMeta remembers what a reconstruction task was for.
type taskMeta struct {
	correlationID string
	requesterID   string
	productType   string
	material      string
	finalized     bool
}

// New creates a pipeline from its stage components. The mesh client, vendor
// client, and repository may each be nil; the corresponding stages degrade
// instead of failing.
func New(cfg *core.Config, gate *admission.Gate, chain *stylize.Chain, views *stylize.Views, mesh *meshy.Client, vendor *shapeways.Client, repo *db.Repository, logger *logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: config cannot be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("pipeline: admission gate cannot be nil")
	}
	if chain == nil {
		return nil, fmt.Errorf("pipeline: stylize chain cannot be nil")
	}
	if views == nil {
		return nil, fmt.Errorf("pipeline: view generator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("pipeline: logger cannot be nil")
	}

	return &Pipeline{
		cfg:    cfg,
		gate:   gate,
		chain:  chain,
		views:  views,
		mesh:   mesh,
		vendor: vendor,
		repo:   repo,
		logger: logger.Named("pipeline"),
		tasks:  make(map[string]*taskMeta),
	}, nil
}

// StylizationResult is the outcome of one stylization pass.
type StylizationResult struct {
	CorrelationID string
	Image         []byte
	MIME          string
	Provider      string
	Fallback      bool
}

// SubmissionResult is the outcome of a reconstruction submission.
type SubmissionResult struct {
	CorrelationID string
	TaskID        string
	MultiView     bool
	Remaining     int
}

// ReconstructionStatus is a poll snapshot combined with vendor state.
type ReconstructionStatus struct {
	TaskID        string
	Status        meshy.Status
	Progress      int
	Error         string
	GLB           []byte
	STL           []byte
	VendorModelID string
}

// RegisterEmail records the requester's email for today's admission record.
func (p *Pipeline) RegisterEmail(requesterID, email string) error {
	return p.gate.RegisterEmail(requesterID, email)
}

// CheckAdmission reports whether the requester may generate today.
func (p *Pipeline) CheckAdmission(requesterID string) admission.Decision {
	return p.gate.Check(requesterID)
}

// RequestStylization runs one stylization pass over a raw photo. Rerolls are
// free: the gate is consulted but never consumed here.
func (p *Pipeline) RequestStylization(ctx context.Context, requesterID string, photo []byte, productType string) (*StylizationResult, error) {
	if decision := p.gate.Check(requesterID); !decision.Allowed {
		return nil, core.NewPipelineError(core.ErrCodeAdmissionDenied, decision.Reason)
	}

	prepared, mimeType, err := transcode.Prepare(photo)
	if err != nil {
		return nil, core.WrapPipelineError(core.ErrCodeInvalidInput, err, "could not read image")
	}

	correlationID := uuid.New().String()
	logger := p.logger.With(zap.String("correlation_id", correlationID))
	logger.Info("stylization requested",
		zap.String("requester", requesterID),
		zap.String("product_type", productType),
		zap.Int("input_bytes", len(photo)))

	result := p.chain.Stylize(ctx, prepared, mimeType, stylize.StylizePrompt(productType))

	logger.Info("stylization finished",
		zap.String("provider", result.Provider),
		zap.Bool("fallback", result.Fallback))

	return &StylizationResult{
		CorrelationID: correlationID,
		Image:         result.Image,
		MIME:          result.MIME,
		Provider:      result.Provider,
		Fallback:      result.Fallback,
	}, nil
}

// RequestMultiView synthesizes front, side, and back views of an approved
// stylized image. Partial results are normal; only a fully failed set is an
// error.
func (p *Pipeline) RequestMultiView(ctx context.Context, requesterID string, image []byte, productType, material string) (*stylize.ViewSet, error) {
	if decision := p.gate.Check(requesterID); !decision.Allowed {
		return nil, core.NewPipelineError(core.ErrCodeAdmissionDenied, decision.Reason)
	}

	prepared, mimeType, err := transcode.Prepare(image)
	if err != nil {
		return nil, core.WrapPipelineError(core.ErrCodeInvalidInput, err, "could not read image")
	}

	set, err := p.views.Generate(ctx, prepared, mimeType, productType, material)
	if err != nil {
		if errors.Is(err, stylize.ErrNoViewsProduced) {
			return nil, core.WrapPipelineError(core.ErrCodeProviderUnavailable, err, "no views could be generated")
		}
		return nil, err
	}
	return set, nil
}

// SubmitReconstruction starts a 3D reconstruction from one or more images.
// This is the only operation that consumes daily quota.
func (p *Pipeline) SubmitReconstruction(ctx context.Context, requesterID string, images []meshy.Image, productType, material string) (*SubmissionResult, error) {
	if p.mesh == nil {
		return nil, core.NewPipelineError(core.ErrCodeProviderUnavailable, "3D reconstruction is not configured")
	}
	if len(images) == 0 {
		return nil, core.NewPipelineError(core.ErrCodeInvalidInput, "at least one image is required")
	}

	decision := p.gate.Check(requesterID)
	if !decision.Allowed {
		return nil, core.NewPipelineError(core.ErrCodeAdmissionDenied, decision.Reason)
	}

	// The expensive call: consume before submission so a crash mid-flight
	// cannot hand out free generations.
	p.gate.Consume(requesterID)

	correlationID := uuid.New().String()
	logger := p.logger.With(zap.String("correlation_id", correlationID))

	taskID, err := p.mesh.Submit(ctx, images)
	if err != nil {
		logger.Error("reconstruction submission failed",
			zap.String("requester", requesterID),
			zap.Error(err))
		return nil, core.WrapPipelineError(core.ErrCodeProviderUnavailable, err, "3D generation could not be started")
	}

	task, _ := p.mesh.Lookup(taskID)
	multiView := task != nil && task.MultiView

	p.mu.Lock()
	p.tasks[taskID] = &taskMeta{
		correlationID: correlationID,
		requesterID:   requesterID,
		productType:   productType,
		material:      material,
	}
	p.mu.Unlock()

	p.recordSubmission(ctx, correlationID, requesterID, taskID, productType, material, multiView)

	logger.Info("reconstruction submitted",
		zap.String("requester", requesterID),
		zap.String("task_id", taskID),
		zap.Bool("multi_view", multiView),
		zap.Int("images", len(images)))

	return &SubmissionResult{
		CorrelationID: correlationID,
		TaskID:        taskID,
		MultiView:     multiView,
		Remaining:     p.gate.Check(requesterID).Remaining,
	}, nil
}

// PollReconstruction queries the task's state. The first poll that observes
// SUCCEEDED uploads the mesh to the print vendor and finalizes the history
// record; later polls return the cached outcome.
func (p *Pipeline) PollReconstruction(ctx context.Context, taskID string) (*ReconstructionStatus, error) {
	if p.mesh == nil {
		return nil, core.NewPipelineError(core.ErrCodeProviderUnavailable, "3D reconstruction is not configured")
	}

	task, err := p.mesh.Poll(ctx, taskID)
	if err != nil {
		if errors.Is(err, meshy.ErrUnknownTask) {
			return nil, core.WrapPipelineError(core.ErrCodeTaskNotFound, err, "unknown task")
		}
		return nil, core.WrapPipelineError(core.ErrCodeProviderUnavailable, err, "status check failed")
	}

	status := &ReconstructionStatus{
		TaskID:   taskID,
		Status:   task.Status,
		Progress: task.Progress,
		Error:    task.Error,
		GLB:      task.Assets.GLB,
		STL:      task.Assets.STL,
	}

	if task.Status.Terminal() {
		status.VendorModelID = p.finalize(ctx, task)
	}

	return status, nil
}

// GetVendorQuote returns print pricing for a completed task.
func (p *Pipeline) GetVendorQuote(ctx context.Context, taskID string) (*shapeways.QuoteResult, error) {
	return p.vendor.Quote(ctx, taskID)
}

// GetVendorPrice returns the marked-up price for one model/material pair.
func (p *Pipeline) GetVendorPrice(ctx context.Context, modelID, materialID string) (*shapeways.PriceBreakdown, error) {
	return p.vendor.PriceWithMarkup(ctx, modelID, materialID)
}

// finalize performs the once-per-task completion work: vendor upload on
// success and the terminal history update. Returns the vendor model id when
// one exists.
func (p *Pipeline) finalize(ctx context.Context, task *meshy.Task) string {
	p.mu.Lock()
	meta := p.tasks[task.ID]
	if meta == nil {
		meta = &taskMeta{}
		p.tasks[task.ID] = meta
	}
	alreadyDone := meta.finalized
	meta.finalized = true
	p.mu.Unlock()

	if alreadyDone {
		modelID, _ := p.vendor.ModelID(task.ID)
		return modelID
	}

	logger := p.logger.With(
		zap.String("correlation_id", meta.correlationID),
		zap.String("task_id", task.ID))

	var modelID string
	if task.Status == meshy.StatusSucceeded {
		// The vendor wants STL; fall back to the GLB when the provider
		// offered no STL.
		mesh := task.Assets.STL
		filename := task.ID + ".stl"
		if len(mesh) == 0 {
			mesh = task.Assets.GLB
			filename = task.ID + ".glb"
		}

		var err error
		modelID, err = p.vendor.UploadModel(ctx, task.ID, filename, mesh)
		if err != nil {
			// Pricing degrades to estimates; the mesh itself is unaffected.
			logger.Warn("vendor upload failed", zap.Error(err))
		} else if modelID != "" {
			logger.Info("vendor upload complete", zap.String("model_id", modelID))
		}
	}

	p.recordCompletion(ctx, task, modelID)
	return modelID
}

// recordSubmission writes the initial history row. History is best-effort;
// failures are logged, never surfaced.
func (p *Pipeline) recordSubmission(ctx context.Context, correlationID, requesterID, taskID, productType, material string, multiView bool) {
	if p.repo == nil {
		return
	}

	email := p.gate.Lookup(requesterID).Email
	_, err := p.repo.InsertGeneration(ctx, db.GenerationRecord{
		CorrelationID: correlationID,
		RequesterID:   requesterID,
		Email:         email,
		ProductType:   productType,
		Material:      material,
		TaskID:        taskID,
		MultiView:     multiView,
		Status:        db.GenerationProcessing,
	})
	if err != nil {
		p.logger.Warn("failed to record generation",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

// recordCompletion marks the history row terminal.
func (p *Pipeline) recordCompletion(ctx context.Context, task *meshy.Task, vendorModelID string) {
	if p.repo == nil {
		return
	}

	status := db.GenerationSucceeded
	if task.Status == meshy.StatusFailed {
		status = db.GenerationFailed
	}

	err := p.repo.UpdateGenerationStatus(ctx, task.ID, status, task.Error, vendorModelID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		p.logger.Warn("failed to finalize generation record",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}
