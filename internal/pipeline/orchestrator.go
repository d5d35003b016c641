// Package pipeline sequences the processing stages for one document as a
// finite-state machine: classification, extraction, validation, analysis
// and optional integration. Every stage transition is durably recorded
// before the next stage starts, so a crash leaves an inspectable trail and
// a re-run resumes from the first stage without a completed attempt.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/repository"
)

// ErrDocumentInvalid is the stage error raised when validation returns an
// invalid verdict. It moves the document to Failed like any stage failure;
// the findings stay persisted on the record.
var ErrDocumentInvalid = errors.New("document failed validation")

// Classifier assigns a document type.
type Classifier interface {
	Classify(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentType, error)
}

// Extractor produces the normalized field bag.
type Extractor interface {
	Extract(ctx context.Context, doc domain.DocumentRecord, schema domain.TaxSchema) (*domain.Extraction, error)
}

// Validator computes the verdict and findings.
type Validator interface {
	Validate(doc domain.DocumentRecord, schema domain.TaxSchema) domain.Validation
}

// Analyzer computes the per-document summary.
type Analyzer interface {
	AnalyzeDocument(doc domain.DocumentRecord, schema domain.TaxSchema) domain.DocumentStats
}

// Integrator runs the optional terminal stage.
type Integrator interface {
	Integrate(ctx context.Context, doc domain.DocumentRecord) error
}

// RunOptions parameterize one pipeline run. The schema snapshot is bound
// once here; the run never observes registry changes made while it is in
// flight.
type RunOptions struct {
	Schema    domain.TaxSchema
	Integrate bool
	// Cancelled is polled between stages. A true return stops the run after
	// the current stage, marking the document Cancelled. Nil means never.
	Cancelled func() bool
}

// Orchestrator drives documents through the stage sequence.
type Orchestrator struct {
	docs       repository.DocumentRepository
	logs       repository.StageLogRepository
	classifier Classifier
	extractor  Extractor
	validator  Validator
	analyzer   Analyzer
	integrator Integrator
	retry      RetryPolicy
	// extractGate bounds how many documents sit in Extracting at once; the
	// vision backend is the scarce resource. Nil disables admission control.
	extractGate *semaphore.Weighted
	log         *slog.Logger
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Documents   repository.DocumentRepository
	StageLogs   repository.StageLogRepository
	Classifier  Classifier
	Extractor   Extractor
	Validator   Validator
	Analyzer    Analyzer
	Integrator  Integrator
	Retry       RetryPolicy
	ExtractGate *semaphore.Weighted
	Logger      *slog.Logger
}

// New builds an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Retry.MaxRetries == 0 && deps.Retry.BaseDelay == 0 {
		deps.Retry = DefaultRetryPolicy
	}
	return &Orchestrator{
		docs:        deps.Documents,
		logs:        deps.StageLogs,
		classifier:  deps.Classifier,
		extractor:   deps.Extractor,
		validator:   deps.Validator,
		analyzer:    deps.Analyzer,
		integrator:  deps.Integrator,
		retry:       deps.Retry,
		extractGate: deps.ExtractGate,
		log:         deps.Logger,
	}
}

// stageStatus maps each stage to the in-progress document status entered
// before the stage executes.
var stageStatus = map[domain.Stage]domain.DocumentStatus{
	domain.StageClassification: domain.StatusClassifying,
	domain.StageExtraction:     domain.StatusExtracting,
	domain.StageValidation:     domain.StatusValidating,
	domain.StageAnalysis:       domain.StatusAnalyzing,
	domain.StageIntegration:    domain.StatusIntegrating,
}

// Run executes the pipeline for the document. A document whose earlier run
// failed resumes from its first non-completed stage; completed documents
// return unchanged.
func (o *Orchestrator) Run(ctx context.Context, documentID uuid.UUID, opts RunOptions) (domain.DocumentRecord, error) {
	doc, err := o.docs.GetByID(ctx, documentID)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	if doc.Status == domain.StatusCompleted || doc.Status == domain.StatusCancelled {
		return doc, nil
	}

	stages := []domain.Stage{
		domain.StageClassification,
		domain.StageExtraction,
		domain.StageValidation,
		domain.StageAnalysis,
	}
	if opts.Integrate {
		stages = append(stages, domain.StageIntegration)
	}

	entries, err := o.logs.ListByDocument(ctx, documentID)
	if err != nil {
		return doc, err
	}
	start, pending := domain.FirstIncompleteStage(stages, entries)
	if !pending {
		// Every stage already completed; a crash lost only the final status.
		return o.finish(ctx, doc)
	}

	doc.SchemaRevision = opts.Schema.Revision
	// A re-run of a failed document (or one interrupted mid-stage) enters
	// the resume stage from the status of its last completed stage.
	doc.Status = statusBefore(start)
	doc.FailureReason = ""
	doc.CompletedAt = nil

	started := false
	for _, stage := range stages {
		if !started && stage != start {
			continue // earlier stages carry logged success, never re-run
		}
		started = true

		if opts.Cancelled != nil && opts.Cancelled() {
			doc = doc.WithStatus(domain.StatusCancelled)
			if _, err := o.docs.Update(ctx, doc); err != nil {
				return doc, err
			}
			o.log.Info("run cancelled between stages", "document_id", doc.ID, "next_stage", string(stage))
			return doc, domain.ErrBatchCancelled
		}

		doc, err = o.runStage(ctx, doc, stage, opts)
		if err != nil {
			failed := doc.WithFailure(err.Error())
			if _, uerr := o.docs.Update(ctx, failed); uerr != nil {
				o.log.Error("failed to persist failure", "document_id", doc.ID, "error", uerr)
			}
			o.log.Warn("pipeline run failed",
				"document_id", doc.ID, "stage", string(stage), "error", err)
			return failed, err
		}
		// Durable persist before the next stage becomes reachable.
		if doc, err = o.docs.Update(ctx, doc); err != nil {
			return doc, err
		}
	}

	return o.finish(ctx, doc)
}

func (o *Orchestrator) finish(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error) {
	doc = doc.WithStatus(domain.StatusCompleted)
	doc, err := o.docs.Update(ctx, doc)
	if err != nil {
		return doc, err
	}
	o.log.Info("pipeline run completed", "document_id", doc.ID, "type", string(doc.Type))
	return doc, nil
}

// runStage transitions the document into the stage's status and executes it
// with bounded retry for retryable failures. One stage log entry is written
// per attempt: running before execution, completed or failed after.
func (o *Orchestrator) runStage(ctx context.Context, doc domain.DocumentRecord, stage domain.Stage, opts RunOptions) (domain.DocumentRecord, error) {
	next := stageStatus[stage]
	if !domain.CanTransition(doc.Status, next) {
		return doc, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, doc.Status, next)
	}

	// The gate bounds the Extracting population, not just concurrent backend
	// calls, so admission happens before the status is persisted.
	if stage == domain.StageExtraction && o.extractGate != nil {
		if err := o.extractGate.Acquire(ctx, 1); err != nil {
			return doc, err
		}
		defer o.extractGate.Release(1)
	}

	doc = doc.WithStatus(next)
	if _, err := o.docs.Update(ctx, doc); err != nil {
		return doc, err
	}

	existing, err := o.logs.ListByDocument(ctx, doc.ID)
	if err != nil {
		return doc, err
	}
	attempt := attemptCount(existing, stage)

	var lastErr error
	for try := 0; try <= o.retry.MaxRetries; try++ {
		attempt++
		entry := domain.NewStageLogEntry(doc.ID, stage, attempt)
		if err := o.logs.Append(ctx, entry); err != nil {
			return doc, err
		}

		var stageErr error
		doc, stageErr = o.execute(ctx, doc, stage, opts)

		if err := o.logs.Update(ctx, entry.Finish(stageErr)); err != nil {
			return doc, err
		}
		if stageErr == nil {
			return doc, nil
		}
		lastErr = stageErr
		if !domain.IsRetryable(stageErr) || try == o.retry.MaxRetries {
			break
		}
		delay := o.retry.Backoff(try)
		o.log.Warn("stage failed, retrying",
			"document_id", doc.ID, "stage", string(stage),
			"attempt", attempt, "delay", delay, "error", stageErr)
		if err := sleepCtx(ctx, delay); err != nil {
			return doc, err
		}
	}
	return doc, lastErr
}

func (o *Orchestrator) execute(ctx context.Context, doc domain.DocumentRecord, stage domain.Stage, opts RunOptions) (domain.DocumentRecord, error) {
	switch stage {
	case domain.StageClassification:
		docType, err := o.classifier.Classify(ctx, doc)
		if err != nil {
			return doc, err
		}
		doc.Type = docType
		return doc, nil
	case domain.StageExtraction:
		extraction, err := o.extractor.Extract(ctx, doc, opts.Schema)
		if err != nil {
			return doc, err
		}
		doc.Extraction = extraction
		return doc, nil
	case domain.StageValidation:
		validation := o.validator.Validate(doc, opts.Schema)
		doc.Validation = &validation
		if validation.Verdict == domain.VerdictInvalid {
			// Findings are persisted with the failure; see Run.
			if _, err := o.docs.Update(ctx, doc); err != nil {
				return doc, err
			}
			return doc, fmt.Errorf("%w: %d findings", ErrDocumentInvalid, len(validation.Findings))
		}
		return doc, nil
	case domain.StageAnalysis:
		stats := o.analyzer.AnalyzeDocument(doc, opts.Schema)
		doc.Analysis = &stats
		return doc, nil
	case domain.StageIntegration:
		if o.integrator == nil {
			return doc, nil
		}
		return doc, o.integrator.Integrate(ctx, doc)
	default:
		return doc, fmt.Errorf("unknown stage %q", stage)
	}
}

// statusBefore returns the document status from which the given stage is
// legally entered.
func statusBefore(stage domain.Stage) domain.DocumentStatus {
	switch stage {
	case domain.StageExtraction:
		return domain.StatusClassifying
	case domain.StageValidation:
		return domain.StatusExtracting
	case domain.StageAnalysis:
		return domain.StatusValidating
	case domain.StageIntegration:
		return domain.StatusAnalyzing
	default:
		return domain.StatusReceived
	}
}

func attemptCount(entries []domain.StageLogEntry, stage domain.Stage) int {
	n := 0
	for _, e := range entries {
		if e.Stage == stage {
			n++
		}
	}
	return n
}
