package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Stage names one step of the processing pipeline. Stage log entries use
// these names; document statuses carry the in-progress form.
type Stage string

const (
	StageClassification Stage = "classification"
	StageExtraction     Stage = "extraction"
	StageValidation     Stage = "validation"
	StageAnalysis       Stage = "analysis"
	StageIntegration    Stage = "integration"
)

// StageOrder is the canonical stage sequence. Integration runs last and only
// when the run requests it.
var StageOrder = []Stage{
	StageClassification,
	StageExtraction,
	StageValidation,
	StageAnalysis,
	StageIntegration,
}

// StageStatus is the lifecycle of one stage attempt.
type StageStatus string

const (
	StageRunning   StageStatus = "RUNNING"
	StageCompleted StageStatus = "COMPLETED"
	StageFailed    StageStatus = "FAILED"
)

// StageLogEntry records one attempt of one stage for a document. Entry IDs
// are ULIDs so a lexical sort reproduces execution order.
type StageLogEntry struct {
	ID         string      `json:"id"`
	DocumentID uuid.UUID   `json:"document_id"`
	Stage      Stage       `json:"stage"`
	Attempt    int         `json:"attempt"`
	Status     StageStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// NewStageLogEntry opens a running entry for the given attempt.
func NewStageLogEntry(documentID uuid.UUID, stage Stage, attempt int) StageLogEntry {
	return StageLogEntry{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		Stage:      stage,
		Attempt:    attempt,
		Status:     StageRunning,
		StartedAt:  time.Now(),
	}
}

// Finish returns a copy closed with the outcome. A nil err marks the attempt
// completed; otherwise the entry is failed and the error text retained.
func (e StageLogEntry) Finish(err error) StageLogEntry {
	now := time.Now()
	out := e
	out.FinishedAt = &now
	if err != nil {
		out.Status = StageFailed
		out.Error = err.Error()
	} else {
		out.Status = StageCompleted
	}
	return out
}

// CompletedStages reduces a log to the set of stages that have at least one
// completed attempt.
func CompletedStages(entries []StageLogEntry) map[Stage]bool {
	done := make(map[Stage]bool)
	for _, e := range entries {
		if e.Status == StageCompleted {
			done[e.Stage] = true
		}
	}
	return done
}

// FirstIncompleteStage returns the earliest stage in order without a
// completed attempt, which is where a resumed run picks up. The second
// return is false when every listed stage has completed.
func FirstIncompleteStage(order []Stage, entries []StageLogEntry) (Stage, bool) {
	done := CompletedStages(entries)
	for _, s := range order {
		if !done[s] {
			return s, true
		}
	}
	return "", false
}
