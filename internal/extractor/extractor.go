// Package extractor turns classified document payloads into normalized
// field bags, parameterized by the tax schema snapshot the run bound at
// start. Two strategies exist: a deterministic markup tree walk for
// structured input, and a generative vision request for scans.
package extractor

import (
	"context"
	"log/slog"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/vision"
)

// Extractor selects the strategy by input modality.
type Extractor struct {
	backend vision.Backend
	log     *slog.Logger
}

// New builds an extractor. backend may be nil when only structured input is
// expected; the vision strategy then fails as backend-unavailable.
func New(backend vision.Backend, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{backend: backend, log: log}
}

// Extract produces the field bag for the document under the given snapshot.
// Retry on transient failure belongs to the orchestrator, not here.
func (e *Extractor) Extract(ctx context.Context, doc domain.DocumentRecord, schema domain.TaxSchema) (*domain.Extraction, error) {
	if doc.Format == domain.SourceFormatXML {
		ex, err := extractStructured(doc, schema)
		if err != nil {
			return nil, err
		}
		e.log.Debug("structured extraction complete",
			"document_id", doc.ID, "taxes", len(ex.Taxes), "items", len(ex.Items))
		return ex, nil
	}

	ex, err := extractVision(ctx, e.backend, doc, schema)
	if err != nil {
		return nil, err
	}
	e.log.Debug("vision extraction complete",
		"document_id", doc.ID, "taxes", len(ex.Taxes), "items", len(ex.Items))
	return ex, nil
}
