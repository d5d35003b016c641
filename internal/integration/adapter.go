package integration

import (
	"context"
	"log/slog"

	"github.com/notaflow/notaflow/internal/domain"
)

// Adapter is the pipeline-facing integration stage: it registers awareness
// (ciencia) of each completed document with the authority. Richer flows,
// such as confirming the operation, go through the AuthorityClient directly.
type Adapter struct {
	client AuthorityClient
	action ManifestationAction
	log    *slog.Logger
}

// NewAdapter builds the stage adapter. An empty action defaults to ciencia.
func NewAdapter(client AuthorityClient, action ManifestationAction, log *slog.Logger) *Adapter {
	if action == "" {
		action = ManifestCiencia
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{client: client, action: action, log: log}
}

// Integrate runs the integration stage for one document. Documents without
// an access key have nothing to manifest and pass through.
func (a *Adapter) Integrate(ctx context.Context, doc domain.DocumentRecord) error {
	if doc.Extraction == nil || doc.Extraction.AccessKey == "" {
		a.log.Debug("skipping integration, document has no access key", "document_id", doc.ID)
		return nil
	}
	receipt, err := a.client.Manifest(ctx, doc.Extraction.AccessKey, a.action, "")
	if err != nil {
		return err
	}
	a.log.Info("manifestation registered",
		"document_id", doc.ID,
		"action", string(a.action),
		"protocol", receipt.Protocol)
	return nil
}
