package extractor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/notaflow/notaflow/internal/vision"
)

// splitPDF breaks a PDF payload into single-page documents so the vision
// backend sees one page per part. Work happens in a temp directory removed
// before return.
func splitPDF(payload []byte) ([]vision.Page, error) {
	tempDir, err := os.MkdirTemp("", "notaflow-split-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(source, payload, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	pageCount, err := api.PageCountFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to count pdf pages: %w", err)
	}
	if pageCount <= 1 {
		return []vision.Page{{MIMEType: "application/pdf", Data: payload}}, nil
	}

	if err := api.SplitFile(source, tempDir, 1, nil); err != nil {
		return nil, fmt.Errorf("failed to split pdf: %w", err)
	}

	pages := make([]vision.Page, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		data, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("source_%d.pdf", i)))
		if err != nil {
			return nil, fmt.Errorf("failed to read split page %d: %w", i, err)
		}
		pages = append(pages, vision.Page{MIMEType: "application/pdf", Data: data})
	}
	return pages, nil
}
