// Package vision defines the generative vision backend contract used for
// scanned-document extraction and OCR-style transcription, plus its Vertex
// AI implementation.
package vision

import (
	"context"

	"github.com/notaflow/notaflow/internal/domain"
)

// Page is one visual unit submitted to the backend: a single-page PDF or an
// image, with its MIME type.
type Page struct {
	MIMEType string
	Data     []byte
}

// Request is a structured recognition request. The prompt names the fields
// to return; the backend must answer with a single JSON object.
type Request struct {
	Prompt string
	Pages  []Page
}

// Backend is the generative vision collaborator. Implementations must bound
// every call by the supplied context; the caller owns retry policy.
type Backend interface {
	// GenerateJSON runs the recognition request and returns the decoded
	// top-level JSON object.
	GenerateJSON(ctx context.Context, req Request) (map[string]any, error)
	// Transcribe returns the plain text read from the payload.
	Transcribe(ctx context.Context, payload []byte, format domain.SourceFormat) (string, error)
}

// MIMEForFormat maps a source format to the MIME type sent to the backend.
func MIMEForFormat(format domain.SourceFormat) string {
	switch format {
	case domain.SourceFormatPDF:
		return "application/pdf"
	case domain.SourceFormatImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
