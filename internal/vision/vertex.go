package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/notaflow/notaflow/internal/domain"
)

const transcribePrompt = `Transcribe all text visible in the attached fiscal document exactly as printed. Return plain text only, preserving line breaks. Do not summarize or interpret.`

// VertexConfig selects the project, region and model used for recognition.
type VertexConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region"`
	Model     string `mapstructure:"model"`
}

// VertexBackend implements Backend on Vertex AI Gemini. Extraction requests
// force a JSON response MIME type at zero temperature so the field set stays
// stable across calls.
type VertexBackend struct {
	extractModel    *genai.GenerativeModel
	transcribeModel *genai.GenerativeModel
	client          *genai.Client
}

// NewVertexBackend dials Vertex AI and configures the recognition models.
func NewVertexBackend(ctx context.Context, cfg VertexConfig) (*VertexBackend, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex backend requires project_id and region")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-pro"
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	extract := client.GenerativeModel(model)
	extract.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	transcribe := client.GenerativeModel(model)
	transcribe.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	return &VertexBackend{
		extractModel:    extract,
		transcribeModel: transcribe,
		client:          client,
	}, nil
}

// Close releases the underlying client.
func (b *VertexBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// GenerateJSON submits the pages and prompt and decodes the JSON object the
// model answers with.
func (b *VertexBackend) GenerateJSON(ctx context.Context, req Request) (map[string]any, error) {
	parts := make([]genai.Part, 0, len(req.Pages)+1)
	for _, p := range req.Pages {
		parts = append(parts, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := b.extractModel.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("vertex generate content: %w", err)
	}

	text := collectText(resp)
	if text == "" {
		return nil, fmt.Errorf("vertex returned an empty response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("vertex response is not a JSON object: %w", err)
	}
	return out, nil
}

// Transcribe reads the payload as plain text.
func (b *VertexBackend) Transcribe(ctx context.Context, payload []byte, format domain.SourceFormat) (string, error) {
	resp, err := b.transcribeModel.GenerateContent(ctx,
		genai.Blob{MIMEType: MIMEForFormat(format), Data: payload},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("vertex transcribe: %w", err)
	}
	return collectText(resp), nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return strings.TrimSpace(b.String())
}
