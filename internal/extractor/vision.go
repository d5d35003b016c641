package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/vision"
	"github.com/notaflow/notaflow/pkg/fiscal"
)

// buildPrompt assembles the recognition prompt from the enabled tax
// definitions of the bound snapshot, so newly configured taxes are requested
// without code changes. The requested key set is sorted, keeping the prompt
// stable for a given snapshot.
func buildPrompt(schema domain.TaxSchema, docType domain.DocumentType) string {
	var b strings.Builder
	b.WriteString("You are reading a Brazilian fiscal document (")
	b.WriteString(string(docType))
	b.WriteString("). Extract the fields below and answer with a single JSON object.\n\n")
	b.WriteString("Top-level fields:\n")
	b.WriteString("- \"access_key\": the 44-digit access key, digits only, or null\n")
	b.WriteString("- \"emitter\": {\"name\", \"tax_id\"} for the issuer (tax_id is the CNPJ or CPF, digits only)\n")
	b.WriteString("- \"recipient\": {\"name\", \"tax_id\"} for the recipient, or null\n")
	b.WriteString("- \"declared_total\": the document total as a number\n")
	b.WriteString("- \"taxes\": an object with exactly these keys, each a number or null:\n")

	byKey := map[string]domain.TaxDefinition{}
	for _, def := range schema.EnabledTaxes(docType) {
		byKey[def.Key] = def
	}
	for _, key := range schema.EnabledKeys(docType) {
		def := byKey[key]
		b.WriteString("    - \"")
		b.WriteString(key)
		b.WriteString("\": ")
		if def.VisionHint != "" {
			b.WriteString(def.VisionHint)
		} else {
			b.WriteString("total amount for " + def.Name)
		}
		b.WriteString("\n")
	}

	b.WriteString("- \"items\": an array of {\"number\", \"description\", \"quantity\", \"unit_price\", \"total\"} for each line item, or an empty array\n\n")
	b.WriteString("Use null for anything not readable. Never guess values that are not printed on the document.")
	return b.String()
}

// extractVision runs the vision strategy: split the payload into pages,
// submit the schema-derived prompt and validate the response shape. Fields
// that fail type validation are dropped, never fabricated.
func extractVision(ctx context.Context, backend vision.Backend, doc domain.DocumentRecord, schema domain.TaxSchema) (*domain.Extraction, error) {
	if backend == nil {
		return nil, domain.NewExtractionError(domain.ExtractionBackendUnavailable,
			fmt.Errorf("no vision backend configured"))
	}

	var pages []vision.Page
	switch doc.Format {
	case domain.SourceFormatPDF:
		split, err := splitPDF(doc.Payload)
		if err != nil {
			return nil, domain.NewExtractionError(domain.ExtractionMalformed, err)
		}
		pages = split
	default:
		pages = []vision.Page{{MIMEType: vision.MIMEForFormat(doc.Format), Data: doc.Payload}}
	}

	resp, err := backend.GenerateJSON(ctx, vision.Request{
		Prompt: buildPrompt(schema, doc.Type),
		Pages:  pages,
	})
	if err != nil {
		return nil, domain.NewExtractionError(domain.ExtractionBackendUnavailable, err)
	}

	return decodeVisionResponse(resp, schema, doc.Type)
}

// decodeVisionResponse validates the backend's object against the expected
// shape. Unknown tax keys are ignored so the extracted key set only ever
// depends on the bound snapshot.
func decodeVisionResponse(resp map[string]any, schema domain.TaxSchema, docType domain.DocumentType) (*domain.Extraction, error) {
	known := 0
	for _, field := range []string{"access_key", "emitter", "recipient", "declared_total", "taxes", "items"} {
		if _, ok := resp[field]; ok {
			known++
		}
	}
	if known == 0 {
		return nil, domain.NewExtractionError(domain.ExtractionSchemaMismatch,
			fmt.Errorf("backend response carries none of the requested fields"))
	}

	ex := &domain.Extraction{Taxes: map[string]float64{}}

	if key, ok := asString(resp["access_key"]); ok {
		if d := fiscal.Digits(key); len(d) == 44 {
			ex.AccessKey = d
		}
	}
	ex.Emitter = asParty(resp["emitter"])
	ex.Recipient = asParty(resp["recipient"])
	if total, ok := asNumber(resp["declared_total"]); ok {
		ex.DeclaredTotal = total
	}

	if taxes, ok := resp["taxes"].(map[string]any); ok {
		for _, key := range schema.EnabledKeys(docType) {
			if v, ok := asNumber(taxes[key]); ok {
				ex.Taxes[key] = v
			}
		}
	}

	if rawItems, ok := resp["items"].([]any); ok {
		for i, raw := range rawItems {
			obj, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			item := domain.LineItem{Number: i + 1}
			if n, ok := asNumber(obj["number"]); ok {
				item.Number = int(n)
			}
			item.Description, _ = asString(obj["description"])
			item.Quantity, _ = asNumber(obj["quantity"])
			item.UnitPrice, _ = asNumber(obj["unit_price"])
			item.Total, _ = asNumber(obj["total"])
			ex.Items = append(ex.Items, item)
		}
	}
	return ex, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		return parseNumeric(n)
	default:
		return 0, false
	}
}

func asParty(v any) domain.Party {
	obj, ok := v.(map[string]any)
	if !ok {
		return domain.Party{}
	}
	name, _ := asString(obj["name"])
	taxID, _ := asString(obj["tax_id"])
	return domain.Party{Name: name, TaxID: fiscal.Digits(taxID)}
}
