// Package validator checks extracted fiscal documents: identity checksums,
// access key structure, numeric consistency and mandated tax presence. The
// verdict is a pure function of the record and the bound schema snapshot.
package validator

import (
	"fmt"
	"math"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/pkg/fiscal"
)

// Finding codes emitted by the validator.
const (
	CodeEmitterIDInvalid   = "EMITTER_TAX_ID_INVALID"
	CodeEmitterIDMissing   = "EMITTER_TAX_ID_MISSING"
	CodeRecipientIDInvalid = "RECIPIENT_TAX_ID_INVALID"
	CodeAccessKeyMissing   = "ACCESS_KEY_MISSING"
	CodeAccessKeyInvalid   = "ACCESS_KEY_INVALID"
	CodeTotalMismatch      = "TOTAL_MISMATCH"
	CodeMandatoryTaxAbsent = "MANDATORY_TAX_ABSENT"
	CodeNotExtracted       = "NOT_EXTRACTED"
)

// Tolerance bounds the allowed gap between the line item sum and the
// declared total: a ratio of the declared total with an absolute floor so
// small documents are not held to sub-cent precision.
type Tolerance struct {
	Ratio float64 `mapstructure:"ratio"`
	Floor float64 `mapstructure:"floor"`
}

// DefaultTolerance is half a percent with a one-cent floor.
var DefaultTolerance = Tolerance{Ratio: 0.005, Floor: 0.01}

func (t Tolerance) allowed(declared float64) float64 {
	return math.Max(t.Ratio*math.Abs(declared), t.Floor)
}

// Validator holds the configured tolerance.
type Validator struct {
	tolerance Tolerance
}

// New builds a validator. A zero tolerance falls back to the default.
func New(tolerance Tolerance) *Validator {
	if tolerance.Ratio == 0 && tolerance.Floor == 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{tolerance: tolerance}
}

// accessKeyRequired lists the document types whose wire format mandates a
// 44-digit access key.
var accessKeyRequired = map[domain.DocumentType]bool{
	domain.DocumentTypeNFe:  true,
	domain.DocumentTypeNFCe: true,
	domain.DocumentTypeCTe:  true,
	domain.DocumentTypeSAT:  true,
}

// Validate runs every check independently and reduces the findings to a
// verdict. No external calls are made.
func (v *Validator) Validate(doc domain.DocumentRecord, schema domain.TaxSchema) domain.Validation {
	if doc.Extraction == nil {
		return domain.Validation{
			Verdict: domain.VerdictInvalid,
			Findings: []domain.Finding{{
				Code:     CodeNotExtracted,
				Severity: domain.SeverityBlocking,
				Message:  "document has no extracted fields to validate",
			}},
		}
	}

	var findings []domain.Finding
	findings = append(findings, v.checkIdentities(doc.Extraction)...)
	findings = append(findings, v.checkAccessKey(doc)...)
	findings = append(findings, v.checkTotals(doc.Extraction)...)
	findings = append(findings, v.checkMandatoryTaxes(doc, schema)...)

	return domain.Validation{
		Verdict:  domain.ComputeVerdict(findings),
		Findings: findings,
	}
}

func (v *Validator) checkIdentities(ex *domain.Extraction) []domain.Finding {
	var findings []domain.Finding
	switch {
	case ex.Emitter.TaxID == "":
		findings = append(findings, domain.Finding{
			Code:     CodeEmitterIDMissing,
			Severity: domain.SeverityWarning,
			Field:    "emitter.tax_id",
			Message:  "emitter identity is missing",
		})
	case !fiscal.ValidTaxID(ex.Emitter.TaxID):
		findings = append(findings, domain.Finding{
			Code:     CodeEmitterIDInvalid,
			Severity: domain.SeverityBlocking,
			Field:    "emitter.tax_id",
			Message:  fmt.Sprintf("emitter identity %q fails checksum validation", ex.Emitter.TaxID),
		})
	}
	// Recipient identity is optional on consumer documents; only a present
	// but invalid value is reported.
	if ex.Recipient.TaxID != "" && !fiscal.ValidTaxID(ex.Recipient.TaxID) {
		findings = append(findings, domain.Finding{
			Code:     CodeRecipientIDInvalid,
			Severity: domain.SeverityBlocking,
			Field:    "recipient.tax_id",
			Message:  fmt.Sprintf("recipient identity %q fails checksum validation", ex.Recipient.TaxID),
		})
	}
	return findings
}

func (v *Validator) checkAccessKey(doc domain.DocumentRecord) []domain.Finding {
	key := doc.Extraction.AccessKey
	required := accessKeyRequired[doc.Type]
	switch {
	case key == "" && required:
		return []domain.Finding{{
			Code:     CodeAccessKeyMissing,
			Severity: domain.SeverityBlocking,
			Field:    "access_key",
			Message:  fmt.Sprintf("document type %s requires an access key", doc.Type),
		}}
	case key == "":
		return nil
	case !fiscal.ValidAccessKey(key):
		severity := domain.SeverityWarning
		if required {
			severity = domain.SeverityBlocking
		}
		return []domain.Finding{{
			Code:     CodeAccessKeyInvalid,
			Severity: severity,
			Field:    "access_key",
			Message:  "access key fails length or check digit validation",
		}}
	}
	return nil
}

func (v *Validator) checkTotals(ex *domain.Extraction) []domain.Finding {
	if len(ex.Items) == 0 {
		return nil
	}
	var sum float64
	for _, item := range ex.Items {
		sum += item.Total
	}
	diff := math.Abs(sum - ex.DeclaredTotal)
	if diff <= v.tolerance.allowed(ex.DeclaredTotal) {
		return nil
	}
	return []domain.Finding{{
		Code:     CodeTotalMismatch,
		Severity: domain.SeverityBlocking,
		Field:    "declared_total",
		Message: fmt.Sprintf("line items sum to %.2f but document declares %.2f (allowed gap %.2f)",
			sum, ex.DeclaredTotal, v.tolerance.allowed(ex.DeclaredTotal)),
	}}
}

func (v *Validator) checkMandatoryTaxes(doc domain.DocumentRecord, schema domain.TaxSchema) []domain.Finding {
	var findings []domain.Finding
	for _, key := range schema.MandatoryKeys(doc.Type) {
		if _, ok := doc.Extraction.Taxes[key]; !ok {
			findings = append(findings, domain.Finding{
				Code:     CodeMandatoryTaxAbsent,
				Severity: domain.SeverityBlocking,
				Field:    "taxes." + key,
				Message:  fmt.Sprintf("tax %s is mandated for %s documents but was not extracted", key, doc.Type),
			})
		}
	}
	return findings
}
