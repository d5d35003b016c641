package validator

import (
	"testing"

	"github.com/notaflow/notaflow/internal/domain"
)

func validExtraction() *domain.Extraction {
	return &domain.Extraction{
		AccessKey:     "35200714200166000187550010000000046550000044",
		Emitter:       domain.Party{Name: "Fornecedor", TaxID: "11222333000181"},
		Recipient:     domain.Party{Name: "Cliente", TaxID: "52998224725"},
		DeclaredTotal: 100.00,
		Taxes:         map[string]float64{"icms": 13.50},
		Items: []domain.LineItem{
			{Number: 1, Total: 25.00},
			{Number: 2, Total: 75.00},
		},
	}
}

func nfeRecord(ex *domain.Extraction) domain.DocumentRecord {
	doc := domain.NewDocumentRecord("nfe.xml", domain.SourceFormatXML, nil)
	doc.Type = domain.DocumentTypeNFe
	doc.Extraction = ex
	return doc
}

func mandatorySchema() domain.TaxSchema {
	return domain.TaxSchema{Taxes: []domain.TaxDefinition{{
		Key: "icms", Name: "ICMS", Enabled: true, Mandatory: true,
		Jurisdiction: domain.JurisdictionState,
		SourcePaths:  []string{"total.ICMSTot.vICMS"},
		AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
	}}}
}

func findingCodes(v domain.Validation) map[string]bool {
	codes := make(map[string]bool, len(v.Findings))
	for _, f := range v.Findings {
		codes[f.Code] = true
	}
	return codes
}

func TestValidDocument(t *testing.T) {
	v := New(DefaultTolerance)
	result := v.Validate(nfeRecord(validExtraction()), mandatorySchema())
	if result.Verdict != domain.VerdictValid {
		t.Fatalf("verdict = %s, findings = %+v", result.Verdict, result.Findings)
	}
}

func TestDeterminism(t *testing.T) {
	v := New(DefaultTolerance)
	doc := nfeRecord(validExtraction())
	first := v.Validate(doc, mandatorySchema())
	second := v.Validate(doc, mandatorySchema())
	if first.Verdict != second.Verdict || len(first.Findings) != len(second.Findings) {
		t.Error("expected identical verdicts for identical input")
	}
}

func TestInvalidEmitterBlocks(t *testing.T) {
	ex := validExtraction()
	ex.Emitter.TaxID = "11222333000199"
	result := New(DefaultTolerance).Validate(nfeRecord(ex), mandatorySchema())
	if result.Verdict != domain.VerdictInvalid {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	if !findingCodes(result)[CodeEmitterIDInvalid] {
		t.Errorf("missing finding, got %+v", result.Findings)
	}
}

func TestMissingEmitterIsWarningOnly(t *testing.T) {
	ex := validExtraction()
	ex.Emitter.TaxID = ""
	result := New(DefaultTolerance).Validate(nfeRecord(ex), mandatorySchema())
	if result.Verdict != domain.VerdictValidWithWarnings {
		t.Fatalf("verdict = %s, want warnings only", result.Verdict)
	}
	if !findingCodes(result)[CodeEmitterIDMissing] {
		t.Errorf("missing finding, got %+v", result.Findings)
	}
}

func TestAccessKeyRules(t *testing.T) {
	v := New(DefaultTolerance)

	ex := validExtraction()
	ex.AccessKey = ""
	result := v.Validate(nfeRecord(ex), mandatorySchema())
	if result.Verdict != domain.VerdictInvalid || !findingCodes(result)[CodeAccessKeyMissing] {
		t.Errorf("missing key on NFe should block, got %+v", result)
	}

	ex = validExtraction()
	ex.AccessKey = "35200714200166000187550010000000046550000045"
	result = v.Validate(nfeRecord(ex), mandatorySchema())
	if result.Verdict != domain.VerdictInvalid || !findingCodes(result)[CodeAccessKeyInvalid] {
		t.Errorf("bad check digit should block, got %+v", result)
	}

	// NFSe has no access key concept; its absence is not a finding.
	ex = validExtraction()
	ex.AccessKey = ""
	doc := nfeRecord(ex)
	doc.Type = domain.DocumentTypeNFSe
	result = v.Validate(doc, domain.TaxSchema{})
	if findingCodes(result)[CodeAccessKeyMissing] {
		t.Errorf("NFSe should not require an access key, got %+v", result.Findings)
	}
}

func TestTotalReconciliation(t *testing.T) {
	v := New(Tolerance{Ratio: 0.005, Floor: 0.01})

	// 100.40 declared vs 100.00 items: gap 0.40 within 0.502 allowance.
	ex := validExtraction()
	ex.DeclaredTotal = 100.40
	result := v.Validate(nfeRecord(ex), mandatorySchema())
	if findingCodes(result)[CodeTotalMismatch] {
		t.Errorf("gap within tolerance flagged: %+v", result.Findings)
	}

	// 103 declared vs 100 items: gap 3.00 exceeds the 0.515 allowance.
	ex = validExtraction()
	ex.DeclaredTotal = 103.00
	result = v.Validate(nfeRecord(ex), mandatorySchema())
	if result.Verdict != domain.VerdictInvalid || !findingCodes(result)[CodeTotalMismatch] {
		t.Errorf("gap beyond tolerance not flagged: %+v", result)
	}

	// No items: reconciliation is skipped.
	ex = validExtraction()
	ex.Items = nil
	result = v.Validate(nfeRecord(ex), mandatorySchema())
	if findingCodes(result)[CodeTotalMismatch] {
		t.Error("reconciliation should be skipped without items")
	}
}

func TestMandatoryTaxPresence(t *testing.T) {
	ex := validExtraction()
	delete(ex.Taxes, "icms")
	result := New(DefaultTolerance).Validate(nfeRecord(ex), mandatorySchema())
	if result.Verdict != domain.VerdictInvalid || !findingCodes(result)[CodeMandatoryTaxAbsent] {
		t.Errorf("absent mandatory tax not flagged: %+v", result)
	}

	// A zero value still counts as present.
	ex = validExtraction()
	ex.Taxes["icms"] = 0
	result = New(DefaultTolerance).Validate(nfeRecord(ex), mandatorySchema())
	if findingCodes(result)[CodeMandatoryTaxAbsent] {
		t.Error("zero-valued mandatory tax must count as present")
	}
}

func TestUnextractedDocument(t *testing.T) {
	doc := nfeRecord(nil)
	result := New(DefaultTolerance).Validate(doc, mandatorySchema())
	if result.Verdict != domain.VerdictInvalid || !findingCodes(result)[CodeNotExtracted] {
		t.Errorf("expected blocking NOT_EXTRACTED, got %+v", result)
	}
}
