package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/internal/vision"
)

const nfeSample = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc versao="4.00">
 <NFe>
  <infNFe Id="NFe35200714200166000187550010000000046550000044" versao="4.00">
   <ide><mod>55</mod><dhEmi>2026-07-01T10:30:00-03:00</dhEmi></ide>
   <emit>
    <CNPJ>11222333000181</CNPJ>
    <xNome>Fornecedor Exemplo LTDA</xNome>
    <IE>123456789</IE>
    <enderEmit><xMun>Sao Paulo</xMun><UF>SP</UF></enderEmit>
   </emit>
   <dest>
    <CPF>52998224725</CPF>
    <xNome>Cliente Final</xNome>
   </dest>
   <det nItem="1">
    <prod><cProd>P1</cProd><xProd>Parafuso</xProd><CFOP>5102</CFOP><qCom>10.0</qCom><vUnCom>2.50</vUnCom><vProd>25.00</vProd></prod>
    <imposto><ICMS><ICMS00><CST>00</CST><vICMS>4.50</vICMS></ICMS00></ICMS></imposto>
   </det>
   <det nItem="2">
    <prod><cProd>P2</cProd><xProd>Porca</xProd><CFOP>5102</CFOP><qCom>5</qCom><vUnCom>15.00</vUnCom><vProd>75.00</vProd></prod>
    <imposto><ICMS><ICMSSN102><CSOSN>102</CSOSN></ICMSSN102></ICMS></imposto>
   </det>
   <total><ICMSTot><vICMS>13.50</vICMS><vIPI>0.00</vIPI><vNF>100.00</vNF></ICMSTot></total>
  </infNFe>
 </NFe>
</nfeProc>`

func testSchema() domain.TaxSchema {
	return domain.TaxSchema{
		Revision: 1,
		Taxes: []domain.TaxDefinition{
			{
				Key: "icms", Name: "ICMS", Enabled: true,
				Jurisdiction: domain.JurisdictionState,
				SourcePaths:  []string{"total.ICMSTot.vICMS"},
				RegimePath:   "ICMS.CST",
				AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
			},
			{
				Key: "ipi", Name: "IPI", Enabled: true,
				Jurisdiction: domain.JurisdictionFederal,
				SourcePaths:  []string{"total.ICMSTot.vIPI"},
				AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
			},
		},
	}
}

func nfeDoc() domain.DocumentRecord {
	doc := domain.NewDocumentRecord("nfe.xml", domain.SourceFormatXML, []byte(nfeSample))
	doc.Type = domain.DocumentTypeNFe
	return doc
}

func TestStructuredExtraction(t *testing.T) {
	ex, err := New(nil, nil).Extract(context.Background(), nfeDoc(), testSchema())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if ex.AccessKey != "35200714200166000187550010000000046550000044" {
		t.Errorf("access key = %q", ex.AccessKey)
	}
	if ex.Emitter.TaxID != "11222333000181" || ex.Emitter.Name != "Fornecedor Exemplo LTDA" {
		t.Errorf("emitter = %+v", ex.Emitter)
	}
	if ex.Recipient.TaxID != "52998224725" {
		t.Errorf("recipient = %+v", ex.Recipient)
	}
	if ex.DeclaredTotal != 100.00 {
		t.Errorf("declared total = %v", ex.DeclaredTotal)
	}
	if got := ex.Taxes["icms"]; got != 13.50 {
		t.Errorf("icms = %v", got)
	}
	if got := ex.Taxes["ipi"]; got != 0 {
		t.Errorf("ipi = %v", got)
	}
	if ex.IssuedAt == nil {
		t.Error("expected issued_at to be parsed")
	}

	if len(ex.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(ex.Items))
	}
	if ex.Items[0].RegimeCodes["icms"] != "00" {
		t.Errorf("item 1 regime = %q, want CST 00", ex.Items[0].RegimeCodes["icms"])
	}
	if ex.Items[0].TaxValues["icms"] != 4.50 {
		t.Errorf("item 1 icms = %v", ex.Items[0].TaxValues["icms"])
	}
	if ex.Items[1].RegimeCodes["icms"] != "102" {
		t.Errorf("item 2 regime = %q, want CSOSN 102", ex.Items[1].RegimeCodes["icms"])
	}
}

// A tax added to the schema with a path that exists anywhere in the tree is
// picked up on the next run without code changes.
func TestNewTaxDefinitionIsExtracted(t *testing.T) {
	payload := strings.Replace(nfeSample,
		"<vNF>100.00</vNF>", "<vNF>100.00</vNF><vIVA>7.77</vIVA>", 1)
	doc := nfeDoc()
	doc.Payload = []byte(payload)

	schema := testSchema()
	schema = schema.WithTax(domain.TaxDefinition{
		Key: "iva", Name: "IVA", Enabled: true,
		Jurisdiction: domain.JurisdictionFederal,
		SourcePaths:  []string{"vIVA"},
		AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
	}, domain.SchemaChange{Description: "add iva"})

	ex, err := New(nil, nil).Extract(context.Background(), doc, schema)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := ex.Taxes["iva"]; got != 7.77 {
		t.Errorf("iva = %v, want 7.77", got)
	}
}

// Per-item values default to the v+KEY element convention but follow the
// definition's item path when the document's tax group doesn't use it.
func TestItemPathOverridesNamingConvention(t *testing.T) {
	payload := strings.Replace(nfeSample,
		"</ICMS></imposto>", "</ICMS><IVA><vTributo>1.23</vTributo></IVA></imposto>", 1)
	doc := nfeDoc()
	doc.Payload = []byte(payload)

	schema := testSchema()
	schema = schema.WithTax(domain.TaxDefinition{
		Key: "iva", Name: "IVA", Enabled: true,
		Jurisdiction: domain.JurisdictionFederal,
		SourcePaths:  []string{"total.IVATot.vIVA"},
		ItemPath:     "IVA.vTributo",
		AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
	}, domain.SchemaChange{Description: "add iva"})

	ex, err := New(nil, nil).Extract(context.Background(), doc, schema)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := ex.Items[0].TaxValues["iva"]; got != 1.23 {
		t.Errorf("item 1 iva = %v, want 1.23 via item_path", got)
	}
	// The conventional element name still resolves for definitions without an
	// item path.
	if got := ex.Items[0].TaxValues["icms"]; got != 4.50 {
		t.Errorf("item 1 icms = %v, want 4.50 via convention", got)
	}
}

func TestSourcePathFallthrough(t *testing.T) {
	// First path present but non-numeric, second path numeric: the value
	// must come from the second path. A third document without either path
	// leaves the tax absent.
	payload := `<NFe><infNFe><bad>n/a</bad><good>5,50</good></infNFe></NFe>`
	doc := domain.NewDocumentRecord("x.xml", domain.SourceFormatXML, []byte(payload))
	doc.Type = domain.DocumentTypeNFe

	schema := domain.TaxSchema{Taxes: []domain.TaxDefinition{{
		Key: "t", Name: "T", Enabled: true,
		Jurisdiction: domain.JurisdictionFederal,
		SourcePaths:  []string{"bad", "good", "absent"},
		AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
	}}}

	ex, err := New(nil, nil).Extract(context.Background(), doc, schema)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := ex.Taxes["t"]; got != 5.50 {
		t.Errorf("t = %v, want 5.50 via fallthrough", got)
	}

	doc.Payload = []byte(`<NFe><infNFe><other>1</other></infNFe></NFe>`)
	ex, err = New(nil, nil).Extract(context.Background(), doc, schema)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, ok := ex.Taxes["t"]; ok {
		t.Error("expected tax to be absent, not fabricated")
	}
}

func TestMalformedMarkup(t *testing.T) {
	doc := domain.NewDocumentRecord("x.xml", domain.SourceFormatXML, []byte("<NFe><unclosed>"))
	_, err := New(nil, nil).Extract(context.Background(), doc, testSchema())
	var exErr *domain.ExtractionError
	if !errors.As(err, &exErr) || exErr.Kind != domain.ExtractionMalformed {
		t.Fatalf("err = %v, want ExtractionError{Malformed}", err)
	}
}

type fakeBackend struct {
	resp       map[string]any
	err        error
	lastPrompt string
}

func (f *fakeBackend) GenerateJSON(_ context.Context, req vision.Request) (map[string]any, error) {
	f.lastPrompt = req.Prompt
	return f.resp, f.err
}

func (f *fakeBackend) Transcribe(context.Context, []byte, domain.SourceFormat) (string, error) {
	return "", nil
}

func imageDoc() domain.DocumentRecord {
	doc := domain.NewDocumentRecord("scan.png", domain.SourceFormatImage, []byte{0x89, 0x50})
	doc.Type = domain.DocumentTypeNFe
	return doc
}

func TestVisionPromptContainsEnabledTaxes(t *testing.T) {
	backend := &fakeBackend{resp: map[string]any{"taxes": map[string]any{}}}
	if _, err := New(backend, nil).Extract(context.Background(), imageDoc(), testSchema()); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, key := range []string{"icms", "ipi"} {
		if !strings.Contains(backend.lastPrompt, "\""+key+"\"") {
			t.Errorf("prompt does not request %q:\n%s", key, backend.lastPrompt)
		}
	}
}

func TestVisionResponseValidation(t *testing.T) {
	backend := &fakeBackend{resp: map[string]any{
		"access_key":     "3520.0714.2001.6600.0187.5500.1000.0000.0465.5000.0044",
		"emitter":        map[string]any{"name": "Loja", "tax_id": "11.222.333/0001-81"},
		"recipient":      "not an object",
		"declared_total": "1.234,56",
		"taxes": map[string]any{
			"icms":    12.5,
			"ipi":     "not a number",
			"unknown": 99.0,
		},
		"items": []any{
			map[string]any{"number": 1.0, "description": "Item", "total": 10.0},
			"garbage",
		},
	}}

	ex, err := New(backend, nil).Extract(context.Background(), imageDoc(), testSchema())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.AccessKey != "35200714200166000187550010000000046550000044" {
		t.Errorf("access key = %q", ex.AccessKey)
	}
	if ex.Emitter.TaxID != "11222333000181" {
		t.Errorf("emitter tax id = %q", ex.Emitter.TaxID)
	}
	if ex.Recipient != (domain.Party{}) {
		t.Errorf("ill-typed recipient should be dropped, got %+v", ex.Recipient)
	}
	if ex.DeclaredTotal != 1234.56 {
		t.Errorf("declared total = %v", ex.DeclaredTotal)
	}
	if got := ex.Taxes["icms"]; got != 12.5 {
		t.Errorf("icms = %v", got)
	}
	if _, ok := ex.Taxes["ipi"]; ok {
		t.Error("ill-typed tax value should be dropped")
	}
	if _, ok := ex.Taxes["unknown"]; ok {
		t.Error("tax keys outside the snapshot must be ignored")
	}
	if len(ex.Items) != 1 {
		t.Errorf("items = %d, want only the well-formed one", len(ex.Items))
	}
}

func TestVisionBackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("deadline exceeded")}
	_, err := New(backend, nil).Extract(context.Background(), imageDoc(), testSchema())
	var exErr *domain.ExtractionError
	if !errors.As(err, &exErr) || exErr.Kind != domain.ExtractionBackendUnavailable {
		t.Fatalf("err = %v, want ExtractionError{BackendUnavailable}", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("backend unavailability must be retryable")
	}
}

func TestVisionSchemaMismatch(t *testing.T) {
	backend := &fakeBackend{resp: map[string]any{"something_else": true}}
	_, err := New(backend, nil).Extract(context.Background(), imageDoc(), testSchema())
	var exErr *domain.ExtractionError
	if !errors.As(err, &exErr) || exErr.Kind != domain.ExtractionSchemaMismatch {
		t.Fatalf("err = %v, want ExtractionError{SchemaMismatch}", err)
	}
	if domain.IsRetryable(err) {
		t.Error("schema mismatch must not be retryable")
	}
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"10.50", 10.50, true},
		{"10,50", 10.50, true},
		{"1.234,56", 1234.56, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, c := range cases {
		got, ok := parseNumeric(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("parseNumeric(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
