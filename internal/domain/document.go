package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType identifies the fiscal document species inferred by the
// classifier.
type DocumentType string

const (
	DocumentTypeNFe     DocumentType = "NFE"
	DocumentTypeNFCe    DocumentType = "NFCE"
	DocumentTypeCTe     DocumentType = "CTE"
	DocumentTypeNFSe    DocumentType = "NFSE"
	DocumentTypeSAT     DocumentType = "SAT"
	DocumentTypeUnknown DocumentType = "UNKNOWN"
)

// SourceFormat is the physical shape of the uploaded payload.
type SourceFormat string

const (
	SourceFormatXML   SourceFormat = "xml"
	SourceFormatPDF   SourceFormat = "pdf"
	SourceFormatImage SourceFormat = "image"
)

// DocumentStatus is the processing lifecycle state of a document. Statuses
// mirror the pipeline stages plus the three terminal outcomes.
type DocumentStatus string

const (
	StatusReceived    DocumentStatus = "RECEIVED"
	StatusClassifying DocumentStatus = "CLASSIFYING"
	StatusExtracting  DocumentStatus = "EXTRACTING"
	StatusValidating  DocumentStatus = "VALIDATING"
	StatusAnalyzing   DocumentStatus = "ANALYZING"
	StatusIntegrating DocumentStatus = "INTEGRATING"
	StatusCompleted   DocumentStatus = "COMPLETED"
	StatusFailed      DocumentStatus = "FAILED"
	StatusCancelled   DocumentStatus = "CANCELLED"
)

// IsTerminal reports whether no further processing may happen for s.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Party is an emitter or recipient identified on a fiscal document.
type Party struct {
	Name         string `json:"name"`
	TaxID        string `json:"tax_id"` // CNPJ or CPF, digits only
	StateReg     string `json:"state_registration,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	UF           string `json:"uf,omitempty"`
}

// LineItem is one detail row of a fiscal document. Tax values and regime
// codes are keyed by tax key from the schema snapshot the run was bound to.
type LineItem struct {
	Number      int                `json:"number"`
	Code        string             `json:"code,omitempty"`
	Description string             `json:"description,omitempty"`
	Quantity    float64            `json:"quantity"`
	UnitPrice   float64            `json:"unit_price"`
	Total       float64            `json:"total"`
	CFOP        string             `json:"cfop,omitempty"`
	TaxValues   map[string]float64 `json:"tax_values,omitempty"`
	RegimeCodes map[string]string  `json:"regime_codes,omitempty"`
}

// Extraction is the field bag produced by an extraction strategy. It is
// retained on the record even when a later stage fails, so operators can
// inspect what was read before the failure.
type Extraction struct {
	AccessKey     string             `json:"access_key,omitempty"`
	Emitter       Party              `json:"emitter"`
	Recipient     Party              `json:"recipient"`
	IssuedAt      *time.Time         `json:"issued_at,omitempty"`
	DeclaredTotal float64            `json:"declared_total"`
	Taxes         map[string]float64 `json:"taxes,omitempty"`
	Items         []LineItem         `json:"items,omitempty"`
	Extra         map[string]any     `json:"extra,omitempty"`
}

// DocumentRecord is the persisted unit of work flowing through the pipeline.
type DocumentRecord struct {
	ID             uuid.UUID       `json:"id"`
	BatchID        *uuid.UUID      `json:"batch_id,omitempty"`
	FileName       string          `json:"file_name"`
	Format         SourceFormat    `json:"format"`
	Payload        []byte          `json:"-"`
	Type           DocumentType    `json:"type"`
	Status         DocumentStatus  `json:"status"`
	SchemaRevision int64           `json:"schema_revision"`
	Extraction     *Extraction     `json:"extraction,omitempty"`
	Validation     *Validation     `json:"validation,omitempty"`
	Analysis       *DocumentStats  `json:"analysis,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// NewDocumentRecord creates a document in the Received state.
func NewDocumentRecord(fileName string, format SourceFormat, payload []byte) DocumentRecord {
	return DocumentRecord{
		ID:         uuid.New(),
		FileName:   fileName,
		Format:     format,
		Payload:    payload,
		Type:       DocumentTypeUnknown,
		Status:     StatusReceived,
		ReceivedAt: time.Now(),
	}
}

// statusOrder lists the processing statuses in pipeline order. Terminal
// statuses are reachable from any non-terminal status.
var statusOrder = []DocumentStatus{
	StatusReceived,
	StatusClassifying,
	StatusExtracting,
	StatusValidating,
	StatusAnalyzing,
	StatusIntegrating,
	StatusCompleted,
}

// CanTransition reports whether moving from one status to the next is a legal
// pipeline step. Forward moves may skip the optional Integrating status;
// Failed and Cancelled are reachable from any non-terminal status.
func CanTransition(from, to DocumentStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	fromIdx, toIdx := -1, -1
	for i, s := range statusOrder {
		if s == from {
			fromIdx = i
		}
		if s == to {
			toIdx = i
		}
	}
	if fromIdx < 0 || toIdx < 0 {
		return false
	}
	// Completed may be entered directly from Analyzing when integration is
	// not requested.
	if to == StatusCompleted {
		return fromIdx >= indexOf(StatusAnalyzing)
	}
	return toIdx == fromIdx+1
}

func indexOf(s DocumentStatus) int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// WithStatus returns a copy of the record in the given status, stamping
// CompletedAt on terminal statuses.
func (d DocumentRecord) WithStatus(status DocumentStatus) DocumentRecord {
	out := d
	out.Status = status
	if status.IsTerminal() {
		now := time.Now()
		out.CompletedAt = &now
	}
	return out
}

// WithFailure returns a copy of the record marked Failed with the reason.
func (d DocumentRecord) WithFailure(reason string) DocumentRecord {
	out := d.WithStatus(StatusFailed)
	out.FailureReason = reason
	return out
}
