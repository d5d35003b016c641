package domain

// Anomaly flags an inconsistency spotted by the analyzer. Anomalies never
// change a document's verdict; they are reporting signals.
type Anomaly struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	// AnomalyExemptWithValue marks a line item whose regime code indicates
	// exemption while a non-zero tax value is present for the same tax.
	AnomalyExemptWithValue = "EXEMPT_REGIME_WITH_TAX_VALUE"
	// AnomalyMissingTotal marks a document whose declared total is absent
	// or zero while line items carry value.
	AnomalyMissingTotal = "MISSING_DECLARED_TOTAL"
)

// DocumentStats is the per-document output of the analysis stage.
type DocumentStats struct {
	TotalsByTax  map[string]float64 `json:"totals_by_tax"`
	TaxBurden    float64            `json:"tax_burden"` // total tax over declared total
	ItemCount    int                `json:"item_count"`
	ItemsTotal   float64            `json:"items_total"`
	AvgItemValue float64            `json:"avg_item_value"`
	Anomalies    []Anomaly          `json:"anomalies,omitempty"`
}

// IssuerTotal ranks an emitter by accumulated document value.
type IssuerTotal struct {
	TaxID string  `json:"tax_id"`
	Name  string  `json:"name"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// BatchStats aggregates analysis across the documents of a batch.
type BatchStats struct {
	DocumentCount int                  `json:"document_count"`
	CountsByType  map[DocumentType]int `json:"counts_by_type"`
	TotalValue    float64              `json:"total_value"`
	TotalsByTax   map[string]float64   `json:"totals_by_tax"`
	TopIssuers    []IssuerTotal        `json:"top_issuers,omitempty"`
	AnomalyCount  int                  `json:"anomaly_count"`
}
