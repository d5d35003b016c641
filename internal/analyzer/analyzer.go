// Package analyzer computes per-document and per-batch aggregates over
// completed extractions, using the same tax schema snapshot as extraction.
// Analysis is side-effect free; report writing is a separate explicit call.
package analyzer

import (
	"fmt"
	"sort"

	"github.com/notaflow/notaflow/internal/domain"
)

// exemptRegimes are the CST and CSOSN codes under which no tax value is
// expected: a value alongside one of these is a contradiction worth
// flagging, not rejecting.
var exemptRegimes = map[string]bool{
	"40": true, "41": true, "50": true, // CST isenta, não tributada, suspensão
	"102": true, "103": true, "300": true, "400": true, // CSOSN without credit
}

// Analyzer computes aggregates. It is stateless; construction exists so the
// call sites mirror the other stage components.
type Analyzer struct{}

// New builds an analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// AnalyzeDocument summarizes one extracted document.
func (a *Analyzer) AnalyzeDocument(doc domain.DocumentRecord, schema domain.TaxSchema) domain.DocumentStats {
	stats := domain.DocumentStats{TotalsByTax: map[string]float64{}}
	ex := doc.Extraction
	if ex == nil {
		return stats
	}

	for _, key := range schema.EnabledKeys(doc.Type) {
		if v, ok := ex.Taxes[key]; ok {
			stats.TotalsByTax[key] = v
		}
	}

	var taxTotal float64
	for _, v := range stats.TotalsByTax {
		taxTotal += v
	}
	if ex.DeclaredTotal > 0 {
		stats.TaxBurden = taxTotal / ex.DeclaredTotal
	}

	stats.ItemCount = len(ex.Items)
	for _, item := range ex.Items {
		stats.ItemsTotal += item.Total
	}
	if stats.ItemCount > 0 {
		stats.AvgItemValue = stats.ItemsTotal / float64(stats.ItemCount)
	}

	stats.Anomalies = a.findAnomalies(ex)
	return stats
}

func (a *Analyzer) findAnomalies(ex *domain.Extraction) []domain.Anomaly {
	var anomalies []domain.Anomaly
	for _, item := range ex.Items {
		for key, code := range item.RegimeCodes {
			if !exemptRegimes[code] {
				continue
			}
			if v := item.TaxValues[key]; v > 0 {
				anomalies = append(anomalies, domain.Anomaly{
					Code: domain.AnomalyExemptWithValue,
					Message: fmt.Sprintf(
						"item %d carries %s value %.2f under exempt regime code %s",
						item.Number, key, v, code),
				})
			}
		}
	}
	var itemsTotal float64
	for _, item := range ex.Items {
		itemsTotal += item.Total
	}
	if ex.DeclaredTotal == 0 && itemsTotal > 0 {
		anomalies = append(anomalies, domain.Anomaly{
			Code:    domain.AnomalyMissingTotal,
			Message: "line items carry value but the declared total is absent or zero",
		})
	}
	return anomalies
}

// AnalyzeBatch aggregates across the completed documents of a batch.
func (a *Analyzer) AnalyzeBatch(docs []domain.DocumentRecord, schema domain.TaxSchema) domain.BatchStats {
	stats := domain.BatchStats{
		CountsByType: map[domain.DocumentType]int{},
		TotalsByTax:  map[string]float64{},
	}
	issuers := map[string]*domain.IssuerTotal{}

	for _, doc := range docs {
		stats.DocumentCount++
		stats.CountsByType[doc.Type]++
		ex := doc.Extraction
		if ex == nil {
			continue
		}
		stats.TotalValue += ex.DeclaredTotal
		for _, key := range schema.EnabledKeys(doc.Type) {
			if v, ok := ex.Taxes[key]; ok {
				stats.TotalsByTax[key] += v
			}
		}
		if ex.Emitter.TaxID != "" {
			it, ok := issuers[ex.Emitter.TaxID]
			if !ok {
				it = &domain.IssuerTotal{TaxID: ex.Emitter.TaxID, Name: ex.Emitter.Name}
				issuers[ex.Emitter.TaxID] = it
			}
			it.Total += ex.DeclaredTotal
			it.Count++
		}
		stats.AnomalyCount += len(a.findAnomalies(ex))
	}

	for _, it := range issuers {
		stats.TopIssuers = append(stats.TopIssuers, *it)
	}
	sort.Slice(stats.TopIssuers, func(i, j int) bool {
		if stats.TopIssuers[i].Total != stats.TopIssuers[j].Total {
			return stats.TopIssuers[i].Total > stats.TopIssuers[j].Total
		}
		return stats.TopIssuers[i].TaxID < stats.TopIssuers[j].TaxID
	})
	if len(stats.TopIssuers) > 10 {
		stats.TopIssuers = stats.TopIssuers[:10]
	}
	return stats
}
