package schema

import (
	"time"

	"github.com/notaflow/notaflow/internal/domain"
)

// DefaultSchema returns the initial tax configuration seeded when no
// registry file exists: the standard federal, state and municipal taxes
// found on Brazilian electronic fiscal documents.
func DefaultSchema() domain.TaxSchema {
	goodsTypes := []domain.DocumentType{
		domain.DocumentTypeNFe,
		domain.DocumentTypeNFCe,
		domain.DocumentTypeSAT,
	}
	return domain.TaxSchema{
		Revision:  1,
		UpdatedAt: time.Now(),
		Taxes: []domain.TaxDefinition{
			{
				Key:          "icms",
				Name:         "ICMS",
				LegalName:    "Imposto sobre Circulação de Mercadorias e Serviços",
				Enabled:      true,
				Jurisdiction: domain.JurisdictionState,
				Color:        "#1f77b4",
				SourcePaths:  []string{"total.ICMSTot.vICMS", "ICMSTot.vICMS"},
				RegimePath:   "ICMS.CST",
				VisionHint:   "state VAT amount, usually labelled ICMS",
				AppliesTo:    goodsTypes,
				Mandatory:    true,
			},
			{
				Key:          "ipi",
				Name:         "IPI",
				LegalName:    "Imposto sobre Produtos Industrializados",
				Enabled:      true,
				Jurisdiction: domain.JurisdictionFederal,
				Color:        "#ff7f0e",
				SourcePaths:  []string{"total.ICMSTot.vIPI", "ICMSTot.vIPI"},
				RegimePath:   "IPI.CST",
				VisionHint:   "federal excise on manufactured goods, labelled IPI",
				AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
			},
			{
				Key:          "pis",
				Name:         "PIS",
				LegalName:    "Programa de Integração Social",
				Enabled:      true,
				Jurisdiction: domain.JurisdictionFederal,
				Color:        "#2ca02c",
				SourcePaths:  []string{"total.ICMSTot.vPIS", "ICMSTot.vPIS"},
				RegimePath:   "PIS.CST",
				VisionHint:   "federal social contribution, labelled PIS",
				AppliesTo:    goodsTypes,
			},
			{
				Key:          "cofins",
				Name:         "COFINS",
				LegalName:    "Contribuição para o Financiamento da Seguridade Social",
				Enabled:      true,
				Jurisdiction: domain.JurisdictionFederal,
				Color:        "#d62728",
				SourcePaths:  []string{"total.ICMSTot.vCOFINS", "ICMSTot.vCOFINS"},
				RegimePath:   "COFINS.CST",
				VisionHint:   "federal social security contribution, labelled COFINS",
				AppliesTo:    goodsTypes,
			},
			{
				Key:          "iss",
				Name:         "ISS",
				LegalName:    "Imposto sobre Serviços",
				Enabled:      true,
				Jurisdiction: domain.JurisdictionMunicipal,
				Color:        "#9467bd",
				SourcePaths:  []string{"ISSQNtot.vISS", "vISS"},
				VisionHint:   "municipal service tax, labelled ISS or ISSQN",
				AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFSe, domain.DocumentTypeNFe},
			},
		},
		History: []domain.SchemaChange{
			{Revision: 1, Description: "seed default tax configuration", At: time.Now()},
		},
	}
}
