package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/notaflow/notaflow/internal/domain"
	"github.com/notaflow/notaflow/pkg/fiscal"
)

// extractStructured walks the markup tree deterministically. For every
// enabled tax in the bound snapshot it tries the configured source paths in
// order and takes the first present numeric value; a value that fails
// numeric coercion falls through to the next path, then to absent.
func extractStructured(doc domain.DocumentRecord, schema domain.TaxSchema) (*domain.Extraction, error) {
	root, err := parseTree(doc.Payload)
	if err != nil {
		return nil, domain.NewExtractionError(domain.ExtractionMalformed,
			fmt.Errorf("failed to parse document markup: %w", err))
	}

	ex := &domain.Extraction{
		AccessKey: accessKey(root),
		Emitter:   party(root.find("emit")),
		Recipient: party(root.find("dest")),
		Taxes:     map[string]float64{},
	}

	if ide := root.find("ide"); ide != nil {
		ex.IssuedAt = issuedAt(ide)
	}

	for _, path := range []string{"total.ICMSTot.vNF", "vNF", "vCFe", "vTPrest", "ValorServicos"} {
		if raw, ok := root.lookup(path); ok {
			if v, ok := parseNumeric(raw); ok {
				ex.DeclaredTotal = v
				break
			}
		}
	}

	for _, def := range schema.EnabledTaxes(doc.Type) {
		for _, path := range def.SourcePaths {
			raw, ok := root.lookup(path)
			if !ok {
				continue
			}
			v, ok := parseNumeric(raw)
			if !ok {
				continue // coercion failure is non-fatal, try the next path
			}
			ex.Taxes[def.Key] = v
			break
		}
	}

	ex.Items = lineItems(root, schema.EnabledTaxes(doc.Type))
	return ex, nil
}

// accessKey reads the 44-digit key from the infNFe/infCte Id attribute,
// falling back to a chNFe/chCTe element when present.
func accessKey(root *node) string {
	for _, name := range []string{"infNFe", "infCte", "infCFe"} {
		if n := root.find(name); n != nil {
			if id, ok := n.attrs["Id"]; ok {
				if d := fiscal.Digits(id); len(d) == 44 {
					return d
				}
			}
		}
	}
	for _, name := range []string{"chNFe", "chCTe"} {
		if v := root.textOf(name); v != "" {
			if d := fiscal.Digits(v); len(d) == 44 {
				return d
			}
		}
	}
	return ""
}

func party(n *node) domain.Party {
	if n == nil {
		return domain.Party{}
	}
	taxID := n.textOf("CNPJ")
	if taxID == "" {
		taxID = n.textOf("CPF")
	}
	return domain.Party{
		Name:         n.textOf("xNome"),
		TaxID:        fiscal.Digits(taxID),
		StateReg:     n.textOf("IE"),
		Municipality: n.textOf("xMun"),
		UF:           n.textOf("UF"),
	}
}

func issuedAt(ide *node) *time.Time {
	for _, name := range []string{"dhEmi", "dEmi"} {
		raw := ide.textOf(name)
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
	}
	return nil
}

// lineItems decodes every det element: product data plus per-tax value and
// regime code (CST, or CSOSN under the Simples Nacional regime).
func lineItems(root *node, taxes []domain.TaxDefinition) []domain.LineItem {
	dets := root.findAll("det")
	if len(dets) == 0 {
		return nil
	}
	items := make([]domain.LineItem, 0, len(dets))
	for i, det := range dets {
		item := domain.LineItem{Number: i + 1}
		if n, ok := det.attrs["nItem"]; ok {
			if v, ok := parseNumeric(n); ok {
				item.Number = int(v)
			}
		}
		if prod := det.find("prod"); prod != nil {
			item.Code = prod.textOf("cProd")
			item.Description = prod.textOf("xProd")
			item.CFOP = prod.textOf("CFOP")
			item.Quantity, _ = parseNumeric(prod.textOf("qCom"))
			item.UnitPrice, _ = parseNumeric(prod.textOf("vUnCom"))
			item.Total, _ = parseNumeric(prod.textOf("vProd"))
		}
		imposto := det.find("imposto")
		if imposto == nil {
			items = append(items, item)
			continue
		}
		for _, def := range taxes {
			if raw, ok := imposto.lookup(itemValuePath(def)); ok {
				if v, ok := parseNumeric(raw); ok {
					if item.TaxValues == nil {
						item.TaxValues = map[string]float64{}
					}
					item.TaxValues[def.Key] = v
				}
			}
			if code := regimeCode(imposto, def); code != "" {
				if item.RegimeCodes == nil {
					item.RegimeCodes = map[string]string{}
				}
				item.RegimeCodes[def.Key] = code
			}
		}
		items = append(items, item)
	}
	return items
}

// itemValuePath resolves where a tax's per-item value lives. Definitions may
// override the conventional "v"+KEY element name when their documents don't
// follow it.
func itemValuePath(def domain.TaxDefinition) string {
	if def.ItemPath != "" {
		return def.ItemPath
	}
	return "v" + strings.ToUpper(def.Key)
}

func regimeCode(imposto *node, def domain.TaxDefinition) string {
	if def.RegimePath == "" {
		return ""
	}
	if code, ok := imposto.lookup(def.RegimePath); ok && code != "" {
		return code
	}
	// Simples Nacional documents carry CSOSN in place of CST.
	if strings.HasSuffix(def.RegimePath, ".CST") {
		alt := strings.TrimSuffix(def.RegimePath, ".CST") + ".CSOSN"
		if code, ok := imposto.lookup(alt); ok && code != "" {
			return code
		}
	}
	return ""
}
