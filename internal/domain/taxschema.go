package domain

import (
	"sort"
	"strings"
	"time"
)

// Jurisdiction is the level of government that levies a tax.
type Jurisdiction string

const (
	JurisdictionFederal   Jurisdiction = "federal"
	JurisdictionState     Jurisdiction = "state"
	JurisdictionMunicipal Jurisdiction = "municipal"
)

// TaxDefinition describes one configurable tax the pipeline knows how to
// extract and validate. Definitions are user editable through the registry;
// a processing run only ever sees the immutable snapshot it was bound to.
// Keys are immutable once persisted documents reference them.
type TaxDefinition struct {
	Key          string       `json:"key" yaml:"key"`
	Name         string       `json:"name" yaml:"name"`
	LegalName    string       `json:"legal_name,omitempty" yaml:"legal_name,omitempty"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled      bool         `json:"enabled" yaml:"enabled"`
	Jurisdiction Jurisdiction `json:"jurisdiction" yaml:"jurisdiction"`
	// Color is a display hint for reporting surfaces, e.g. "#1f77b4".
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
	// SourcePaths are dotted element paths tried in order against the
	// document tree. The first path present with a numeric value wins.
	SourcePaths []string `json:"source_paths" yaml:"source_paths"`
	// ItemPath locates the per-item value under each item's tax group. Empty
	// falls back to the "v"+KEY element convention (vICMS, vIPI).
	ItemPath string `json:"item_path,omitempty" yaml:"item_path,omitempty"`
	// RegimePath locates the per-item tax regime code (CST or CSOSN).
	RegimePath string `json:"regime_path,omitempty" yaml:"regime_path,omitempty"`
	// VisionHint is appended to the extraction prompt for scanned documents.
	VisionHint string `json:"vision_hint,omitempty" yaml:"vision_hint,omitempty"`
	// AppliesTo scopes the tax to document types. The registry rejects
	// definitions with an empty scope.
	AppliesTo []DocumentType `json:"applies_to" yaml:"applies_to"`
	// Mandatory taxes must be present on in-scope documents or validation
	// raises a blocking finding.
	Mandatory bool `json:"mandatory" yaml:"mandatory"`
}

// AppliesToType reports whether the definition is in scope for the document
// type. An empty scope applies to every type.
func (t TaxDefinition) AppliesToType(dt DocumentType) bool {
	if len(t.AppliesTo) == 0 {
		return true
	}
	for _, s := range t.AppliesTo {
		if s == dt {
			return true
		}
	}
	return false
}

// SchemaChange is one entry of the registry change history.
type SchemaChange struct {
	Revision    int64     `json:"revision" yaml:"revision"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	Description string    `json:"description" yaml:"description"`
	At          time.Time `json:"at" yaml:"at"`
}

// TaxSchema is an immutable, revisioned snapshot of the tax configuration.
// Mutations return a new schema with the revision advanced; callers never
// observe in-place changes.
type TaxSchema struct {
	Revision  int64           `json:"revision" yaml:"revision"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"updated_at"`
	Taxes     []TaxDefinition `json:"taxes" yaml:"taxes"`
	History   []SchemaChange  `json:"history,omitempty" yaml:"history,omitempty"`
}

// Find returns the definition with the given key.
func (s TaxSchema) Find(key string) (TaxDefinition, bool) {
	for _, t := range s.Taxes {
		if strings.EqualFold(t.Key, key) {
			return t, true
		}
	}
	return TaxDefinition{}, false
}

// EnabledTaxes returns the enabled definitions scoped to the document type,
// in declaration order.
func (s TaxSchema) EnabledTaxes(dt DocumentType) []TaxDefinition {
	out := make([]TaxDefinition, 0, len(s.Taxes))
	for _, t := range s.Taxes {
		if t.Enabled && t.AppliesToType(dt) {
			out = append(out, t)
		}
	}
	return out
}

// EnabledKeys returns the sorted keys of the enabled definitions for the
// document type. Sorting keeps the extraction field set deterministic for a
// given snapshot regardless of declaration order.
func (s TaxSchema) EnabledKeys(dt DocumentType) []string {
	taxes := s.EnabledTaxes(dt)
	keys := make([]string, 0, len(taxes))
	for _, t := range taxes {
		keys = append(keys, t.Key)
	}
	sort.Strings(keys)
	return keys
}

// MandatoryKeys returns the sorted keys of enabled mandatory definitions for
// the document type.
func (s TaxSchema) MandatoryKeys(dt DocumentType) []string {
	var keys []string
	for _, t := range s.EnabledTaxes(dt) {
		if t.Mandatory {
			keys = append(keys, t.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// WithTax returns a new schema with the definition added or replaced by key.
func (s TaxSchema) WithTax(def TaxDefinition, change SchemaChange) TaxSchema {
	taxes := copyTaxes(s.Taxes)
	replaced := false
	for i, t := range taxes {
		if strings.EqualFold(t.Key, def.Key) {
			taxes[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		taxes = append(taxes, def)
	}
	return s.next(taxes, change)
}

// WithoutTax returns a new schema without the keyed definition.
func (s TaxSchema) WithoutTax(key string, change SchemaChange) TaxSchema {
	taxes := make([]TaxDefinition, 0, len(s.Taxes))
	for _, t := range s.Taxes {
		if !strings.EqualFold(t.Key, key) {
			taxes = append(taxes, t)
		}
	}
	return s.next(taxes, change)
}

// WithToggled returns a new schema with the keyed definition's enabled flag
// set to the given value. Unknown keys leave the tax list unchanged but still
// advance the revision so the caller can detect the no-op via Find.
func (s TaxSchema) WithToggled(key string, enabled bool, change SchemaChange) TaxSchema {
	taxes := copyTaxes(s.Taxes)
	for i, t := range taxes {
		if strings.EqualFold(t.Key, key) {
			taxes[i].Enabled = enabled
			break
		}
	}
	return s.next(taxes, change)
}

func (s TaxSchema) next(taxes []TaxDefinition, change SchemaChange) TaxSchema {
	now := time.Now()
	change.Revision = s.Revision + 1
	if change.At.IsZero() {
		change.At = now
	}
	history := make([]SchemaChange, len(s.History), len(s.History)+1)
	copy(history, s.History)
	history = append(history, change)
	return TaxSchema{
		Revision:  s.Revision + 1,
		UpdatedAt: now,
		Taxes:     taxes,
		History:   history,
	}
}

func copyTaxes(taxes []TaxDefinition) []TaxDefinition {
	if taxes == nil {
		return nil
	}
	out := make([]TaxDefinition, len(taxes))
	copy(out, taxes)
	return out
}
