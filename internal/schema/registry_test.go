package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/notaflow/notaflow/internal/domain"
)

func openTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tax_schema.yaml")
	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, path
}

func testDefinition(key string) domain.TaxDefinition {
	return domain.TaxDefinition{
		Key:          key,
		Name:         key,
		Enabled:      true,
		Jurisdiction: domain.JurisdictionFederal,
		SourcePaths:  []string{"total." + key},
		AppliesTo:    []domain.DocumentType{domain.DocumentTypeNFe},
	}
}

func TestOpenSeedsDefaults(t *testing.T) {
	r, path := openTestRegistry(t)

	snap := r.Snapshot()
	if snap.Revision != 1 {
		t.Errorf("seed revision = %d, want 1", snap.Revision)
	}
	if _, ok := snap.Find("icms"); !ok {
		t.Error("expected seeded schema to contain icms")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected schema file to be written: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	r, path := openTestRegistry(t)

	if _, err := r.Apply(Mutation{Kind: MutationAdd, Definition: testDefinition("iva")}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	snap := reopened.Snapshot()
	if snap.Revision != 2 {
		t.Errorf("reloaded revision = %d, want 2", snap.Revision)
	}
	if _, ok := snap.Find("iva"); !ok {
		t.Error("expected reloaded schema to contain iva")
	}
	if len(snap.History) != 2 {
		t.Errorf("history length = %d, want 2", len(snap.History))
	}
}

func TestValidateRejections(t *testing.T) {
	r, _ := openTestRegistry(t)

	cases := []struct {
		name string
		def  domain.TaxDefinition
	}{
		{"empty key", func() domain.TaxDefinition { d := testDefinition(""); return d }()},
		{"duplicate key", testDefinition("icms")},
		{"no source paths", func() domain.TaxDefinition {
			d := testDefinition("x")
			d.SourcePaths = nil
			return d
		}()},
		{"empty scope", func() domain.TaxDefinition {
			d := testDefinition("x")
			d.AppliesTo = nil
			return d
		}()},
		{"bad jurisdiction", func() domain.TaxDefinition {
			d := testDefinition("x")
			d.Jurisdiction = "county"
			return d
		}()},
	}
	for _, c := range cases {
		err := r.Validate(c.def)
		var schemaErr *domain.SchemaError
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if !errors.As(err, &schemaErr) {
			t.Errorf("%s: error %v is not a SchemaError", c.name, err)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r, _ := openTestRegistry(t)

	before := r.Snapshot()
	beforeKeys := len(before.Taxes)

	if _, err := r.Apply(Mutation{Kind: MutationAdd, Definition: testDefinition("iva")}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(before.Taxes) != beforeKeys {
		t.Error("snapshot handed out before the mutation was altered")
	}
	after := r.Snapshot()
	if after.Revision != before.Revision+1 {
		t.Errorf("revision = %d, want %d", after.Revision, before.Revision+1)
	}
}

func TestApplyWritesBackup(t *testing.T) {
	r, _ := openTestRegistry(t)

	if names, _ := r.Backups(); len(names) != 0 {
		t.Fatalf("expected no backups before mutation, got %v", names)
	}

	if _, err := r.Apply(Mutation{Kind: MutationToggle, Key: "ipi", Enabled: false}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	names, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("backups = %v, want exactly one", names)
	}
}

func TestToggleAndRemove(t *testing.T) {
	r, _ := openTestRegistry(t)

	snap, err := r.Apply(Mutation{Kind: MutationToggle, Key: "pis", Enabled: false})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	def, ok := snap.Find("pis")
	if !ok || def.Enabled {
		t.Error("expected pis to be disabled")
	}

	snap, err = r.Apply(Mutation{Kind: MutationRemove, Key: "iss"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := snap.Find("iss"); ok {
		t.Error("expected iss to be removed")
	}

	if _, err := r.Apply(Mutation{Kind: MutationRemove, Key: "nope"}); err == nil {
		t.Error("expected removing an unknown key to fail")
	}
}
