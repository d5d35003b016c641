// Package schema manages the dynamic tax configuration: a revisioned,
// file-backed registry of tax definitions that extraction and analysis bind
// to as immutable snapshots.
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/notaflow/notaflow/internal/domain"
)

// MutationKind selects the registry operation.
type MutationKind string

const (
	MutationAdd    MutationKind = "add"
	MutationUpdate MutationKind = "update"
	MutationRemove MutationKind = "remove"
	MutationToggle MutationKind = "toggle"
)

// Mutation is one requested change to the tax configuration.
type Mutation struct {
	Kind        MutationKind
	Definition  domain.TaxDefinition // add, update
	Key         string               // remove, toggle
	Enabled     bool                 // toggle
	Author      string
	Description string
}

// Registry serializes access to the tax configuration file. Every successful
// Apply writes a timestamped backup of the prior revision, then commits the
// new revision through a temp-file rename, so a crash never leaves a
// half-written configuration visible.
type Registry struct {
	path      string
	backupDir string
	log       *slog.Logger

	mu      sync.RWMutex
	current domain.TaxSchema
}

// Open loads the registry from path, seeding the default configuration when
// no file exists yet.
func Open(path string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		path:      path,
		backupDir: filepath.Join(filepath.Dir(path), "backups"),
		log:       log,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.current = DefaultSchema()
		if err := r.persist(r.current); err != nil {
			return nil, fmt.Errorf("failed to seed tax schema: %w", err)
		}
		log.Info("seeded default tax schema", "path", path, "taxes", len(r.current.Taxes))
	case err != nil:
		return nil, fmt.Errorf("failed to read tax schema: %w", err)
	default:
		var schema domain.TaxSchema
		if err := yaml.Unmarshal(data, &schema); err != nil {
			return nil, fmt.Errorf("failed to parse tax schema: %w", err)
		}
		r.current = schema
	}
	return r, nil
}

// Snapshot returns the current schema revision. The returned value is a deep
// copy; mutations applied later never alter a snapshot already handed out.
func (r *Registry) Snapshot() domain.TaxSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSchema(r.current)
}

// Validate checks a candidate definition against the current configuration.
func (r *Registry) Validate(def domain.TaxDefinition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validateLocked(def, false)
}

func (r *Registry) validateLocked(def domain.TaxDefinition, allowExisting bool) error {
	key := strings.TrimSpace(def.Key)
	if key == "" {
		return &domain.SchemaError{Reason: "tax key must not be empty"}
	}
	if !allowExisting {
		if _, exists := r.current.Find(key); exists {
			return &domain.SchemaError{TaxKey: key, Reason: "duplicate tax key"}
		}
	}
	if len(def.SourcePaths) == 0 {
		return &domain.SchemaError{TaxKey: key, Reason: "at least one source path is required"}
	}
	for _, p := range def.SourcePaths {
		if strings.TrimSpace(p) == "" {
			return &domain.SchemaError{TaxKey: key, Reason: "source paths must not be blank"}
		}
	}
	if len(def.AppliesTo) == 0 {
		return &domain.SchemaError{TaxKey: key, Reason: "applies_to must name at least one document type"}
	}
	switch def.Jurisdiction {
	case domain.JurisdictionFederal, domain.JurisdictionState, domain.JurisdictionMunicipal:
	default:
		return &domain.SchemaError{TaxKey: key, Reason: fmt.Sprintf("unknown jurisdiction %q", def.Jurisdiction)}
	}
	return nil
}

// Apply validates and commits a mutation, returning the new revision. The
// previous revision is backed up before the commit; the new revision becomes
// visible to Snapshot only after the file rename succeeds.
func (r *Registry) Apply(m Mutation) (domain.TaxSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	change := domain.SchemaChange{Author: m.Author, Description: m.Description}
	var next domain.TaxSchema

	switch m.Kind {
	case MutationAdd:
		if err := r.validateLocked(m.Definition, false); err != nil {
			return domain.TaxSchema{}, err
		}
		if change.Description == "" {
			change.Description = fmt.Sprintf("add tax %s", m.Definition.Key)
		}
		next = r.current.WithTax(m.Definition, change)
	case MutationUpdate:
		if _, ok := r.current.Find(m.Definition.Key); !ok {
			return domain.TaxSchema{}, &domain.SchemaError{TaxKey: m.Definition.Key, Reason: "unknown tax key"}
		}
		if err := r.validateLocked(m.Definition, true); err != nil {
			return domain.TaxSchema{}, err
		}
		if change.Description == "" {
			change.Description = fmt.Sprintf("update tax %s", m.Definition.Key)
		}
		next = r.current.WithTax(m.Definition, change)
	case MutationRemove:
		if _, ok := r.current.Find(m.Key); !ok {
			return domain.TaxSchema{}, &domain.SchemaError{TaxKey: m.Key, Reason: "unknown tax key"}
		}
		if change.Description == "" {
			change.Description = fmt.Sprintf("remove tax %s", m.Key)
		}
		next = r.current.WithoutTax(m.Key, change)
	case MutationToggle:
		if _, ok := r.current.Find(m.Key); !ok {
			return domain.TaxSchema{}, &domain.SchemaError{TaxKey: m.Key, Reason: "unknown tax key"}
		}
		if change.Description == "" {
			change.Description = fmt.Sprintf("toggle tax %s enabled=%v", m.Key, m.Enabled)
		}
		next = r.current.WithToggled(m.Key, m.Enabled, change)
	default:
		return domain.TaxSchema{}, &domain.SchemaError{Reason: fmt.Sprintf("unknown mutation kind %q", m.Kind)}
	}

	if err := r.backupLocked(); err != nil {
		return domain.TaxSchema{}, fmt.Errorf("failed to back up tax schema: %w", err)
	}
	if err := r.persist(next); err != nil {
		return domain.TaxSchema{}, fmt.Errorf("failed to persist tax schema: %w", err)
	}
	r.current = next
	r.log.Info("tax schema updated",
		"revision", next.Revision,
		"mutation", string(m.Kind),
		"taxes", len(next.Taxes))
	return cloneSchema(next), nil
}

// backupLocked writes the current revision to the backup directory with a
// timestamped name. Called with the write lock held.
func (r *Registry) backupLocked() error {
	if err := os.MkdirAll(r.backupDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(r.current)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("tax_schema.rev%d.%s.yaml",
		r.current.Revision, time.Now().UTC().Format("20060102T150405"))
	return os.WriteFile(filepath.Join(r.backupDir, name), data, 0o644)
}

// persist writes the schema to a temp file in the target directory and
// renames it over the configuration path.
func (r *Registry) persist(schema domain.TaxSchema) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(schema)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".tax_schema-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, r.path)
}

// Backups lists the backup file names, oldest first.
func (r *Registry) Backups() ([]string, error) {
	entries, err := os.ReadDir(r.backupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func cloneSchema(s domain.TaxSchema) domain.TaxSchema {
	out := s
	if s.Taxes != nil {
		out.Taxes = make([]domain.TaxDefinition, len(s.Taxes))
		copy(out.Taxes, s.Taxes)
	}
	if s.History != nil {
		out.History = make([]domain.SchemaChange, len(s.History))
		copy(out.History, s.History)
	}
	return out
}
