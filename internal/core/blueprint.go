package core

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"crmcore/pkg/domain"
)

//go:embed blueprints/*.yaml
var bundledBlueprints embed.FS

// BlueprintRegistry holds the industry bundles a tenant can select.
type BlueprintRegistry struct {
	mu         sync.RWMutex
	blueprints map[string]domain.Blueprint
}

// NewBlueprintRegistry returns an empty registry.
func NewBlueprintRegistry() *BlueprintRegistry {
	return &BlueprintRegistry{blueprints: make(map[string]domain.Blueprint)}
}

// ParseBlueprint decodes a YAML bundle and validates it.
func ParseBlueprint(data []byte) (domain.Blueprint, error) {
	var bp domain.Blueprint
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&bp); err != nil {
		return domain.Blueprint{}, fmt.Errorf("decode blueprint: %w", err)
	}
	if err := validateBlueprint(bp); err != nil {
		return domain.Blueprint{}, err
	}
	return bp, nil
}

func validateBlueprint(bp domain.Blueprint) error {
	if strings.TrimSpace(bp.Industry) == "" {
		return fmt.Errorf("blueprint industry is required")
	}
	pipeline, ok := bp.SalesPipeline()
	if !ok {
		return fmt.Errorf("blueprint %s: at least one pipeline is required", bp.Industry)
	}
	if _, ok := pipeline.FirstStage(); !ok {
		return fmt.Errorf("blueprint %s: pipeline %s has no stages", bp.Industry, pipeline.ID)
	}
	seen := make(map[string]struct{}, len(bp.CustomEntities))
	for _, def := range bp.CustomEntities {
		if def.Name == "" {
			return fmt.Errorf("blueprint %s: custom entity name is required", bp.Industry)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("blueprint %s: duplicate custom entity %s", bp.Industry, def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	for t := range bp.CustomFields {
		if !t.Valid() {
			return fmt.Errorf("blueprint %s: custom fields on unknown entity %q", bp.Industry, t)
		}
	}
	return nil
}

// Register adds a blueprint. Industries are unique.
func (r *BlueprintRegistry) Register(bp domain.Blueprint) error {
	if err := validateBlueprint(bp); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blueprints[bp.Industry]; exists {
		return fmt.Errorf("blueprint %s already registered", bp.Industry)
	}
	r.blueprints[bp.Industry] = bp
	return nil
}

// Get returns the blueprint of industry.
func (r *BlueprintRegistry) Get(industry string) (domain.Blueprint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.blueprints[industry]
	return bp, ok
}

// Industries lists the registered industries.
func (r *BlueprintRegistry) Industries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.blueprints))
	for industry := range r.blueprints {
		out = append(out, industry)
	}
	sort.Strings(out)
	return out
}

// Resolve selects the blueprint for settings, falling back to the default
// industry when the configured one is not registered.
func (r *BlueprintRegistry) Resolve(settings domain.Settings) domain.Blueprint {
	if bp, ok := r.Get(settings.Industry()); ok {
		return bp
	}
	bp, _ := r.Get(domain.DefaultIndustry)
	return bp
}

// DefaultBlueprints loads the bundles embedded in the binary.
func DefaultBlueprints() (*BlueprintRegistry, error) {
	reg := NewBlueprintRegistry()
	files, err := fs.Glob(bundledBlueprints, "blueprints/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		data, err := bundledBlueprints.ReadFile(name)
		if err != nil {
			return nil, err
		}
		bp, err := ParseBlueprint(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := reg.Register(bp); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// MustDefaultBlueprints is DefaultBlueprints for package initialization; the
// embedded bundles are covered by tests.
func MustDefaultBlueprints() *BlueprintRegistry {
	reg, err := DefaultBlueprints()
	if err != nil {
		panic(err)
	}
	return reg
}

// GetActiveBlueprint returns the blueprint selected by the stored settings.
func (s *Service) GetActiveBlueprint() domain.Blueprint {
	return s.blueprints.Resolve(s.store.Settings())
}

// Settings returns the stored tenant settings.
func (s *Service) Settings() domain.Settings {
	return s.store.Settings()
}

// SetActiveIndustry switches the active blueprint. Records of custom
// entities defined by other blueprints are left untouched.
func (s *Service) SetActiveIndustry(ctx context.Context, industry string) OpResult {
	if _, ok := s.blueprints.Get(industry); !ok {
		return OpResult{Error: fmt.Sprintf("unknown industry %q", industry)}
	}
	if !s.allowed(domain.EntityIndustryTemplates, domain.PermEdit) {
		return opResult(ErrForbidden)
	}
	_, err := s.run(ctx, "set_industry", func(tx domain.Transaction) error {
		settings := tx.Snapshot().Settings()
		settings.ActiveIndustry = industry
		tx.SetSettings(settings)
		return nil
	})
	return opResult(err)
}

// salesStage returns the first stage of the active sales pipeline.
func (s *Service) salesStage(settings domain.Settings) (domain.Pipeline, domain.PipelineStage) {
	pipeline, _ := s.blueprints.Resolve(settings).SalesPipeline()
	stage, _ := pipeline.FirstStage()
	return pipeline, stage
}

// UpsertCustomEntity creates or merges a record of a tenant-defined entity.
func (s *Service) UpsertCustomEntity(ctx context.Context, name string, data Record) (Record, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, false
	}
	var out Record
	_, err := s.run(ctx, "upsert_custom", func(tx domain.Transaction) error {
		_, exists := tx.FindCustom(name, data.ID)
		action := domain.PermCreate
		if exists && data.ID != "" {
			action = domain.PermEdit
		}
		if !s.allowed(domain.EntityIndustryTemplates, action) {
			return ErrForbidden
		}
		rec := data.Clone()
		rec.CreatedBy = s.Actor().ID
		saved, created, err := tx.UpsertCustom(name, rec)
		if err != nil {
			return err
		}
		out = saved
		if created {
			_, err = tx.AppendAudit(s.auditEntry(EntityType(name), saved.ID, domain.AuditCreated, nil, map[string]any{"custom": true}))
		}
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("entity", name).Msg("custom upsert rejected")
		return Record{}, false
	}
	return out, true
}

// DeleteCustomEntity removes a custom-entity record and audits the removal.
func (s *Service) DeleteCustomEntity(ctx context.Context, name, id string) bool {
	if !s.allowed(domain.EntityIndustryTemplates, domain.PermDelete) {
		return false
	}
	_, err := s.run(ctx, "delete_custom", func(tx domain.Transaction) error {
		if err := tx.DeleteCustom(name, id); err != nil {
			return err
		}
		_, err := tx.AppendAudit(s.auditEntry(EntityType(name), id, domain.AuditDeleted, nil, map[string]any{"custom": true}))
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("entity", name).Str("id", id).Msg("custom delete rejected")
		return false
	}
	return true
}

// ListCustomEntities returns the records of a custom entity.
func (s *Service) ListCustomEntities(name string) []Record {
	return s.store.ListCustom(name)
}
