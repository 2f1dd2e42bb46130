// Package entitymodel describes the record collections the service manages:
// their permission domain, relations, cascades and numbering. The catalog is
// derived from the domain tables at runtime and fingerprinted so operators can
// tell whether two builds agree on the model.
package entitymodel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

// Entity is one collection in the catalog.
type Entity struct {
	Name   string                  `json:"name" yaml:"name"`
	Domain domain.PermissionDomain `json:"domain" yaml:"domain"`
	// Relation is set for collections linked through relatedToId/relatedToType.
	Relation      bool   `json:"relation,omitempty" yaml:"relation,omitempty"`
	CascadeParent bool   `json:"cascadeParent,omitempty" yaml:"cascadeParent,omitempty"`
	NumberField   string `json:"numberField,omitempty" yaml:"numberField,omitempty"`
	NumberPrefix  string `json:"numberPrefix,omitempty" yaml:"numberPrefix,omitempty"`
}

// Model is the full catalog plus its fingerprint.
type Model struct {
	Version  string   `json:"version" yaml:"version"`
	Entities []Entity `json:"entities" yaml:"entities"`
}

// Catalog lists every collection in domain order.
func Catalog() []Entity {
	relations := make(map[domain.EntityType]struct{})
	for _, t := range domain.RelationTypes() {
		relations[t] = struct{}{}
	}
	numbering := domain.DefaultNumbering()

	out := make([]Entity, 0, len(domain.EntityTypes()))
	for _, t := range domain.EntityTypes() {
		_, rel := relations[t]
		e := Entity{
			Name:          string(t),
			Domain:        domain.DomainFor(t),
			Relation:      rel,
			CascadeParent: core.IsCascadeParent(t),
		}
		if kind, ok := domain.DocumentKindFor(t); ok {
			e.NumberField = kind.NumberField()
			e.NumberPrefix = numbering[kind].Prefix
		}
		out = append(out, e)
	}
	return out
}

// Version returns a short fingerprint of the catalog. It changes whenever a
// collection, domain, relation or numbering field changes.
func Version() string {
	data, err := json.Marshal(Catalog())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

// Describe returns the catalog with its version.
func Describe() Model {
	return Model{Version: Version(), Entities: Catalog()}
}

// YAML renders the model document.
func YAML() ([]byte, error) {
	return yaml.Marshal(Describe())
}
