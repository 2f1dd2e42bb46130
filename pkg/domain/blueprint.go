package domain

// DefaultIndustry is used when no industry is configured.
const DefaultIndustry = "general"

// PipelineStage is one step of a sales pipeline.
type PipelineStage struct {
	Name        string `json:"name" yaml:"name"`
	Probability int    `json:"probability" yaml:"probability"`
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	ID     string          `json:"id" yaml:"id"`
	Name   string          `json:"name" yaml:"name"`
	Stages []PipelineStage `json:"stages" yaml:"stages"`
}

// FirstStage returns the entry stage of the pipeline.
func (p Pipeline) FirstStage() (PipelineStage, bool) {
	if len(p.Stages) == 0 {
		return PipelineStage{}, false
	}
	return p.Stages[0], true
}

// Stage finds a stage by name.
func (p Pipeline) Stage(name string) (PipelineStage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return PipelineStage{}, false
}

// CustomFieldDef describes a field of a tenant-defined entity.
type CustomFieldDef struct {
	Name     string   `json:"name" yaml:"name"`
	Label    string   `json:"label,omitempty" yaml:"label"`
	Type     string   `json:"type" yaml:"type"`
	Required bool     `json:"required,omitempty" yaml:"required"`
	Options  []string `json:"options,omitempty" yaml:"options"`
}

// CustomEntityDef describes a tenant-defined entity.
type CustomEntityDef struct {
	Name   string           `json:"name" yaml:"name"`
	Label  string           `json:"label" yaml:"label"`
	Fields []CustomFieldDef `json:"fields" yaml:"fields"`
}

// Blueprint is an industry bundle of pipelines, custom entities and extra
// fields on built-in entities.
type Blueprint struct {
	Industry        string                          `json:"industry" yaml:"industry"`
	Name            string                          `json:"name" yaml:"name"`
	Version         string                          `json:"version" yaml:"version"`
	DefaultPipeline string                          `json:"defaultPipeline" yaml:"defaultPipeline"`
	Pipelines       []Pipeline                      `json:"pipelines" yaml:"pipelines"`
	CustomEntities  []CustomEntityDef               `json:"customEntities" yaml:"customEntities"`
	CustomFields    map[EntityType][]CustomFieldDef `json:"customFields,omitempty" yaml:"customFields"`
}

// SalesPipeline returns the default pipeline, falling back to the first one.
func (b Blueprint) SalesPipeline() (Pipeline, bool) {
	for _, p := range b.Pipelines {
		if p.ID == b.DefaultPipeline {
			return p, true
		}
	}
	if len(b.Pipelines) > 0 {
		return b.Pipelines[0], true
	}
	return Pipeline{}, false
}

// CustomEntity finds a custom entity definition by name.
func (b Blueprint) CustomEntity(name string) (CustomEntityDef, bool) {
	for _, def := range b.CustomEntities {
		if def.Name == name {
			return def, true
		}
	}
	return CustomEntityDef{}, false
}

// Settings is tenant configuration persisted with the records.
type Settings struct {
	ActiveIndustry string `json:"activeIndustry"`
	CompanyName    string `json:"companyName,omitempty"`
	Currency       string `json:"currency,omitempty"`
}

// Industry returns the active industry or the default.
func (s Settings) Industry() string {
	if s.ActiveIndustry == "" {
		return DefaultIndustry
	}
	return s.ActiveIndustry
}
