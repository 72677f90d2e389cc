package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"shotforge/internal/domain"
)

//go:embed models.yaml
var defaultModels []byte

// Shape distinguishes providers returning one result per task from providers
// returning a grid preview that must be fanned out.
type Shape string

const (
	ShapeFlat Shape = "flat"
	ShapeGrid Shape = "grid"
)

// Kind is the media type a model produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// GridSize is the number of addressable sub-results in a grid preview.
const GridSize = 4

const defaultAspectRatio = "16:9"

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"16:9": {},
	"9:16": {},
}

// Model describes what one model accepts.
type Model struct {
	ID                string   `yaml:"id" json:"id" validate:"required"`
	Provider          string   `yaml:"provider" json:"provider" validate:"required"`
	Kind              Kind     `yaml:"kind" json:"kind" validate:"oneof=image video"`
	Shape             Shape    `yaml:"shape" json:"shape" validate:"oneof=flat grid"`
	Quantities        []int    `yaml:"quantities" json:"quantities" validate:"min=1,dive,oneof=1 2 4"`
	DefaultQuantity   int      `yaml:"default_quantity" json:"default_quantity" validate:"oneof=1 2 4"`
	Resolutions       []string `yaml:"resolutions" json:"resolutions,omitempty"`
	DefaultResolution string   `yaml:"default_resolution" json:"default_resolution,omitempty"`
	Durations         []int    `yaml:"durations" json:"durations,omitempty" validate:"omitempty,dive,gt=0"`
	DefaultDuration   int      `yaml:"default_duration" json:"default_duration,omitempty"`
	SupportsReference bool     `yaml:"supports_reference" json:"supports_reference"`
}

// IsGrid reports whether results arrive as a grid preview.
func (m Model) IsGrid() bool { return m.Shape == ShapeGrid }

type file struct {
	Models []Model `yaml:"models" validate:"min=1,dive"`
}

// Catalog is an immutable lookup of model capabilities.
type Catalog struct {
	models map[string]Model
	order  []string
}

// Parse decodes a YAML capability table.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	c := &Catalog{models: make(map[string]Model, len(f.Models))}
	for _, m := range f.Models {
		key := strings.ToLower(m.ID)
		if _, dup := c.models[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate model %q", m.ID)
		}
		if !slices.Contains(m.Quantities, m.DefaultQuantity) {
			return nil, fmt.Errorf("catalog: model %q default quantity %d not allowed", m.ID, m.DefaultQuantity)
		}
		if m.DefaultResolution != "" && !slices.Contains(m.Resolutions, m.DefaultResolution) {
			return nil, fmt.Errorf("catalog: model %q default resolution %q not allowed", m.ID, m.DefaultResolution)
		}
		c.models[key] = m
		c.order = append(c.order, key)
	}
	return c, nil
}

// Load reads the table at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultModels)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded table.
func Default() *Catalog {
	c, err := Parse(defaultModels)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup finds a model by id, case-insensitively.
func (c *Catalog) Lookup(id string) (Model, bool) {
	m, ok := c.models[strings.ToLower(strings.TrimSpace(id))]
	return m, ok
}

// Models lists every model in declaration order.
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.models[key])
	}
	return out
}

// Normalize fills defaults on spec and checks it against the model's
// capabilities. Every rejection is a validation error.
func (c *Catalog) Normalize(spec domain.JobSpec) (domain.JobSpec, Model, error) {
	op := "normalize " + spec.ID
	m, ok := c.Lookup(spec.Model)
	if !ok {
		return spec, Model{}, domain.Errorf(domain.KindValidation, op, "unknown model %q", spec.Model)
	}
	spec.Model = m.ID
	spec.Prompt = strings.TrimSpace(spec.Prompt)
	if spec.Quantity <= 0 {
		spec.Quantity = m.DefaultQuantity
	}
	if spec.Resolution == "" {
		spec.Resolution = m.DefaultResolution
	}
	if spec.AspectRatio == "" {
		spec.AspectRatio = defaultAspectRatio
	}
	if m.Kind == KindVideo && spec.Duration == 0 {
		spec.Duration = m.DefaultDuration
	}

	if err := spec.Validate(); err != nil {
		return spec, m, err
	}
	if !slices.Contains(m.Quantities, spec.Quantity) {
		return spec, m, domain.Errorf(domain.KindValidation, op, "model %s does not support quantity %d", m.ID, spec.Quantity)
	}
	if len(m.Resolutions) > 0 && !slices.Contains(m.Resolutions, spec.Resolution) {
		return spec, m, domain.Errorf(domain.KindValidation, op, "model %s does not support resolution %s", m.ID, spec.Resolution)
	}
	if _, ok := allowedAspectRatios[spec.AspectRatio]; !ok {
		return spec, m, domain.Errorf(domain.KindValidation, op, "aspect_ratio must be one of 1:1, 4:3, 3:4, 16:9, 9:16")
	}
	switch {
	case m.Kind == KindVideo && !slices.Contains(m.Durations, spec.Duration):
		return spec, m, domain.Errorf(domain.KindValidation, op, "model %s does not support duration %ds", m.ID, spec.Duration)
	case m.Kind == KindImage && spec.Duration != 0:
		return spec, m, domain.Errorf(domain.KindValidation, op, "model %s does not take a duration", m.ID)
	}
	switch n := len(spec.ReferenceImages); {
	case n > 1:
		return spec, m, domain.Errorf(domain.KindValidation, op, "at most one reference image is accepted, got %d", n)
	case n == 1 && !m.SupportsReference:
		return spec, m, domain.Errorf(domain.KindValidation, op, "model %s does not support reference images", m.ID)
	}
	return spec, m, nil
}
