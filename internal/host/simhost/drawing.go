package simhost

import (
	"fmt"
	"os"

	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
	"gopkg.in/yaml.v3"
)

// Drawing is the on-disk form of a simulated document
type Drawing struct {
	Layers      []LayerSpec      `yaml:"layers,omitempty"`
	Sheets      []SheetSpec      `yaml:"sheets"`
	Definitions []DefinitionSpec `yaml:"definitions,omitempty"`
}

// LayerSpec describes a layer
type LayerSpec struct {
	Name   string `yaml:"name"`
	Locked bool   `yaml:"locked,omitempty"`
}

// SheetSpec describes a sheet and the entities placed on it
type SheetSpec struct {
	Name     string       `yaml:"name"`
	Model    bool         `yaml:"model,omitempty"`
	Entities []EntitySpec `yaml:"entities,omitempty"`
}

// DefinitionSpec describes a component definition
type DefinitionSpec struct {
	Name      string       `yaml:"name"`
	Layout    bool         `yaml:"layout,omitempty"`
	External  bool         `yaml:"external,omitempty"`
	Dependent bool         `yaml:"dependent,omitempty"`
	Anonymous bool         `yaml:"anonymous,omitempty"`
	Entities  []EntitySpec `yaml:"entities,omitempty"`
}

// EntitySpec describes one entity. Handle is the native hexadecimal id.
type EntitySpec struct {
	Handle     string         `yaml:"handle"`
	Kind       host.Kind      `yaml:"kind"`
	Layer      string         `yaml:"layer,omitempty"`
	Source     string         `yaml:"source,omitempty"`
	Definition string         `yaml:"definition,omitempty"`
	Transform  []float64      `yaml:"transform,omitempty,flow"`
	Min        geometry.Point `yaml:"min"`
	Max        geometry.Point `yaml:"max"`
}

// ReadDrawing loads a drawing file
func ReadDrawing(path string) (*Drawing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drawing: %w", err)
	}

	var d Drawing
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse drawing %s: %w", path, err)
	}
	return &d, nil
}

// WriteDrawing stores d at path
func WriteDrawing(path string, d *Drawing) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode drawing: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write drawing: %w", err)
	}
	return nil
}

// entity is the live form of an EntitySpec
type entity struct {
	id         host.EntityID
	kind       host.Kind
	layer      string
	source     string
	definition string
	transform  geometry.Affine
	box        geometry.Box
	// pendingMeasures is how many Extents calls still fail
	pendingMeasures int
}

func newEntity(spec EntitySpec) (*entity, error) {
	id, err := host.ParseHandle(spec.Handle)
	if err != nil {
		return nil, err
	}

	e := &entity{
		id:         id,
		kind:       spec.Kind,
		layer:      spec.Layer,
		source:     spec.Source,
		definition: spec.Definition,
		transform:  geometry.Identity,
		box:        geometry.NewBox(spec.Min, spec.Max),
	}
	if e.kind == "" {
		e.kind = host.KindOther
	}

	switch len(spec.Transform) {
	case 0:
	case 6:
		copy(e.transform[:], spec.Transform)
	default:
		return nil, fmt.Errorf("entity %s: transform needs 6 components, got %d", spec.Handle, len(spec.Transform))
	}
	return e, nil
}

func (e *entity) spec() EntitySpec {
	s := EntitySpec{
		Handle:     e.id.Handle(),
		Kind:       e.kind,
		Layer:      e.layer,
		Source:     e.source,
		Definition: e.definition,
		Min:        e.box.Min,
		Max:        e.box.Max,
	}
	if e.kind == host.KindComponentRef && e.transform != geometry.Identity {
		s.Transform = append([]float64(nil), e.transform[:]...)
	}
	return s
}

func (e *entity) snapshot() host.Entity {
	return host.Entity{
		ID:         e.id,
		Kind:       e.kind,
		SourceFile: e.source,
		Definition: e.definition,
		Transform:  e.transform,
	}
}
