package domain

import (
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
)

// Occurrence is one image placement to embed
type Occurrence struct {
	FileName     string
	ResolvedPath string
	Sheet        string
	TargetMin    geometry.Point
	TargetMax    geometry.Point
	// EraseRef is the linked placement to remove once embedding succeeds.
	// Zero for images that live inside a component definition.
	EraseRef host.EntityID
}

// Target returns the sheet-space box the embedded copy must occupy
func (o Occurrence) Target() geometry.Box {
	return geometry.Box{Min: o.TargetMin, Max: o.TargetMax}
}

// Plan is the scan result for one document revision
type Plan struct {
	Occurrences []Occurrence
	// DefinitionImages are image entities inside component definitions,
	// erased once rather than per placement.
	DefinitionImages []host.EntityID
	// Missing counts image references whose file was not found
	Missing int
}

// EraseRefs returns every placeholder to remove when the whole plan
// succeeded, without duplicates.
func (p Plan) EraseRefs() []host.EntityID {
	seen := make(map[host.EntityID]bool)
	var ids []host.EntityID
	add := func(id host.EntityID) {
		if id == 0 || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, o := range p.Occurrences {
		add(o.EraseRef)
	}
	for _, id := range p.DefinitionImages {
		add(id)
	}
	return ids
}
