// Package watermark identifies entities created by an insert by comparing
// entity identifiers against the highest one seen before the insert.
package watermark

import (
	"context"
	"fmt"

	"github.com/cuongbtq/imgembed/internal/host"
)

// Lister enumerates a container's entities
type Lister interface {
	Entities(ctx context.Context, c host.ContainerID) ([]host.Entity, error)
}

// Capture returns the highest entity id currently in c, or 0 when c is empty
func Capture(ctx context.Context, l Lister, c host.ContainerID) (host.EntityID, error) {
	entities, err := l.Entities(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("failed to capture watermark: %w", err)
	}

	var best host.EntityID
	for _, e := range entities {
		if e.ID > best {
			best = e.ID
		}
	}
	return best, nil
}

// Newest scans entities once. It returns the highest-id entity of kind
// preferred above bound if there is one, else the highest-id entity of any
// kind above bound.
func Newest(entities []host.Entity, bound host.EntityID, preferred host.Kind) (host.Entity, bool) {
	var bestPreferred, bestAny host.Entity
	var havePreferred, haveAny bool

	for _, e := range entities {
		if e.ID <= bound {
			continue
		}
		if e.Kind == preferred && (!havePreferred || e.ID > bestPreferred.ID) {
			bestPreferred, havePreferred = e, true
		}
		if !haveAny || e.ID > bestAny.ID {
			bestAny, haveAny = e, true
		}
	}

	if havePreferred {
		return bestPreferred, true
	}
	return bestAny, haveAny
}

// FindNewest lists c and applies Newest
func FindNewest(ctx context.Context, l Lister, c host.ContainerID, bound host.EntityID, preferred host.Kind) (host.Entity, bool, error) {
	entities, err := l.Entities(ctx, c)
	if err != nil {
		return host.Entity{}, false, fmt.Errorf("failed to list entities: %w", err)
	}
	e, ok := Newest(entities, bound, preferred)
	return e, ok, nil
}
