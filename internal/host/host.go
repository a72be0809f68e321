// Package host defines the adapter surface the engine needs from a drawing
// editor: document reads, entity transforms, asynchronous command execution
// with lifecycle events, and idle (quiescence) notifications.
package host

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuongbtq/imgembed/internal/geometry"
)

// EntityID is a host entity identifier. Hosts hand out identifiers in
// increasing order, so a newer entity always has a larger id.
type EntityID uint64

// ParseHandle parses a native hexadecimal handle such as "2A7F"
func ParseHandle(handle string) (EntityID, error) {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	if h == "" {
		return 0, fmt.Errorf("empty handle")
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", handle, err)
	}
	return EntityID(v), nil
}

// Handle formats id in the native hexadecimal form
func (id EntityID) Handle() string {
	return strings.ToUpper(strconv.FormatUint(uint64(id), 16))
}

// Kind classifies entities
type Kind string

const (
	KindRasterImage   Kind = "RasterImage"
	KindEmbeddedFrame Kind = "Ole2Frame"
	KindComponentRef  Kind = "BlockReference"
	KindOther         Kind = "Entity"
)

// ContainerID names an entity container: a sheet's space or a component
// definition.
type ContainerID string

// Entity is a read-only snapshot of one entity
type Entity struct {
	ID   EntityID
	Kind Kind
	// SourceFile is the linked file as stored by the host (raster images)
	SourceFile string
	// Definition and Transform describe a component placement
	Definition string
	Transform  geometry.Affine
}

// Sheet is a layout
type Sheet struct {
	Name      string
	Model     bool
	Container ContainerID
}

// Definition is a reusable component definition
type Definition struct {
	Name      string
	Layout    bool
	External  bool
	Dependent bool
	Anonymous bool
	Container ContainerID
}

// InsertMode is the insertion capability a host exposes
type InsertMode int

const (
	// InsertPaste inserts asynchronously from the insertion channel via a
	// command, reporting completion through command events.
	InsertPaste InsertMode = iota
	// InsertDirect inserts synchronously from a file path (DirectInserter).
	InsertDirect
)

func (m InsertMode) String() string {
	switch m {
	case InsertPaste:
		return "paste"
	case InsertDirect:
		return "direct"
	default:
		return fmt.Sprintf("InsertMode(%d)", int(m))
	}
}

// Capabilities are read once per run
type Capabilities struct {
	Insert InsertMode
	// DecimalComma is set when the host parses numbers with ',' as decimal
	// separator; point input then uses ';' between coordinates.
	DecimalComma bool
}

// Subscription is returned by event registrations
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription
type SubscriptionFunc func()

// Unsubscribe calls f
func (f SubscriptionFunc) Unsubscribe() { f() }

// Host is the editor application
type Host interface {
	Open(ctx context.Context, path string) (Document, error)
	Capabilities() Capabilities
	Variable(name string) (string, error)
	SetVariable(name, value string) error
	// Quiescent reports whether the host is idle and accepts a new command
	Quiescent() bool
	// OnIdle registers fn to be called on every host idle tick. fn runs on
	// the host's thread and must not block.
	OnIdle(fn func()) Subscription
}

// Document is one open drawing
type Document interface {
	Path() string
	Sheets(ctx context.Context) ([]Sheet, error)
	Definitions(ctx context.Context) ([]Definition, error)
	Entities(ctx context.Context, c ContainerID) ([]Entity, error)
	// Extents returns the current bounding box of an entity, or an error
	// when it cannot be measured yet.
	Extents(ctx context.Context, id EntityID) (geometry.Box, error)
	TransformEntity(ctx context.Context, id EntityID, m geometry.Affine) error
	// EraseEntities erases the given entities, unlocking and relocking
	// their layers as needed. It returns the number erased.
	EraseEntities(ctx context.Context, ids []EntityID) (int, error)
	ActivateSheet(ctx context.Context, name string) error
	// Execute submits a command and returns without waiting for it. The
	// outcome is reported through Subscribe.
	Execute(ctx context.Context, cmd Command) error
	// Subscribe registers fn for command lifecycle events. fn runs on the
	// host's thread and must not block.
	Subscribe(fn func(CommandEvent)) Subscription
	Regen(ctx context.Context) error
	SaveAs(ctx context.Context, path string) error
	// Close closes the document discarding unsaved changes
	Close(ctx context.Context) error
}

// DirectInserter is implemented by documents of hosts with InsertDirect
type DirectInserter interface {
	InsertFromFile(ctx context.Context, sheet string, target geometry.Box, path string) (EntityID, error)
}
