package simhost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cuongbtq/imgembed/internal/channel"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
)

// Document implements host.Document and host.DirectInserter
type Document struct {
	host *Host
	path string

	mu         sync.Mutex
	layers     []LayerSpec
	sheets     []host.Sheet
	defs       []host.Definition
	containers map[host.ContainerID][]*entity
	next       host.EntityID
	active     string
	subs       map[int]func(host.CommandEvent)
	nextSub    int
	unlocks    int
	closed     bool
}

func sheetContainer(name string) host.ContainerID {
	return host.ContainerID("sheet:" + strings.ToLower(name))
}

func definitionContainer(name string) host.ContainerID {
	return host.ContainerID("def:" + strings.ToLower(name))
}

func newDocument(h *Host, path string, d *Drawing) (*Document, error) {
	doc := &Document{
		host:       h,
		path:       path,
		layers:     append([]LayerSpec(nil), d.Layers...),
		containers: make(map[host.ContainerID][]*entity),
		subs:       make(map[int]func(host.CommandEvent)),
	}

	var maxID host.EntityID
	add := func(c host.ContainerID, specs []EntitySpec) error {
		for _, spec := range specs {
			e, err := newEntity(spec)
			if err != nil {
				return err
			}
			if e.id > maxID {
				maxID = e.id
			}
			doc.containers[c] = append(doc.containers[c], e)
		}
		return nil
	}

	for _, s := range d.Sheets {
		c := sheetContainer(s.Name)
		doc.sheets = append(doc.sheets, host.Sheet{Name: s.Name, Model: s.Model, Container: c})
		doc.containers[c] = nil
		if err := add(c, s.Entities); err != nil {
			return nil, err
		}
		if doc.active == "" && !s.Model {
			doc.active = s.Name
		}
	}

	for _, def := range d.Definitions {
		c := definitionContainer(def.Name)
		doc.defs = append(doc.defs, host.Definition{
			Name:      def.Name,
			Layout:    def.Layout,
			External:  def.External,
			Dependent: def.Dependent,
			Anonymous: def.Anonymous,
			Container: c,
		})
		doc.containers[c] = nil
		if err := add(c, def.Entities); err != nil {
			return nil, err
		}
	}

	doc.next = maxID + 1
	return doc, nil
}

func (d *Document) Path() string {
	return d.path
}

func (d *Document) Sheets(ctx context.Context) ([]host.Sheet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return append([]host.Sheet(nil), d.sheets...), nil
}

func (d *Document) Definitions(ctx context.Context) ([]host.Definition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return append([]host.Definition(nil), d.defs...), nil
}

func (d *Document) Entities(ctx context.Context, c host.ContainerID) ([]host.Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	list, ok := d.containers[c]
	if !ok {
		return nil, fmt.Errorf("unknown container %s", c)
	}

	out := make([]host.Entity, len(list))
	for i, e := range list {
		out[i] = e.snapshot()
	}
	return out, nil
}

// find returns the entity with id and its container. d.mu must be held.
func (d *Document) find(id host.EntityID) (*entity, host.ContainerID, bool) {
	for c, list := range d.containers {
		for _, e := range list {
			if e.id == id {
				return e, c, true
			}
		}
	}
	return nil, "", false
}

func (d *Document) Extents(ctx context.Context, id host.EntityID) (geometry.Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return geometry.Box{}, ErrClosed
	}

	e, _, ok := d.find(id)
	if !ok {
		return geometry.Box{}, fmt.Errorf("entity %s not found", id.Handle())
	}
	if e.pendingMeasures > 0 {
		e.pendingMeasures--
		return geometry.Box{}, fmt.Errorf("entity %s extents not available yet", id.Handle())
	}

	if e.kind != host.KindComponentRef {
		return e.box, nil
	}

	// component placements measure as their transformed definition content
	var bounds geometry.Box
	first := true
	for _, child := range d.containers[definitionContainer(e.definition)] {
		b := geometry.TransformBox(e.transform, child.box)
		if first {
			bounds, first = b, false
			continue
		}
		bounds = geometry.NewBox(
			geometry.Point{X: min(bounds.Min.X, b.Min.X), Y: min(bounds.Min.Y, b.Min.Y)},
			geometry.Point{X: max(bounds.Max.X, b.Max.X), Y: max(bounds.Max.Y, b.Max.Y)},
		)
	}
	if first {
		return geometry.Box{}, fmt.Errorf("component %s has no content", e.definition)
	}
	return bounds, nil
}

func (d *Document) TransformEntity(ctx context.Context, id host.EntityID, m geometry.Affine) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	e, _, ok := d.find(id)
	if !ok {
		return fmt.Errorf("entity %s not found", id.Handle())
	}

	e.box = geometry.TransformBox(m, e.box)
	if e.kind == host.KindComponentRef {
		e.transform = e.transform.Mul(m)
	}
	return nil
}

func (d *Document) layerLocked(name string) bool {
	for _, l := range d.layers {
		if strings.EqualFold(l.Name, name) {
			return l.Locked
		}
	}
	return false
}

func (d *Document) EraseEntities(ctx context.Context, ids []host.EntityID) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	erased := 0
	for _, id := range ids {
		e, c, ok := d.find(id)
		if !ok {
			continue
		}

		// locked layers are unlocked for the erase and locked again after
		if d.layerLocked(e.layer) {
			d.unlocks++
		}

		list := d.containers[c]
		for i, candidate := range list {
			if candidate == e {
				d.containers[c] = append(list[:i], list[i+1:]...)
				break
			}
		}
		erased++
	}
	return erased, nil
}

func (d *Document) ActivateSheet(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	for _, s := range d.sheets {
		if strings.EqualFold(s.Name, name) {
			d.active = s.Name
			return nil
		}
	}
	return fmt.Errorf("sheet %s not found", name)
}

func (d *Document) Execute(ctx context.Context, cmd host.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return d.host.enqueue(task{doc: d, cmd: cmd})
}

func (d *Document) Subscribe(fn func(host.CommandEvent)) host.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn

	return host.SubscriptionFunc(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	})
}

func (d *Document) emit(ev host.CommandEvent) {
	d.mu.Lock()
	subs := make([]func(host.CommandEvent), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// run executes cmd on the host goroutine
func (d *Document) run(cmd host.Command) {
	name := strings.TrimLeft(cmd.Name, "_.-")
	d.emit(host.CommandEvent{Kind: host.EventWillStart, Name: name})

	var err error
	switch {
	case cmd.Matches(host.CommandPaste):
		err = d.paste(cmd)
		if err == nil && d.host.opts.Faults.DropEndEvent {
			return
		}
	case cmd.Matches(host.CommandRegenAll):
	default:
		err = fmt.Errorf("unknown command %s", cmd.Name)
	}

	if err != nil {
		d.host.logger.Warn("Command failed",
			slog.String("command", cmd.String()),
			slog.String("error", err.Error()),
		)
		d.emit(host.CommandEvent{Kind: host.EventFailed, Name: name})
		return
	}
	d.emit(host.CommandEvent{Kind: host.EventEnded, Name: name})
}

func (d *Document) paste(cmd host.Command) error {
	if len(cmd.Args) == 0 {
		return fmt.Errorf("paste needs an insertion point")
	}

	opts := d.host.opts
	pt, err := host.ParsePoint(cmd.Args[0], opts.DecimalComma)
	if err != nil {
		return err
	}

	if opts.Source == nil {
		return fmt.Errorf("nothing to paste")
	}
	img, ok := opts.Source.Current()
	if !ok {
		return fmt.Errorf("nothing to paste")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	c := sheetContainer(d.active)
	if _, ok := d.containers[c]; !ok || d.active == "" {
		return fmt.Errorf("no active sheet")
	}

	scale := opts.UnitsPerPixel * opts.Faults.PasteScale
	origin := geometry.Point{X: pt.X + opts.Faults.PasteOffset.X, Y: pt.Y + opts.Faults.PasteOffset.Y}
	frame := &entity{
		id:        d.next,
		kind:      host.KindEmbeddedFrame,
		source:    img.Path,
		transform: geometry.Identity,
		box: geometry.Box{
			Min: origin,
			Max: geometry.Point{X: origin.X + float64(img.Width)*scale, Y: origin.Y + float64(img.Height)*scale},
		},
		pendingMeasures: opts.Faults.MeasureDelay,
	}
	d.next++
	d.containers[c] = append(d.containers[c], frame)

	if opts.Faults.AuxiliaryEntity {
		d.containers[c] = append(d.containers[c], &entity{
			id:        d.next,
			kind:      host.KindOther,
			transform: geometry.Identity,
			box:       frame.box,
		})
		d.next++
	}
	return nil
}

// InsertFromFile embeds the image at path so that it fills target
func (d *Document) InsertFromFile(ctx context.Context, sheet string, target geometry.Box, path string) (host.EntityID, error) {
	if _, err := channel.LoadImage(path); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	c := sheetContainer(sheet)
	if _, ok := d.containers[c]; !ok {
		return 0, fmt.Errorf("sheet %s not found", sheet)
	}

	e := &entity{
		id:        d.next,
		kind:      host.KindEmbeddedFrame,
		source:    path,
		transform: geometry.Identity,
		box:       target,
	}
	d.next++
	d.containers[c] = append(d.containers[c], e)
	return e.id, nil
}

func (d *Document) Regen(ctx context.Context) error {
	return ctx.Err()
}

// Drawing returns the current state in file form
func (d *Document) Drawing() *Drawing {
	d.mu.Lock()
	defer d.mu.Unlock()

	specs := func(c host.ContainerID) []EntitySpec {
		list := append([]*entity(nil), d.containers[c]...)
		sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
		out := make([]EntitySpec, len(list))
		for i, e := range list {
			out[i] = e.spec()
		}
		return out
	}

	out := &Drawing{Layers: append([]LayerSpec(nil), d.layers...)}
	for _, s := range d.sheets {
		out.Sheets = append(out.Sheets, SheetSpec{Name: s.Name, Model: s.Model, Entities: specs(s.Container)})
	}
	for _, def := range d.defs {
		out.Definitions = append(out.Definitions, DefinitionSpec{
			Name:      def.Name,
			Layout:    def.Layout,
			External:  def.External,
			Dependent: def.Dependent,
			Anonymous: def.Anonymous,
			Entities:  specs(def.Container),
		})
	}
	return out
}

func (d *Document) SaveAs(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return WriteDrawing(path, d.Drawing())
}

func (d *Document) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.subs = make(map[int]func(host.CommandEvent))
	return nil
}

// Subscribers counts registered command event callbacks
func (d *Document) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Unlocks counts erases that had to unlock a layer
func (d *Document) Unlocks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unlocks
}
