// Package simhost is an in-memory drawing editor backed by YAML drawing
// files. It runs commands on its own goroutine, reports command lifecycle
// events and emits idle ticks the way an interactive editor does, and can
// inject the faults seen with real hosts.
package simhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/imgembed/internal/channel"
	"github.com/cuongbtq/imgembed/internal/geometry"
	"github.com/cuongbtq/imgembed/internal/host"
)

const queueSize = 16

// ErrClosed is returned by operations on a closed host or document
var ErrClosed = errors.New("simhost: closed")

// Faults are deliberate misbehaviours
type Faults struct {
	// DropEndEvent suppresses the terminal event of paste commands
	DropEndEvent bool
	// MeasureDelay makes that many Extents calls fail on a pasted entity
	MeasureDelay int
	// AuxiliaryEntity adds a newer non-frame entity after every paste
	AuxiliaryEntity bool
	// PasteOffset shifts pasted content away from the requested point
	PasteOffset geometry.Point
	// PasteScale multiplies the pasted size; 0 means 1
	PasteScale float64
	// CommandDelay is spent on the host goroutine before a command runs
	CommandDelay time.Duration
}

// Options configure a simulated host
type Options struct {
	IdleInterval time.Duration
	DecimalComma bool
	// Direct advertises synchronous insert-from-file instead of paste
	Direct bool
	// UnitsPerPixel converts pasted image pixels to drawing units
	UnitsPerPixel float64
	// Source is read by the paste command
	Source channel.Source
	Faults Faults
	Logger *slog.Logger
}

type task struct {
	doc *Document
	cmd host.Command
}

// Host implements host.Host
type Host struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	vars     map[string]string
	idleSubs map[int]func()
	nextSub  int
	pending  int

	queue     chan task
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a simulated host. Close stops it.
func New(opts Options) *Host {
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 20 * time.Millisecond
	}
	if opts.UnitsPerPixel <= 0 {
		opts.UnitsPerPixel = 1
	}
	if opts.Faults.PasteScale <= 0 {
		opts.Faults.PasteScale = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Host{
		opts:   opts,
		logger: opts.Logger,
		vars: map[string]string{
			"FILEDIA":    "1",
			"CMDDIA":     "1",
			"OLEHIDE":    "0",
			"OLEFRAME":   "2",
			"OLEQUALITY": "3",
		},
		idleSubs: make(map[int]func()),
		queue:    make(chan task, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go h.loop()
	return h
}

// Close stops the host goroutine
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
		<-h.done
	})
}

func (h *Host) loop() {
	defer close(h.done)

	ticker := time.NewTicker(h.opts.IdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return

		case t := <-h.queue:
			if h.opts.Faults.CommandDelay > 0 {
				time.Sleep(h.opts.Faults.CommandDelay)
			}
			t.doc.run(t.cmd)

			h.mu.Lock()
			h.pending--
			h.mu.Unlock()

		case <-ticker.C:
			h.fireIdle()
		}
	}
}

func (h *Host) fireIdle() {
	h.mu.Lock()
	subs := make([]func(), 0, len(h.idleSubs))
	for _, fn := range h.idleSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func (h *Host) enqueue(t task) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.stop:
		return ErrClosed
	default:
	}

	select {
	case h.queue <- t:
		h.pending++
		return nil
	default:
		return fmt.Errorf("command queue full")
	}
}

// Open loads a drawing file
func (h *Host) Open(ctx context.Context, path string) (host.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d, err := ReadDrawing(path)
	if err != nil {
		return nil, err
	}

	doc, err := newDocument(h, path, d)
	if err != nil {
		return nil, fmt.Errorf("failed to load drawing %s: %w", path, err)
	}

	h.logger.Debug("Drawing opened",
		slog.String("path", path),
		slog.Int("sheets", len(d.Sheets)),
		slog.Int("definitions", len(d.Definitions)),
	)
	return doc, nil
}

func (h *Host) Capabilities() host.Capabilities {
	caps := host.Capabilities{
		Insert:       host.InsertPaste,
		DecimalComma: h.opts.DecimalComma,
	}
	if h.opts.Direct {
		caps.Insert = host.InsertDirect
	}
	return caps
}

func (h *Host) Variable(name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.vars[strings.ToUpper(name)]
	if !ok {
		return "", fmt.Errorf("unknown variable %s", name)
	}
	return v, nil
}

func (h *Host) SetVariable(name, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := strings.ToUpper(name)
	if _, ok := h.vars[key]; !ok {
		return fmt.Errorf("unknown variable %s", name)
	}
	h.vars[key] = value
	return nil
}

func (h *Host) Quiescent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending == 0
}

func (h *Host) OnIdle(fn func()) host.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	h.idleSubs[id] = fn

	return host.SubscriptionFunc(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.idleSubs, id)
	})
}

// IdleSubscribers counts registered idle callbacks
func (h *Host) IdleSubscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.idleSubs)
}
