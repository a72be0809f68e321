package host

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/imgembed/internal/geometry"
)

// Command names understood by hosts
const (
	CommandPaste    = "_.PASTECLIP"
	CommandRegenAll = "_.REGENALL"
)

// Command is a named host command with its prompt answers
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Matches reports whether a command event name refers to c. Hosts report
// global names without the "_." prefix.
func (c Command) Matches(eventName string) bool {
	want := strings.ToUpper(strings.TrimLeft(c.Name, "_.-"))
	return strings.Contains(strings.ToUpper(eventName), want)
}

// PasteCommand builds the channel-consuming insert at point p
func PasteCommand(p geometry.Point, caps Capabilities) Command {
	return Command{Name: CommandPaste, Args: []string{FormatPoint(p, caps.DecimalComma)}}
}

// FormatPoint formats p as point input. Comma-decimal hosts expect "X;Y".
func FormatPoint(p geometry.Point, decimalComma bool) string {
	x := strconv.FormatFloat(p.X, 'f', -1, 64)
	y := strconv.FormatFloat(p.Y, 'f', -1, 64)
	if decimalComma {
		return strings.ReplaceAll(x, ".", ",") + ";" + strings.ReplaceAll(y, ".", ",")
	}
	return x + "," + y
}

// ParsePoint is the inverse of FormatPoint
func ParsePoint(s string, decimalComma bool) (geometry.Point, error) {
	sep := ","
	if decimalComma {
		sep = ";"
	}

	xs, ys, ok := strings.Cut(strings.TrimSpace(s), sep)
	if !ok {
		return geometry.Point{}, fmt.Errorf("invalid point %q", s)
	}
	if decimalComma {
		xs = strings.ReplaceAll(xs, ",", ".")
		ys = strings.ReplaceAll(ys, ",", ".")
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return geometry.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return geometry.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return geometry.Point{X: x, Y: y}, nil
}

// EventKind is a command lifecycle phase
type EventKind int

const (
	EventWillStart EventKind = iota
	EventEnded
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventWillStart:
		return "will-start"
	case EventEnded:
		return "ended"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Terminal reports whether the command is over. Cancellation and failure
// count as ended.
func (k EventKind) Terminal() bool {
	return k == EventEnded || k == EventCancelled || k == EventFailed
}

// CommandEvent is a command lifecycle notification
type CommandEvent struct {
	Kind EventKind
	Name string
}

// AwaitQuiescent blocks until h reports quiescence on an idle tick, ctx is
// done, or timeout elapses.
func AwaitQuiescent(ctx context.Context, h Host, timeout time.Duration) error {
	if h.Quiescent() {
		return nil
	}

	ready := make(chan struct{}, 1)
	sub := h.OnIdle(func() {
		if h.Quiescent() {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("host not quiescent after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
