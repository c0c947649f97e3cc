// Package render defines contract between the reading engine and an external
// renderer capable of laying out packaged hypertext documents. Engine never
// depends on a particular renderer, reference headless implementation lives in
// render/epubview.
package render

import (
	"context"
	"errors"

	"golang.org/x/net/html"
)

// ErrUnknownTarget is returned by Display when target does not point into the document.
var ErrUnknownTarget = errors.New("display target is not part of the document")

// Box is on-screen layout box in CSS pixels.
type Box struct {
	Width  float64
	Height float64
}

// Empty reports whether box has no area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Container is the on-screen area renderer draws into.
type Container interface {
	// ID identifies container, at most one live session may exist per ID.
	ID() string
	// Box returns current layout box, zero when container is not laid out yet.
	Box() Box
	// Clear removes everything previously rendered into container.
	Clear()
}

// Page is a single entry of the document reading order (spine).
type Page struct {
	Index int
	ID    string
	Href  string
	// Linear is false for pages marked as non-sequential (auxiliary) content.
	Linear bool
}

// TargetKind selects how Display interprets target value.
type TargetKind int

const (
	// TargetDefault lets renderer pick its own entry point.
	TargetDefault TargetKind = iota
	// TargetHref displays page by its document href.
	TargetHref
	// TargetCursor displays position token previously reported by renderer.
	TargetCursor
)

// Target is what Display should show.
type Target struct {
	Kind  TargetKind
	Value string
}

// Href returns target pointing at document page.
func Href(href string) Target {
	return Target{Kind: TargetHref, Value: href}
}

// Cursor returns target pointing at previously reported position.
func Cursor(cursor string) Target {
	return Target{Kind: TargetCursor, Value: cursor}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetHref:
		return "href:" + t.Value
	case TargetCursor:
		return "cursor:" + t.Value
	default:
		return "default"
	}
}

// EventKind enumerates renderer signals engine subscribes to.
type EventKind int

const (
	// EventRendered fires after renderer finished laying out content, every
	// time a new content DOM is produced.
	EventRendered EventKind = iota
	// EventRelocated fires when visible position changes.
	EventRelocated
	// EventClick fires on user click inside content.
	EventClick
)

func (k EventKind) String() string {
	switch k {
	case EventRendered:
		return "rendered"
	case EventRelocated:
		return "relocated"
	case EventClick:
		return "click"
	default:
		return "unknown"
	}
}

// Event is a renderer signal.
type Event struct {
	Kind EventKind
	Page Page
	// Cursor is set for relocated events.
	Cursor string
	// Content is the freshly rendered content DOM (rendered events).
	Content *html.Node
	// Node is the click target (click events).
	Node *html.Node

	prevented *bool
}

// NewClick returns click event which handlers may cancel.
func NewClick(page Page, node *html.Node) Event {
	return Event{Kind: EventClick, Page: page, Node: node, prevented: new(bool)}
}

// PreventDefault suppresses renderer default action for click events.
func (e Event) PreventDefault() {
	if e.prevented != nil {
		*e.prevented = true
	}
}

// DefaultPrevented reports whether any handler suppressed default action.
func (e Event) DefaultPrevented() bool {
	return e.prevented != nil && *e.prevented
}

// Theme is a set of colors applied through renderer styling hook.
type Theme struct {
	Name       string
	Background string
	Text       string
	Link       string
}

// Options are layout options renderer is created with.
type Options struct {
	Width    float64
	Height   float64
	FontSize int // percent
	Theme    string
}

// Source is what renderer should load. Exactly one of Payload and URI is set.
type Source struct {
	Payload []byte
	URI     string
}

// LocationIndex translates position tokens into fraction of document read.
type LocationIndex interface {
	// Fraction returns value in [0, 1], ok is false for tokens index does not know.
	Fraction(cursor string) (float64, bool)
	Len() int
}

// Renderer is one live renderer instance bound to a container.
type Renderer interface {
	// Spine returns document reading order.
	Spine() []Page
	// Subscribe registers handler for all signals, returned function unsubscribes.
	Subscribe(handler func(Event)) (unsubscribe func())
	RegisterTheme(t Theme)
	SelectTheme(name string) error
	SetFontSize(percent int)
	// Display shows target. Completion does not mean content is visible.
	Display(ctx context.Context, t Target) error
	// Resize re-lays out content for the new container size.
	Resize(width, height float64)
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	// Frame inspects content frame, ok is false when no frame exists.
	Frame() (Box, bool)
	// GenerateLocations builds location index, may take long time.
	GenerateLocations(ctx context.Context, chars int) (LocationIndex, error)
	Destroy()
}

// Engine creates renderers.
type Engine interface {
	Create(ctx context.Context, c Container, src Source, opts Options) (Renderer, error)
}
