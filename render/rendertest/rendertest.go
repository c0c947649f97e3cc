// Package rendertest provides in-memory render.Engine, render.Renderer and
// render.Container implementations for tests.
package rendertest

import (
	"context"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"lectern/render"
)

// Pages builds linear spine out of hrefs, page id is href base name without extension.
func Pages(hrefs ...string) []render.Page {
	pages := make([]render.Page, 0, len(hrefs))
	for i, href := range hrefs {
		id := strings.TrimSuffix(path.Base(href), path.Ext(href))
		pages = append(pages, render.Page{Index: i, ID: id, Href: href, Linear: true})
	}
	return pages
}

// Container is a container with adjustable box.
type Container struct {
	mu     sync.Mutex
	id     string
	box    render.Box
	clears int
}

// NewContainer returns container with given box.
func NewContainer(id string, width, height float64) *Container {
	return &Container{id: id, box: render.Box{Width: width, Height: height}}
}

func (c *Container) ID() string { return c.id }

func (c *Container) Box() render.Box {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.box
}

func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
}

// SetBox changes container size.
func (c *Container) SetBox(width, height float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.box = render.Box{Width: width, Height: height}
}

// Clears returns how many times container was cleared.
func (c *Container) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// Renderer records calls. By default Display succeeds for spine hrefs and
// any cursor, nothing is emitted unless AutoRender is set.
type Renderer struct {
	// OnDisplay replaces default Display behaviour.
	OnDisplay func(ctx context.Context, t render.Target) error
	// AutoRender makes successful Display emit rendered and relocated events
	// and create content frame.
	AutoRender bool
	// Locations is returned by GenerateLocations, nil makes it fail.
	Locations render.LocationIndex
	// LocationsReady when set is waited for by GenerateLocations.
	LocationsReady chan struct{}

	mu        sync.Mutex
	pages     []render.Page
	handlers  map[int]func(render.Event)
	nextID    int
	themes    []render.Theme
	theme     string
	fontSize  int
	frame     *render.Box
	current   int
	destroyed bool
	displays  []render.Target
	resizes   []render.Box
	nexts     int
	prevs     int
}

// NewRenderer returns renderer over pages.
func NewRenderer(pages []render.Page) *Renderer {
	return &Renderer{pages: pages, handlers: make(map[int]func(render.Event)), fontSize: 100}
}

func (r *Renderer) Spine() []render.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pages)
}

func (r *Renderer) Subscribe(handler func(render.Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

func (r *Renderer) RegisterTheme(t render.Theme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.themes = append(r.themes, t)
}

func (r *Renderer) SelectTheme(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.ContainsFunc(r.themes, func(t render.Theme) bool { return t.Name == name }) {
		return fmt.Errorf("unknown theme %q", name)
	}
	r.theme = name
	return nil
}

func (r *Renderer) SetFontSize(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fontSize = percent
}

func (r *Renderer) Display(ctx context.Context, t render.Target) error {
	r.mu.Lock()
	r.displays = append(r.displays, t)
	hook := r.OnDisplay
	r.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, t); err != nil {
			return err
		}
	} else if err := r.defaultDisplay(t); err != nil {
		return err
	}

	r.mu.Lock()
	auto := r.AutoRender
	if auto {
		r.frame = &render.Box{Width: 100, Height: 100}
	}
	page := r.pageLocked()
	r.mu.Unlock()

	if auto {
		r.Emit(render.Event{Kind: render.EventRendered, Page: page, Content: Content("<p>Rendered " + page.Href + "</p>")})
		r.Emit(render.Event{Kind: render.EventRelocated, Page: page, Cursor: Cursor(page.Index, 0)})
	}
	return nil
}

func (r *Renderer) defaultDisplay(t render.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch t.Kind {
	case render.TargetHref:
		i := slices.IndexFunc(r.pages, func(p render.Page) bool { return p.Href == t.Value })
		if i < 0 {
			return render.ErrUnknownTarget
		}
		r.current = i
	case render.TargetCursor:
		var page, offset int
		if _, err := fmt.Sscanf(t.Value, "page:%d:%d", &page, &offset); err != nil || page < 0 || page >= len(r.pages) {
			return render.ErrUnknownTarget
		}
		r.current = page
	default:
		r.current = 0
	}
	return nil
}

func (r *Renderer) pageLocked() render.Page {
	if r.current < len(r.pages) {
		return r.pages[r.current]
	}
	return render.Page{}
}

func (r *Renderer) Resize(width, height float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizes = append(r.resizes, render.Box{Width: width, Height: height})
}

func (r *Renderer) Next(ctx context.Context) error {
	r.mu.Lock()
	r.nexts++
	if r.current+1 < len(r.pages) {
		r.current++
	}
	page := r.pageLocked()
	r.mu.Unlock()
	r.Emit(render.Event{Kind: render.EventRelocated, Page: page, Cursor: Cursor(page.Index, 0)})
	return nil
}

func (r *Renderer) Prev(ctx context.Context) error {
	r.mu.Lock()
	r.prevs++
	if r.current > 0 {
		r.current--
	}
	page := r.pageLocked()
	r.mu.Unlock()
	r.Emit(render.Event{Kind: render.EventRelocated, Page: page, Cursor: Cursor(page.Index, 0)})
	return nil
}

func (r *Renderer) Frame() (render.Box, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return render.Box{}, false
	}
	return *r.frame, true
}

func (r *Renderer) GenerateLocations(ctx context.Context, chars int) (render.LocationIndex, error) {
	if r.LocationsReady != nil {
		select {
		case <-r.LocationsReady:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Locations == nil {
		return nil, fmt.Errorf("locations are not available")
	}
	return r.Locations, nil
}

func (r *Renderer) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = true
	clear(r.handlers)
}

// Emit delivers event to subscribed handlers.
func (r *Renderer) Emit(ev render.Event) {
	r.mu.Lock()
	handlers := make([]func(render.Event), 0, len(r.handlers))
	for _, id := range slices.Sorted(maps.Keys(r.handlers)) {
		handlers = append(handlers, r.handlers[id])
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// SetFrame sets or removes (nil) content frame.
func (r *Renderer) SetFrame(b *render.Box) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frame = b
}

// Displays returns targets Display was called with.
func (r *Renderer) Displays() []render.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.displays)
}

// Resizes returns sizes Resize was called with.
func (r *Renderer) Resizes() []render.Box {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.resizes)
}

// Turns returns number of Next and Prev calls.
func (r *Renderer) Turns() (next, prev int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nexts, r.prevs
}

// Theme returns selected theme name.
func (r *Renderer) Theme() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.theme
}

// Themes returns registered theme names.
func (r *Renderer) Themes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.themes))
	for _, t := range r.themes {
		names = append(names, t.Name)
	}
	return names
}

// FontSize returns current font size.
func (r *Renderer) FontSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fontSize
}

// Destroyed reports whether Destroy was called.
func (r *Renderer) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Subscribers returns number of subscribed handlers.
func (r *Renderer) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Engine creates Renderers.
type Engine struct {
	// NewRenderer builds renderer for source, default one has single page spine.
	NewRenderer func(src render.Source) (*Renderer, error)

	mu        sync.Mutex
	sources   []render.Source
	renderers []*Renderer
}

func (e *Engine) Create(ctx context.Context, c render.Container, src render.Source, opts render.Options) (render.Renderer, error) {
	e.mu.Lock()
	e.sources = append(e.sources, src)
	build := e.NewRenderer
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		r   *Renderer
		err error
	)
	if build != nil {
		r, err = build(src)
	} else {
		r = NewRenderer(Pages("text/chapter.xhtml"))
	}
	if err != nil {
		return nil, err
	}
	r.SetFontSize(opts.FontSize)

	e.mu.Lock()
	e.renderers = append(e.renderers, r)
	e.mu.Unlock()
	return r, nil
}

// Sources returns sources Create was called with.
func (e *Engine) Sources() []render.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.sources)
}

// Renderers returns renderers created so far.
func (e *Engine) Renderers() []*Renderer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.renderers)
}

// Cursor returns cursor token Renderer reports for position.
func Cursor(page, offset int) string {
	return fmt.Sprintf("page:%d:%d", page, offset)
}

// Content parses HTML fragment into body element.
func Content(fragment string) *html.Node {
	doc, err := html.Parse(strings.NewReader("<html><head></head><body>" + fragment + "</body></html>"))
	if err != nil {
		panic(err)
	}
	return doc
}

// Locations is a LocationIndex over fixed cursor list.
type Locations []string

func (l Locations) Fraction(cursor string) (float64, bool) {
	i := slices.Index(l, cursor)
	if i < 0 {
		return 0, false
	}
	if len(l) == 1 {
		return 1, true
	}
	return float64(i) / float64(len(l)-1), true
}

func (l Locations) Len() int { return len(l) }
