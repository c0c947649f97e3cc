package epubview

import (
	"sync"

	"golang.org/x/net/html"

	"lectern/render"
)

// Surface is optionally implemented by containers which want to receive
// rendered content.
type Surface interface {
	Show(doc *html.Node, visible string)
}

// Headless is in-memory container. Its box may be changed at any time to
// imitate layout settling.
type Headless struct {
	id string

	mu      sync.Mutex
	box     render.Box
	doc     *html.Node
	visible string
}

// NewHeadless returns container with given initial size, zero size means not laid out yet.
func NewHeadless(id string, width, height float64) *Headless {
	return &Headless{id: id, box: render.Box{Width: width, Height: height}}
}

func (h *Headless) ID() string {
	return h.id
}

func (h *Headless) Box() render.Box {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.box
}

func (h *Headless) SetBox(width, height float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.box = render.Box{Width: width, Height: height}
}

func (h *Headless) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doc, h.visible = nil, ""
}

func (h *Headless) Show(doc *html.Node, visible string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doc, h.visible = doc, visible
}

// Visible returns text currently on screen.
func (h *Headless) Visible() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// Document returns DOM of the page currently shown.
func (h *Headless) Document() *html.Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc
}
