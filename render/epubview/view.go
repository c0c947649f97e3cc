// Package epubview is headless reference renderer. It paginates spine documents
// by character count derived from container size and font scale, which is
// enough to drive the engine from command line and in tests.
package epubview

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"lectern/fetch"
	"lectern/render"
)

var (
	errDestroyed    = errors.New("renderer was destroyed")
	errNotDisplayed = errors.New("nothing is displayed yet")
)

// charArea is screen area in square pixels one character occupies at 100% font size.
const charArea = 8 * 24

// Engine creates headless renderers.
type Engine struct {
	fetcher   fetch.Fetcher
	tokenizer func() (*sentences.DefaultSentenceTokenizer, error)
	log       *zap.Logger
}

// New returns engine which uses fetcher to load sources given by URI.
func New(fetcher fetch.Fetcher, log *zap.Logger) *Engine {
	return &Engine{
		fetcher: fetcher,
		tokenizer: sync.OnceValues(func() (*sentences.DefaultSentenceTokenizer, error) {
			return english.NewSentenceTokenizer(nil)
		}),
		log: log.Named("epubview"),
	}
}

// Create parses source and binds new renderer to container. Nothing is shown
// until Display is called.
func (e *Engine) Create(ctx context.Context, c render.Container, src render.Source, opts render.Options) (render.Renderer, error) {
	data := src.Payload
	if len(data) == 0 {
		if len(src.URI) == 0 {
			return nil, errors.New("empty source")
		}
		var err error
		if data, err = e.fetcher.Fetch(ctx, src.URI); err != nil {
			return nil, fmt.Errorf("unable to load source: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := parseBook(data)
	if err != nil {
		return nil, err
	}

	box := render.Box{Width: opts.Width, Height: opts.Height}
	if box.Empty() {
		box = c.Box()
	}
	fontSize := opts.FontSize
	if fontSize <= 0 {
		fontSize = 100
	}
	e.log.Debug("Renderer created", zap.String("container", c.ID()), zap.String("title", b.title), zap.Int("pages", len(b.pages)))
	return &View{
		c:         c,
		book:      b,
		tokenizer: e.tokenizer,
		log:       e.log.With(zap.String("container", c.ID())),
		subs:      make(map[int]func(render.Event)),
		themes:    make(map[string]render.Theme),
		theme:     opts.Theme,
		fontSize:  fontSize,
		box:       box,
		page:      -1,
	}, nil
}

// View is a single headless renderer instance.
type View struct {
	c         render.Container
	book      *book
	tokenizer func() (*sentences.DefaultSentenceTokenizer, error)
	log       *zap.Logger

	mu        sync.Mutex
	subs      map[int]func(render.Event)
	nextSub   int
	themes    map[string]render.Theme
	theme     string
	fontSize  int
	box       render.Box
	page      int
	offset    int
	doc       *html.Node
	frame     render.Box
	hasFrame  bool
	destroyed bool
}

func (v *View) Spine() []render.Page {
	return slices.Clone(v.book.pages)
}

func (v *View) Subscribe(handler func(render.Event)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextSub
	v.nextSub++
	v.subs[id] = handler
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

func (v *View) RegisterTheme(t render.Theme) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.themes[t.Name] = t
}

func (v *View) SelectTheme(name string) error {
	v.mu.Lock()
	if _, ok := v.themes[name]; !ok {
		v.mu.Unlock()
		return fmt.Errorf("theme %q is not registered", name)
	}
	v.theme = name
	events := v.relayoutLocked()
	v.mu.Unlock()

	v.emit(events)
	return nil
}

func (v *View) SetFontSize(percent int) {
	if percent <= 0 {
		return
	}
	v.mu.Lock()
	v.fontSize = percent
	events := v.relayoutLocked()
	v.mu.Unlock()

	v.emit(events)
}

func (v *View) Display(ctx context.Context, t render.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return errDestroyed
	}
	page, offset, err := v.resolveLocked(t)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.page, v.offset = page, offset
	events, err := v.layoutLocked(true)
	v.mu.Unlock()
	if err != nil {
		return err
	}

	v.log.Debug("Displayed", zap.Stringer("target", t), zap.Int("page", page), zap.Int("offset", offset))
	v.emit(events)
	return nil
}

func (v *View) resolveLocked(t render.Target) (page, offset int, err error) {
	switch t.Kind {
	case render.TargetDefault:
		return v.book.firstLinear(), 0, nil
	case render.TargetHref:
		page, ok := v.book.pageByHref(t.Value)
		if !ok {
			return 0, 0, fmt.Errorf("%w: %s", render.ErrUnknownTarget, t)
		}
		return page, 0, nil
	case render.TargetCursor:
		page, offset, err := ParseCursor(t.Value)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", render.ErrUnknownTarget, err)
		}
		if page >= len(v.book.pages) {
			return 0, 0, fmt.Errorf("%w: %s", render.ErrUnknownTarget, t)
		}
		return page, min(offset, len([]rune(v.book.texts[page]))), nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", render.ErrUnknownTarget, t)
	}
}

func (v *View) Resize(width, height float64) {
	v.mu.Lock()
	v.box = render.Box{Width: width, Height: height}
	events := v.relayoutLocked()
	v.mu.Unlock()

	v.emit(events)
}

func (v *View) Next(ctx context.Context) error {
	return v.turn(ctx, 1)
}

func (v *View) Prev(ctx context.Context) error {
	return v.turn(ctx, -1)
}

func (v *View) turn(ctx context.Context, dir int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return errDestroyed
	}
	if v.page < 0 {
		v.mu.Unlock()
		return errNotDisplayed
	}

	per := v.perScreenLocked()
	length := len([]rune(v.book.texts[v.page]))
	rerender := false
	switch {
	case dir > 0 && v.offset+per < length:
		v.offset += per
	case dir < 0 && v.offset > 0:
		v.offset = max(0, v.offset-per)
	default:
		page, ok := v.book.nextLinear(v.page, dir)
		if !ok {
			// edge of the document
			v.mu.Unlock()
			return nil
		}
		v.page, v.offset, rerender = page, 0, true
		if dir < 0 {
			v.offset = lastScreen(len([]rune(v.book.texts[page])), per)
		}
	}
	events, err := v.layoutLocked(rerender)
	v.mu.Unlock()
	if err != nil {
		return err
	}

	v.emit(events)
	return nil
}

func (v *View) Frame() (render.Box, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame, v.hasFrame
}

func (v *View) GenerateLocations(ctx context.Context, chars int) (render.LocationIndex, error) {
	v.mu.Lock()
	destroyed := v.destroyed
	v.mu.Unlock()
	if destroyed {
		return nil, errDestroyed
	}

	tok, err := v.tokenizer()
	if err != nil {
		return nil, fmt.Errorf("unable to create sentence tokenizer: %w", err)
	}
	return buildLocations(ctx, tok, v.book, chars)
}

func (v *View) Destroy() {
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return
	}
	v.destroyed = true
	clear(v.subs)
	v.doc, v.hasFrame = nil, false
	v.mu.Unlock()

	v.c.Clear()
}

// Click delivers user click on node of the current content to subscribers,
// returns true when default action was suppressed.
func (v *View) Click(node *html.Node) bool {
	v.mu.Lock()
	if v.page < 0 || v.destroyed {
		v.mu.Unlock()
		return false
	}
	ev := render.NewClick(v.book.pages[v.page], node)
	v.mu.Unlock()

	v.emit([]render.Event{ev})
	return ev.DefaultPrevented()
}

// Content returns DOM of the page currently displayed.
func (v *View) Content() *html.Node {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.doc
}

func (v *View) perScreenLocked() int {
	scale := float64(v.fontSize) / 100
	return max(1, int(v.box.Width*v.box.Height/(charArea*scale*scale)))
}

func lastScreen(length, per int) int {
	if length == 0 {
		return 0
	}
	return (length - 1) / per * per
}

func (v *View) relayoutLocked() []render.Event {
	if v.page < 0 || v.destroyed {
		return nil
	}
	events, err := v.layoutLocked(true)
	if err != nil {
		v.log.Warn("Relayout failed", zap.Error(err))
		return nil
	}
	return events
}

// layoutLocked snaps offset to screen boundary and, when rerender is set,
// produces fresh content DOM. Returned events must be emitted after lock is
// released.
func (v *View) layoutLocked(rerender bool) ([]render.Event, error) {
	per := v.perScreenLocked()
	text := []rune(v.book.texts[v.page])
	v.offset = min(v.offset/per*per, lastScreen(len(text), per))

	page := v.book.pages[v.page]
	var events []render.Event
	if rerender || v.doc == nil {
		doc, err := v.book.document(v.page)
		if err != nil {
			return nil, fmt.Errorf("unable to render %q: %w", page.Href, err)
		}
		t, ok := v.themes[v.theme]
		injectStyle(doc, styleSheet(t, ok, v.fontSize))
		v.doc = doc
		events = append(events, render.Event{Kind: render.EventRendered, Page: page, Content: doc})
	}

	if box := v.c.Box(); !box.Empty() {
		v.frame, v.hasFrame = box, true
	}
	if s, ok := v.c.(Surface); ok {
		s.Show(v.doc, string(text[v.offset:min(len(text), v.offset+per)]))
	}

	events = append(events, render.Event{Kind: render.EventRelocated, Page: page, Cursor: FormatCursor(v.page, v.offset)})
	return events, nil
}

func (v *View) emit(events []render.Event) {
	if len(events) == 0 {
		return
	}
	v.mu.Lock()
	keys := slices.Sorted(maps.Keys(v.subs))
	handlers := make([]func(render.Event), 0, len(keys))
	for _, k := range keys {
		handlers = append(handlers, v.subs[k])
	}
	v.mu.Unlock()

	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}

func styleSheet(t render.Theme, themed bool, fontSize int) string {
	css := fmt.Sprintf("body { font-size: %d%%; }\n", fontSize)
	if themed {
		css += fmt.Sprintf("html, body { background: %s; color: %s; }\n", t.Background, t.Text)
		if len(t.Link) > 0 {
			css += fmt.Sprintf("a { color: %s; }\n", t.Link)
		}
	}
	return css
}

// injectStyle appends style element to document head.
func injectStyle(doc *html.Node, css string) {
	var head *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if head != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Head {
			head = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if head == nil {
		return
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "data-lectern", Val: "theme"}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	head.AppendChild(style)
}
