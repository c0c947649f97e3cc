// Package annotate decorates rendered content with reader annotations and
// routes clicks on them to a popup.
package annotate

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"lectern/catalog"
	"lectern/render"
)

const (
	// ClassName marks decorated elements.
	ClassName = "lectern-annotation"
	// AttrID carries annotation id on decorated elements.
	AttrID = "data-annotation-id"
)

// Popup shows annotation to the reader.
type Popup interface {
	Open(annotationID string)
}

// Overlay is re-applied to every freshly rendered content DOM.
type Overlay struct {
	annotations []catalog.Annotation
	popup       Popup
	log         *zap.Logger

	mu    sync.Mutex
	theme string
}

// New returns overlay for chapter annotations.
func New(annotations []catalog.Annotation, theme string, popup Popup, log *zap.Logger) *Overlay {
	return &Overlay{
		annotations: annotations,
		popup:       popup,
		theme:       theme,
		log:         log.Named("annotate"),
	}
}

// SetTheme changes colors used for subsequent Apply calls.
func (o *Overlay) SetTheme(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.theme = name
}

// Apply wraps first whole word occurrence of every annotation in root.
// Returns number of decorated annotations.
func (o *Overlay) Apply(root *html.Node) int {
	if root == nil {
		return 0
	}
	o.mu.Lock()
	theme := o.theme
	o.mu.Unlock()

	var count int
	for i := range o.annotations {
		a := &o.annotations[i]
		word := strings.TrimSpace(a.Word)
		if len(word) == 0 {
			o.log.Debug("Annotation has no anchor, skipping", zap.String("annotation", a.ID))
			continue
		}
		if find(root, func(n *html.Node) bool { return isDecoration(n) && attr(n, AttrID) == a.ID }) != nil {
			continue
		}
		if !o.decorate(root, a, word, theme) {
			o.log.Debug("Annotation anchor not found", zap.String("annotation", a.ID), zap.String("word", word))
			continue
		}
		count++
	}
	return count
}

// Click handles click event, returns true when it landed on decoration.
func (o *Overlay) Click(ev render.Event) bool {
	if ev.Kind != render.EventClick {
		return false
	}
	for n := ev.Node; n != nil; n = n.Parent {
		if !isDecoration(n) {
			continue
		}
		ev.PreventDefault()
		id := attr(n, AttrID)
		o.log.Debug("Annotation clicked", zap.String("annotation", id))
		if o.popup != nil {
			o.popup.Open(id)
		}
		return true
	}
	return false
}

func (o *Overlay) decorate(root *html.Node, a *catalog.Annotation, word, theme string) bool {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word))

	var (
		target *html.Node
		loc    []int
	)
	walkText(root, func(n *html.Node) bool {
		for _, m := range re.FindAllStringIndex(n.Data, -1) {
			if wholeWord(n.Data, m[0], m[1]) {
				target, loc = n, m
				return false
			}
		}
		return true
	})
	if target == nil {
		return false
	}

	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: ClassName},
			{Key: AttrID, Val: a.ID},
		},
	}
	if colors, ok := a.ColorsFor(theme); ok {
		span.Attr = append(span.Attr, html.Attribute{Key: "style", Val: "background-color: " + colors.Background + "; color: " + colors.Text})
	}

	text := target.Data
	span.AppendChild(&html.Node{Type: html.TextNode, Data: text[loc[0]:loc[1]]})

	parent := target.Parent
	if loc[0] > 0 {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[:loc[0]]}, target)
	}
	parent.InsertBefore(span, target)
	if loc[1] < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[loc[1]:]}, target)
	}
	parent.RemoveChild(target)
	return true
}

// walkText visits text nodes in document order, skipping non-content
// elements and existing decorations. Stops when visit returns false.
func walkText(n *html.Node, visit func(*html.Node) bool) bool {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Title:
			return true
		}
		if isDecoration(n) {
			return true
		}
	}
	if n.Type == html.TextNode {
		return visit(n)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if !walkText(c, visit) {
			return false
		}
		c = next
	}
	return true
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, match); f != nil {
			return f
		}
	}
	return nil
}

func isDecoration(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, class := range strings.Fields(attr(n, "class")) {
		if class == ClassName {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// wholeWord reports whether s[start:end] is not part of a longer word.
func wholeWord(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
