package annotate

import (
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"lectern/catalog"
	"lectern/render"
	"lectern/render/rendertest"
)

type popupRecorder struct {
	opened []string
}

func (p *popupRecorder) Open(id string) { p.opened = append(p.opened, id) }

var whale = catalog.Annotation{
	ID:   "a-1",
	Word: "whale",
	Colors: []catalog.Colors{
		{Theme: "light", Background: "#fff3a0", Text: "#1b1b1b"},
		{Theme: "dark", Background: "#5c4b00", Text: "#ffffff"},
	},
}

func render2string(t *testing.T, n *html.Node) string {
	t.Helper()
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		t.Fatal(err)
	}
	return sb.String()
}

func decorations(root *html.Node) []*html.Node {
	var res []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isDecoration(n) {
			res = append(res, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return res
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func TestApply_SingleOccurrence(t *testing.T) {
	doc := rendertest.Content(`<p>Call me Ishmael. The whale was white.</p>`)
	before := text(doc)
	o := New([]catalog.Annotation{whale}, "light", nil, zaptest.NewLogger(t))

	if n := o.Apply(doc); n != 1 {
		t.Fatalf("Apply() = %d, want 1", n)
	}
	spans := decorations(doc)
	if len(spans) != 1 {
		t.Fatalf("found %d decorations, want 1", len(spans))
	}
	span := spans[0]
	if attr(span, AttrID) != "a-1" {
		t.Errorf("decoration id = %q", attr(span, AttrID))
	}
	if text(span) != "whale" {
		t.Errorf("decoration wraps %q", text(span))
	}
	if style := attr(span, "style"); style != "background-color: #fff3a0; color: #1b1b1b" {
		t.Errorf("style = %q", style)
	}
	if text(doc) != before {
		t.Errorf("text changed: %q", text(doc))
	}
	want := `<p>Call me Ishmael. The <span class="lectern-annotation" data-annotation-id="a-1" style="background-color: #fff3a0; color: #1b1b1b">whale</span> was white.</p>`
	if got := render2string(t, doc); !strings.Contains(got, want) {
		t.Errorf("rendered = %s", got)
	}

	// re-applying to the same DOM does not nest or duplicate
	if n := o.Apply(doc); n != 0 {
		t.Errorf("second Apply() = %d, want 0", n)
	}
	if len(decorations(doc)) != 1 {
		t.Error("second Apply() added decoration")
	}
}

func TestApply_FirstWholeWordOnly(t *testing.T) {
	tests := []struct {
		name    string
		content string
		word    string
		want    string // text preceding decoration
	}{
		{
			name:    "case insensitive, first occurrence",
			content: `<p>A Whale! Another whale.</p>`,
			word:    "whale",
			want:    "A ",
		},
		{
			name:    "skips partial words",
			content: `<p>The whaleship and the whales met a whale.</p>`,
			word:    "whale",
			want:    "The whaleship and the whales met a ",
		},
		{
			name:    "skips non content elements",
			content: `<style>.whale{}</style><script>var whale;</script><p>one whale</p>`,
			word:    "whale",
			want:    "one ",
		},
		{
			name:    "unicode word boundaries",
			content: `<p>ёжики и Ёж, ёж</p>`,
			word:    "ёж",
			want:    "ёжики и ",
		},
		{
			name:    "phrase across inline markup in later paragraph",
			content: `<p><em>white</em> whale</p><p>the white whale</p>`,
			word:    "white whale",
			want:    "the ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := rendertest.Content(tt.content)
			o := New([]catalog.Annotation{{ID: "x", Word: tt.word}}, "light", nil, zaptest.NewLogger(t))
			if n := o.Apply(doc); n != 1 {
				t.Fatalf("Apply() = %d, want 1", n)
			}
			spans := decorations(doc)
			if len(spans) != 1 {
				t.Fatalf("found %d decorations", len(spans))
			}
			if prev := spans[0].PrevSibling; tt.want != "" && (prev == nil || prev.Type != html.TextNode || !strings.HasSuffix(prev.Data, tt.want)) {
				t.Errorf("decoration not preceded by %q", tt.want)
			}
			if attr(spans[0], "style") != "" {
				t.Error("annotation without colors got style")
			}
		})
	}
}

func TestApply_Skips(t *testing.T) {
	doc := rendertest.Content(`<p>Nothing to see.</p>`)
	o := New([]catalog.Annotation{
		{ID: "missing", Word: "whale"},
		{ID: "empty", Word: "  "},
	}, "light", nil, zaptest.NewLogger(t))
	if n := o.Apply(doc); n != 0 {
		t.Errorf("Apply() = %d, want 0", n)
	}
	if n := o.Apply(nil); n != 0 {
		t.Errorf("Apply(nil) = %d, want 0", n)
	}
}

func TestApply_ThemeColors(t *testing.T) {
	tests := []struct {
		theme string
		want  string
	}{
		{"dark", "background-color: #5c4b00; color: #ffffff"},
		{"sepia", "background-color: #fff3a0; color: #1b1b1b"},
	}
	for _, tt := range tests {
		doc := rendertest.Content(`<p>whale</p>`)
		o := New([]catalog.Annotation{whale}, "light", nil, zaptest.NewLogger(t))
		o.SetTheme(tt.theme)
		o.Apply(doc)
		if got := attr(decorations(doc)[0], "style"); got != tt.want {
			t.Errorf("theme %s: style = %q, want %q", tt.theme, got, tt.want)
		}
	}
}

func TestClick(t *testing.T) {
	doc := rendertest.Content(`<p>The <b>big</b> whale.</p>`)
	popup := &popupRecorder{}
	o := New([]catalog.Annotation{whale}, "light", popup, zaptest.NewLogger(t))
	o.Apply(doc)

	span := decorations(doc)[0]
	ev := render.NewClick(render.Page{}, span.FirstChild)
	if !o.Click(ev) {
		t.Fatal("Click() on decoration returned false")
	}
	if !ev.DefaultPrevented() {
		t.Error("default action not prevented")
	}
	if len(popup.opened) != 1 || popup.opened[0] != "a-1" {
		t.Errorf("popup opened %v, want [a-1] once", popup.opened)
	}

	var bold *html.Node
	for n := span.Parent.FirstChild; n != nil; n = n.NextSibling {
		if n.Data == "b" {
			bold = n
		}
	}
	other := render.NewClick(render.Page{}, bold)
	if o.Click(other) {
		t.Error("Click() outside decoration returned true")
	}
	if other.DefaultPrevented() {
		t.Error("default prevented outside decoration")
	}
	if o.Click(render.Event{Kind: render.EventRelocated}) {
		t.Error("non click event handled")
	}
	if len(popup.opened) != 1 {
		t.Errorf("popup opened %d times, want 1", len(popup.opened))
	}
}
