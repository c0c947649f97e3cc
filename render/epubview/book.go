package epubview

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"lectern/archive"
	"lectern/render"
)

var errEmptySpine = errors.New("package has no readable spine")

// book is parsed package: reading order and content documents.
type book struct {
	title string
	pages []render.Page
	docs  [][]byte
	texts []string
}

func parseBook(data []byte) (*book, error) {
	r, err := archive.Open(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open package: %w", err)
	}
	opfPath, err := archive.RootFile(r)
	if err != nil {
		return nil, err
	}
	opfData, err := archive.ReadFile(r, opfPath)
	if err != nil {
		return nil, err
	}

	opf := etree.NewDocument()
	if err := opf.ReadFromBytes(opfData); err != nil {
		return nil, fmt.Errorf("unable to parse package document: %w", err)
	}

	type item struct {
		href      string
		mediaType string
	}
	manifest := make(map[string]item)
	for _, el := range opf.FindElements("//manifest/item") {
		manifest[el.SelectAttrValue("id", "")] = item{
			href:      el.SelectAttrValue("href", ""),
			mediaType: el.SelectAttrValue("media-type", ""),
		}
	}

	b := &book{}
	if t := opf.FindElement("//metadata/title"); t != nil {
		b.title = strings.TrimSpace(t.Text())
	}

	dir := path.Dir(opfPath)
	for _, ref := range opf.FindElements("//spine/itemref") {
		id := ref.SelectAttrValue("idref", "")
		it, ok := manifest[id]
		if !ok || len(it.href) == 0 {
			continue
		}
		if !strings.Contains(it.mediaType, "html") {
			continue
		}
		name, err := url.PathUnescape(it.href)
		if err != nil {
			name = it.href
		}
		content, err := archive.ReadFile(r, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("spine item %q: %w", id, err)
		}
		doc, err := html.Parse(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("spine item %q: %w", id, err)
		}
		b.pages = append(b.pages, render.Page{
			Index:  len(b.pages),
			ID:     id,
			Href:   it.href,
			Linear: ref.SelectAttrValue("linear", "yes") != "no",
		})
		b.docs = append(b.docs, content)
		b.texts = append(b.texts, extractText(doc))
	}
	if len(b.pages) == 0 {
		return nil, errEmptySpine
	}
	return b, nil
}

// document returns fresh DOM of page content.
func (b *book) document(i int) (*html.Node, error) {
	return html.Parse(bytes.NewReader(b.docs[i]))
}

// pageByHref ignores fragment part of href.
func (b *book) pageByHref(href string) (int, bool) {
	href, _, _ = strings.Cut(href, "#")
	for i, p := range b.pages {
		if p.Href == href {
			return i, true
		}
	}
	return 0, false
}

// firstLinear returns index of the first page in reading order.
func (b *book) firstLinear() int {
	for i, p := range b.pages {
		if p.Linear {
			return i
		}
	}
	return 0
}

// nextLinear returns index of linear page after (dir > 0) or before (dir < 0) i.
func (b *book) nextLinear(i, dir int) (int, bool) {
	for j := i + dir; j >= 0 && j < len(b.pages); j += dir {
		if b.pages[j].Linear {
			return j, true
		}
	}
	return i, false
}

// extractText returns visible text with white space collapsed.
func extractText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head, atom.Script, atom.Style:
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(sb.String()), " ")
}
