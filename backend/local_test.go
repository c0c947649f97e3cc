package backend

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"go.uber.org/zap/zaptest"

	"lectern/archive"
	"lectern/catalog"
	"lectern/config"
)

const (
	testContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:1</dc:identifier>
    <dc:title>Untitled</dc:title>
    <dc:language>en</dc:language>
    <meta property="dcterms:modified">2020-01-01T00:00:00Z</meta>
    <meta name="cover" content="cover-img"/>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
  </spine>
</package>`

	testMeta = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Moby Dick, Chapter 1</dc:title>
  <dc:creator>Herman Melville</dc:creator>
  <meta property="dcterms:modified">2024-05-01T00:00:00Z</meta>
</metadata>`
)

type mapLoader map[string][]byte

func (m mapLoader) Fetch(ctx context.Context, uri string) ([]byte, error) { return m.Raw(ctx, uri) }

func (m mapLoader) Raw(_ context.Context, uri string) ([]byte, error) {
	if data, ok := m[uri]; ok {
		return data, nil
	}
	return nil, os.ErrNotExist
}

type recordedURIs map[string]string

func (r recordedURIs) SetMergedURI(id, uri string) error {
	r[id] = uri
	return nil
}

func testPackage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := archive.Write(&buf, []archive.Entry{
		{Name: archive.ContainerName, Data: []byte(testContainer)},
		{Name: "OEBPS/content.opf", Data: []byte(testOPF)},
		{Name: "OEBPS/ch1.xhtml", Data: []byte("<html><body><p>Call me Ishmael.</p></body></html>")},
	})
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLocal_Merge(t *testing.T) {
	loader := mapLoader{"ch-1.epub": testPackage(t), "ch-1.xml": []byte(testMeta)}
	l := NewLocal(loader, &config.BackendConfig{}, nil, zaptest.NewLogger(t))

	merged, err := l.Merge(context.Background(), catalog.Chapter{ID: "ch-1", Source: "ch-1.epub", Metadata: "ch-1.xml"})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	r, err := archive.Open(merged)
	if err != nil {
		t.Fatal(err)
	}
	if r.File[0].Name != archive.MimetypeName {
		t.Errorf("first entry = %s, want mimetype", r.File[0].Name)
	}
	data, err := archive.ReadFile(r, "OEBPS/content.opf")
	if err != nil {
		t.Fatal(err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		t.Fatal(err)
	}
	metadata := doc.FindElement("//metadata")

	titles := metadata.SelectElements("title")
	if len(titles) != 1 {
		t.Fatalf("package has %d titles, want 1", len(titles))
	}
	if titles[0].Text() != "Moby Dick, Chapter 1" {
		t.Errorf("title = %q", titles[0].Text())
	}
	if c := metadata.SelectElement("creator"); c == nil || c.Text() != "Herman Melville" {
		t.Error("creator was not added")
	}
	if lang := metadata.SelectElement("language"); lang == nil || lang.Text() != "en" {
		t.Error("untouched element was lost")
	}

	var modified, cover int
	for _, m := range metadata.SelectElements("meta") {
		switch {
		case m.SelectAttrValue("property", "") == "dcterms:modified":
			modified++
			if m.Text() != "2024-05-01T00:00:00Z" {
				t.Errorf("modified = %q", m.Text())
			}
		case m.SelectAttrValue("name", "") == "cover":
			cover++
		}
	}
	if modified != 1 || cover != 1 {
		t.Errorf("meta elements: modified %d, cover %d; want 1, 1", modified, cover)
	}

	ch, _ := archive.ReadFile(r, "OEBPS/ch1.xhtml")
	if !strings.Contains(string(ch), "Ishmael") {
		t.Error("content document was not copied")
	}
}

func TestLocal_MergeErrors(t *testing.T) {
	pkg := testPackage(t)
	tests := []struct {
		name   string
		loader mapLoader
		ch     catalog.Chapter
	}{
		{"no metadata uri", mapLoader{"a.epub": pkg}, catalog.Chapter{ID: "a", Source: "a.epub"}},
		{"missing package", mapLoader{"a.xml": []byte(testMeta)}, catalog.Chapter{ID: "a", Source: "a.epub", Metadata: "a.xml"}},
		{"broken metadata", mapLoader{"a.epub": pkg, "a.xml": []byte("just text")}, catalog.Chapter{ID: "a", Source: "a.epub", Metadata: "a.xml"}},
		{"not an archive", mapLoader{"a.epub": []byte("junk"), "a.xml": []byte(testMeta)}, catalog.Chapter{ID: "a", Source: "a.epub", Metadata: "a.xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocal(tt.loader, &config.BackendConfig{}, nil, zaptest.NewLogger(t))
			if _, err := l.Merge(context.Background(), tt.ch); err == nil {
				t.Error("Merge() expected error")
			}
		})
	}
}

func TestLocal_PersistMerged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "assets")
	rec := recordedURIs{}
	l := NewLocal(mapLoader{}, &config.BackendConfig{AssetsDir: dir}, rec, zaptest.NewLogger(t))

	pkg := testPackage(t)
	if err := l.PersistMerged(context.Background(), catalog.Chapter{ID: "Chapter 1: Loomings"}, pkg); err != nil {
		t.Fatalf("PersistMerged() error = %v", err)
	}

	want := filepath.Join(dir, "chapter-1-loomings.epub")
	if got := rec["Chapter 1: Loomings"]; got != want {
		t.Errorf("recorded uri = %q, want %q", got, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("merged package not stored: %v", err)
	}
	if _, err := archive.Open(data); err != nil {
		t.Errorf("stored package is not readable: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("assets directory has %d entries, temporary file left behind?", len(entries))
	}
}

func TestLocal_PersistNotConfigured(t *testing.T) {
	l := NewLocal(mapLoader{}, &config.BackendConfig{}, nil, zaptest.NewLogger(t))
	if err := l.PersistMerged(context.Background(), catalog.Chapter{ID: "a"}, []byte("x")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PersistMerged() error = %v, want ErrNotConfigured", err)
	}
}
