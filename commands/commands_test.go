package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"lectern/archive"
	"lectern/catalog"
	"lectern/config"
	"lectern/state"
	"lectern/store"
)

const (
	testContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="id">urn:uuid:00000000-0000-0000-0000-000000000001</dc:identifier>
    <dc:title>Untitled</dc:title>
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
  <dc:title>Loomings</dc:title>
  <dc:creator>Herman Melville</dc:creator>
</metadata>`

	chapterText = "Call me Ishmael. Some years ago, never mind how long precisely, I went to sea to hunt the whale."

	testCatalog = `
title: Moby Dick
chapters:
  - id: ch-1
    source: books/ch-1.epub
    metadata: meta/ch-1.xml
    position: 1
    annotations:
      - id: a-whale
        word: whale
        note: large marine mammal
        colors:
          - theme: light
            background: "#fff3a0"
            text: "#1b1b1b"
  - id: ch-2
    source: books/ch-2.epub
    position: 2
`
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func testPackage(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := archive.Write(&buf, []archive.Entry{
		{Name: archive.ContainerName, Data: []byte(testContainer)},
		{Name: "OEBPS/content.opf", Data: []byte(testOPF)},
		{Name: "OEBPS/ch1.xhtml", Data: []byte("<html><body><p>" + text + "</p></body></html>")},
	})
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// writeLibrary lays out catalog with one complete chapter, ch-2 package is
// missing on disk.
func writeLibrary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "books", "ch-1.epub"), testPackage(t, chapterText))
	writeFile(t, filepath.Join(dir, "meta", "ch-1.xml"), []byte(testMeta))
	path := filepath.Join(dir, "catalog.yaml")
	writeFile(t, path, []byte(testCatalog))
	return path
}

func testEnv(t *testing.T, log *zap.Logger) *state.LocalEnv {
	t.Helper()
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	cfg.Backend.AssetsDir = filepath.Join(t.TempDir(), "assets")

	env := state.EnvFromContext(state.ContextWithEnv(context.Background()))
	env.Cfg = cfg
	env.Log = log
	if err := env.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		if err := env.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return env
}

func TestPreload(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr string
		cached  []string
	}{
		{name: "named chapter", ids: []string{"ch-1"}, cached: []string{"ch-1"}},
		{name: "whole catalog", wantErr: "unable to preload 1 of 2 chapters", cached: []string{"ch-1"}},
		{name: "unknown chapter", ids: []string{"ch-9"}, wantErr: "unknown chapter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := zaptest.NewLogger(t)
			env := testEnv(t, log)

			err := preload(context.Background(), env, writeLibrary(t), tt.ids, 2, log)
			if len(tt.wantErr) > 0 {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("preload() error = %v, want %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("preload() error = %v", err)
			}
			for _, id := range tt.cached {
				if !env.Cache.IsCached(id) {
					t.Errorf("chapter %s is not cached", id)
				}
			}
		})
	}
}

func TestMerge(t *testing.T) {
	log := zaptest.NewLogger(t)
	env := testEnv(t, log)
	path := writeLibrary(t)

	if err := merge(context.Background(), env, path, "ch-1", log); err != nil {
		t.Fatalf("merge() error = %v", err)
	}

	cat, err := catalog.Load(path, log)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := cat.Chapter("ch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.Merged) == 0 {
		t.Fatal("merged package was not recorded in catalog")
	}
	data, err := os.ReadFile(ch.Merged)
	if err != nil {
		t.Fatalf("merged package is not readable: %v", err)
	}
	r, err := archive.Open(data)
	if err != nil {
		t.Fatal(err)
	}
	opf, err := archive.ReadFile(r, "OEBPS/content.opf")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(opf, []byte("Loomings")) {
		t.Error("merged package does not carry chapter metadata")
	}
}

func TestMerge_Errors(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr string
	}{
		{name: "unknown chapter", id: "ch-9", wantErr: "unknown chapter"},
		{name: "no metadata", id: "ch-2", wantErr: "nothing to merge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := zaptest.NewLogger(t)
			err := merge(context.Background(), testEnv(t, log), writeLibrary(t), tt.id, log)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("merge() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRead(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	env := testEnv(t, zaptest.NewLogger(t))

	var out bytes.Buffer
	err := read(context.Background(), env, readOptions{
		catalog: writeLibrary(t),
		chapter: "ch-1",
		pages:   2,
		width:   96,
		height:  64,
		click:   "whale",
	}, &out, log)
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}

	pages := strings.Split(out.String(), "[ch-1:")
	if len(pages) != 3 {
		t.Fatalf("read() printed %d pages, want 2:\n%s", len(pages)-1, out.String())
	}
	if !strings.Contains(pages[1], "Ishmael") {
		t.Errorf("first page = %q", pages[1])
	}
	if strings.Contains(pages[2], "Ishmael") {
		t.Errorf("second page repeats first one: %q", pages[2])
	}

	opened := logs.FilterMessage("Annotation").All()
	if len(opened) != 1 {
		t.Fatalf("annotation opened %d times, want 1", len(opened))
	}
	if got := opened[0].ContextMap()["note"]; got != "large marine mammal" {
		t.Errorf("annotation note = %v", got)
	}
	if logs.FilterMessage("Reading progress").Len() != 1 {
		t.Error("reading progress was not reported")
	}
}

func TestRead_LayoutDelay(t *testing.T) {
	env := testEnv(t, zaptest.NewLogger(t))

	var out bytes.Buffer
	err := read(context.Background(), env, readOptions{
		catalog:     writeLibrary(t),
		chapter:     "ch-1",
		pages:       1,
		width:       96,
		height:      64,
		layoutDelay: 50 * time.Millisecond,
		theme:       "dark",
	}, &out, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if !strings.Contains(out.String(), "Ishmael") {
		t.Errorf("read() output = %q", out.String())
	}
	if theme, _, _ := env.Store.Preference(store.PrefTheme); theme != "dark" {
		t.Errorf("theme preference = %q, want dark", theme)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    readOptions
		wantErr string
	}{
		{name: "unknown chapter", opts: readOptions{chapter: "ch-9", width: 96, height: 64}, wantErr: "unknown chapter"},
		{name: "bad theme", opts: readOptions{chapter: "ch-1", width: 96, height: 64, theme: "neon"}, wantErr: "neon"},
		{name: "bad font size", opts: readOptions{chapter: "ch-1", width: 96, height: 64, fontSize: 20}, wantErr: "font"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := zaptest.NewLogger(t)
			tt.opts.catalog = writeLibrary(t)
			err := read(context.Background(), testEnv(t, log), tt.opts, &bytes.Buffer{}, log)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("read() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
