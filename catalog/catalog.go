// Package catalog provides chapter records the engine reads. Catalog is a YAML
// file listing chapters of a single work.
package catalog

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/maruel/natural"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"
)

// ErrUnknownChapter is returned for ids catalog does not list.
var ErrUnknownChapter = errors.New("unknown chapter")

type (
	// Colors is annotation color pair for a single theme.
	Colors struct {
		Theme      string `yaml:"theme" validate:"required"`
		Background string `yaml:"background" validate:"required"`
		Text       string `yaml:"text" validate:"required"`
	}

	// Annotation highlights first occurrence of Word in chapter content.
	Annotation struct {
		ID     string   `yaml:"id" validate:"required"`
		Word   string   `yaml:"word"`
		Note   string   `yaml:"note,omitempty"`
		Colors []Colors `yaml:"colors,omitempty" validate:"dive"`
	}

	// Chapter is a single chapter record. Source, Merged and Metadata are
	// URIs: http(s), file or path relative to the catalog file.
	Chapter struct {
		ID          string       `yaml:"id" validate:"required"`
		Title       string       `yaml:"title,omitempty"`
		Source      string       `yaml:"source,omitempty"`
		Merged      string       `yaml:"merged,omitempty"`
		Metadata    string       `yaml:"metadata,omitempty"`
		Position    int          `yaml:"position"`
		Annotations []Annotation `yaml:"annotations,omitempty" validate:"dive"`
	}

	file struct {
		Title    string    `yaml:"title,omitempty"`
		Chapters []Chapter `yaml:"chapters" validate:"min=1,unique=ID,dive"`
	}
)

// ColorsFor returns annotation colors for theme falling back to the first
// defined pair. ok is false when annotation has no colors at all.
func (a *Annotation) ColorsFor(theme string) (Colors, bool) {
	if len(a.Colors) == 0 {
		return Colors{}, false
	}
	for _, c := range a.Colors {
		if c.Theme == theme {
			return c, true
		}
	}
	return a.Colors[0], true
}

// Catalog is safe for concurrent use.
type Catalog struct {
	path string
	dir  string
	log  *zap.Logger

	mu       sync.RWMutex
	title    string
	chapters []Chapter
}

// Load reads and validates catalog file.
func Load(path string, log *zap.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %q: %w", path, err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid catalog %q: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}

	slices.SortStableFunc(f.Chapters, compareChapters)

	c := &Catalog{
		path:     abs,
		dir:      filepath.Dir(abs),
		log:      log.Named("catalog"),
		title:    f.Title,
		chapters: f.Chapters,
	}
	c.log.Debug("Catalog loaded", zap.String("path", abs), zap.Int("chapters", len(f.Chapters)))
	return c, nil
}

func compareChapters(a, b Chapter) int {
	if n := cmp.Compare(a.Position, b.Position); n != 0 {
		return n
	}
	switch {
	case natural.Less(a.ID, b.ID):
		return -1
	case natural.Less(b.ID, a.ID):
		return 1
	}
	return 0
}

// Title returns work title.
func (c *Catalog) Title() string {
	return c.title
}

// Chapters returns chapters in reading order.
func (c *Catalog) Chapters() []Chapter {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]Chapter, 0, len(c.chapters))
	for i := range c.chapters {
		res = append(res, c.resolved(c.chapters[i]))
	}
	return res
}

// Chapter returns chapter record with all URIs resolved.
func (c *Catalog) Chapter(id string) (Chapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.index(id); i >= 0 {
		return c.resolved(c.chapters[i]), nil
	}
	return Chapter{}, fmt.Errorf("%w: %s", ErrUnknownChapter, id)
}

// Next returns chapter following id in reading order, ok is false for the last one.
func (c *Catalog) Next(id string) (Chapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.index(id)
	if i < 0 || i+1 >= len(c.chapters) {
		return Chapter{}, false
	}
	return c.resolved(c.chapters[i+1]), true
}

// SetMergedURI records pre-merged package location for chapter and saves catalog.
func (c *Catalog) SetMergedURI(id, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownChapter, id)
	}
	c.chapters[i].Merged = c.relative(uri)
	if err := c.save(); err != nil {
		return err
	}
	c.log.Info("Pre-merged package recorded", zap.String("chapter", id), zap.String("uri", uri))
	return nil
}

// save must be called under write lock.
func (c *Catalog) save() error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file{Title: c.title, Chapters: c.chapters}); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

func (c *Catalog) index(id string) int {
	return slices.IndexFunc(c.chapters, func(ch Chapter) bool { return ch.ID == id })
}

func (c *Catalog) resolved(ch Chapter) Chapter {
	ch.Source = c.resolve(ch.Source)
	ch.Merged = c.resolve(ch.Merged)
	ch.Metadata = c.resolve(ch.Metadata)
	ch.Annotations = slices.Clone(ch.Annotations)
	return ch
}

// resolve turns catalog relative paths into absolute ones, URIs with scheme
// are left alone.
func (c *Catalog) resolve(uri string) string {
	if len(uri) == 0 || strings.Contains(uri, "://") || filepath.IsAbs(uri) {
		return uri
	}
	return filepath.Join(c.dir, filepath.FromSlash(uri))
}

func (c *Catalog) relative(uri string) string {
	if !filepath.IsAbs(uri) {
		return uri
	}
	if rel, err := filepath.Rel(c.dir, uri); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return uri
}
