package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"lectern/archive"
	"lectern/catalog"
	"lectern/config"
)

// Loader retrieves resources merge needs.
type Loader interface {
	// Fetch returns validated document package.
	Fetch(ctx context.Context, uri string) ([]byte, error)
	// Raw returns any resource.
	Raw(ctx context.Context, uri string) ([]byte, error)
}

// Local merges chapter metadata into package on this machine and keeps
// merged packages in assets directory.
type Local struct {
	loader   Loader
	assets   string
	recorder Recorder
	log      *zap.Logger
}

// NewLocal returns local merger. recorder may be nil.
func NewLocal(loader Loader, cfg *config.BackendConfig, recorder Recorder, log *zap.Logger) *Local {
	return &Local{
		loader:   loader,
		assets:   cfg.AssetsDir,
		recorder: recorder,
		log:      log.Named("backend"),
	}
}

// Merge replaces package metadata elements with ones from chapter metadata
// document. Root element of metadata document is ignored, its children are
// expected to be package metadata elements (dc:title, dc:creator, meta...).
func (l *Local) Merge(ctx context.Context, ch catalog.Chapter) ([]byte, error) {
	if len(ch.Metadata) == 0 {
		return nil, fmt.Errorf("chapter %s has no metadata to merge", ch.ID)
	}

	pkg, err := l.loader.Fetch(ctx, ch.Source)
	if err != nil {
		return nil, fmt.Errorf("unable to load package: %w", err)
	}
	meta, err := l.loader.Raw(ctx, ch.Metadata)
	if err != nil {
		return nil, fmt.Errorf("unable to load metadata: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := archive.Open(pkg)
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
	src := etree.NewDocument()
	if err := src.ReadFromBytes(meta); err != nil {
		return nil, fmt.Errorf("unable to parse metadata: %w", err)
	}

	replaced, err := mergeMetadata(opf, src)
	if err != nil {
		return nil, err
	}

	opf.Indent(2)
	out, err := opf.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize package document: %w", err)
	}

	var buf bytes.Buffer
	if err := archive.Rewrite(r, &buf, map[string][]byte{opfPath: out}); err != nil {
		return nil, fmt.Errorf("unable to rewrite package: %w", err)
	}
	l.log.Debug("Merged locally", zap.String("chapter", ch.ID), zap.Int("elements", replaced), zap.Int("size", buf.Len()))
	return buf.Bytes(), nil
}

// mergeMetadata returns number of elements taken from src.
func mergeMetadata(opf, src *etree.Document) (int, error) {
	metadata := opf.FindElement("//package/metadata")
	if metadata == nil {
		return 0, fmt.Errorf("package document has no metadata")
	}
	root := src.Root()
	if root == nil {
		return 0, fmt.Errorf("metadata document is empty")
	}

	var count int
	for _, el := range root.ChildElements() {
		for _, old := range metadata.ChildElements() {
			if sameMetadata(old, el) {
				metadata.RemoveChild(old)
			}
		}
		metadata.AddChild(el.Copy())
		count++
	}
	return count, nil
}

// sameMetadata reports whether b replaces a. Generic meta elements are told
// apart by their property or name.
func sameMetadata(a, b *etree.Element) bool {
	if a.Tag != b.Tag || (a.Space != b.Space && a.NamespaceURI() != b.NamespaceURI()) {
		return false
	}
	if a.Tag != "meta" {
		return true
	}
	for _, key := range []string{"property", "name"} {
		if v := b.SelectAttrValue(key, ""); len(v) > 0 {
			return a.SelectAttrValue(key, "") == v
		}
	}
	return false
}

// PersistMerged stores merged package in assets directory and records its
// location.
func (l *Local) PersistMerged(ctx context.Context, ch catalog.Chapter, payload []byte) error {
	if len(l.assets) == 0 {
		return fmt.Errorf("%w: assets directory is not set", ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.assets, 0755); err != nil {
		return fmt.Errorf("unable to create assets directory: %w", err)
	}

	target, err := filepath.Abs(filepath.Join(l.assets, slug.Make(ch.ID)+".epub"))
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.assets, "merge-*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}
	// clean temporary file
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to finalize temporary file: %w", err)
	}
	if err := archive.Normalize(tmp.Name(), target); err != nil {
		return err
	}

	l.log.Info("Merged package stored", zap.String("chapter", ch.ID), zap.String("file", target))
	if l.recorder != nil {
		if err := l.recorder.SetMergedURI(ch.ID, target); err != nil {
			return fmt.Errorf("unable to record merged package: %w", err)
		}
	}
	return nil
}
