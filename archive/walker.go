// Package archive builds Walk abstraction and package level helpers on top of
// "archive/zip" for document packages held in memory.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when requested entry is not present in archive.
var ErrNotFound = errors.New("entry not found in archive")

// WalkFunc is the type of the function called for each file in archive
// visited by Walk. The file argument is the zip.File structure for file in
// archive which satisfies match condition. If an error is returned, processing stops.
type WalkFunc func(file *zip.File) error

// Open validates payload as zip archive. Archives with entries which have
// path traversal components ("..") or absolute paths are rejected to prevent
// Zip Slip attacks.
func Open(data []byte) (*zip.Reader, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		if !isSafePath(f.Name) {
			return nil, fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", f.Name)
		}
	}
	return r, nil
}

// Walk walks the all files in the archive which names start with prefix,
// calling walkFn for each item.
func Walk(r *zip.Reader, prefix string, walkFn WalkFunc) error {
	for _, f := range r.File {
		if !f.FileInfo().IsDir() && strings.HasPrefix(f.Name, prefix) {
			if err := walkFn(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFile returns content of named archive entry.
func ReadFile(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name == name {
			return readEntry(f)
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open %q: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("unable to read %q: %w", f.Name, err)
	}
	return data, nil
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
