package config

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"lectern/misc"
)

type ReporterConfig struct {
	Destination string `yaml:"destination" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
}

// Prepare creates initialized empty reporter.
func (conf *ReporterConfig) Prepare() (*Report, error) {

	r := &Report{entries: make(map[string]entry)}

	if f, err := os.Create(conf.Destination); err == nil {
		r.file = f
	} else if f, err = os.CreateTemp("", misc.GetAppName()+"-report.*.zip"); err == nil {
		r.file = f
	} else {
		return nil, fmt.Errorf("unable to create report: %w", err)
	}
	return r, nil
}

// entry is either a file, read when report is finalized, or data captured at
// the time of the call.
type entry struct {
	path  string
	stamp time.Time
	data  []byte
}

// Report accumulates logs, configuration and rendered pages for the debug
// archive. All methods are safe to call on nil report, which means no report
// has been requested.
type Report struct {
	mu      sync.Mutex
	entries map[string]entry
	file    *os.File
}

// Close finalizes debug report.
func (r *Report) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	defer r.file.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalize()
}

// Name returns name of underlying file.
func (r *Report) Name() string {
	if r == nil || r.file == nil {
		return ""
	}
	if n, err := filepath.Abs(r.file.Name()); err == nil {
		return n
	}
	return r.file.Name()
}

// Store remembers file to be put in the final archive under name. File is
// read when report is closed, so it may still be written to.
func (r *Report) Store(name, path string) {
	if r == nil {
		return
	}
	if p, err := filepath.Abs(path); err == nil {
		path = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.unique(name)] = entry{path: path}
}

// StoreData saves data to be put in the final archive under name. Repeated
// names get versioned with timestamp.
func (r *Report) StoreData(name string, data []byte) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.unique(name)] = entry{data: slices.Clone(data), stamp: time.Now()}
}

// unique must be called under lock.
func (r *Report) unique(name string) string {
	if _, exists := r.entries[name]; !exists {
		return name
	}
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

// finalize creates the final archive with all previously stored items, must
// be called under lock.
func (r *Report) finalize() error {
	arc := zip.NewWriter(r.file)

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	now := time.Now()
	manifest := new(bytes.Buffer)
	for _, name := range names {
		e := r.entries[name]
		source := e.path
		if len(source) == 0 {
			source = "data"
		}
		if e.stamp.IsZero() {
			e.stamp = now
		}
		fmt.Fprintf(manifest, "%s\t%s\t%s\n", e.stamp.UTC().Format(time.UnixDate), name, source)
	}
	if err := saveFile(arc, "MANIFEST", now, manifest); err != nil {
		return err
	}

	// in the same order as in manifest
	for _, name := range names {
		e := r.entries[name]
		if len(e.path) == 0 {
			if err := saveFile(arc, name, e.stamp, bytes.NewReader(e.data)); err != nil {
				return err
			}
			continue
		}
		if err := storeFile(arc, name, e.path); err != nil {
			return err
		}
	}
	return arc.Close()
}

// storeFile ignores absent files, logs may never have been created.
func storeFile(arc *zip.Writer, name, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return saveFile(arc, name, info.ModTime(), f)
}

func saveFile(dst *zip.Writer, name string, t time.Time, src io.Reader) error {
	w, err := dst.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: t})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return nil
}
