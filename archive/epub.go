package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/beevik/etree"
	fixzip "github.com/hidez8891/zip"
)

const (
	// MimetypeName is first entry of every EPUB container.
	MimetypeName = "mimetype"
	// MimetypeEPUB is content of mimetype entry.
	MimetypeEPUB = "application/epub+zip"
	// ContainerName points to package document(s).
	ContainerName = "META-INF/container.xml"
)

// Entry is a single file to be written into package.
type Entry struct {
	Name string
	Data []byte
}

// RootFile returns path of the package document as listed in container.xml.
func RootFile(r *zip.Reader) (string, error) {
	data, err := ReadFile(r, ContainerName)
	if err != nil {
		return "", err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", fmt.Errorf("unable to parse container: %w", err)
	}
	for _, rf := range doc.FindElements("//rootfiles/rootfile") {
		if p := rf.SelectAttrValue("full-path", ""); len(p) > 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("container does not reference package document: %w", ErrNotFound)
}

// Write writes package: mimetype entry goes first and is stored uncompressed,
// everything else is deflated in given order. Mimetype entries among
// entries are ignored.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)

	mw, err := zw.CreateHeader(&zip.FileHeader{Name: MimetypeName, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("unable to write mimetype: %w", err)
	}
	if _, err := io.WriteString(mw, MimetypeEPUB); err != nil {
		return fmt.Errorf("unable to write mimetype: %w", err)
	}

	for _, e := range entries {
		if e.Name == MimetypeName {
			continue
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("unable to create %q: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("unable to write %q: %w", e.Name, err)
		}
	}
	return zw.Close()
}

// Rewrite copies package from r to w replacing content of entries listed in replace.
func Rewrite(r *zip.Reader, w io.Writer, replace map[string][]byte) error {
	entries := make([]Entry, 0, len(r.File))
	err := Walk(r, "", func(f *zip.File) error {
		if f.Name == MimetypeName {
			return nil
		}
		if data, ok := replace[f.Name]; ok {
			entries = append(entries, Entry{Name: f.Name, Data: data})
			return nil
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Name: f.Name, Data: data})
		return nil
	})
	if err != nil {
		return err
	}
	return Write(w, entries)
}

// Normalize copies archive file dropping data descriptors some readers
// choke on.
func Normalize(from, to string) error {
	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer out.Close()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	for _, file := range r.File {
		// unset data descriptor flag.
		file.Flags &= ^fixzip.FlagDataDescriptor

		if err := w.CopyFile(file); err != nil {
			return fmt.Errorf("unable to write target file (%s): %w", to, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("unable to finalize target file (%s): %w", to, err)
	}
	return out.Close()
}
