package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const testContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func writePackage(t *testing.T, entries []Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return buf.Bytes()
}

func TestWrite_MimetypeFirstAndStored(t *testing.T) {
	data := writePackage(t, []Entry{
		{Name: ContainerName, Data: []byte(testContainer)},
		{Name: MimetypeName, Data: []byte("ignored")},
		{Name: "OEBPS/content.opf", Data: []byte("<package/>")},
	})
	r, err := Open(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.File) != 3 {
		t.Fatalf("archive has %d entries, want 3", len(r.File))
	}
	first := r.File[0]
	if first.Name != MimetypeName {
		t.Fatalf("first entry = %s, want mimetype", first.Name)
	}
	if first.Method != zip.Store {
		t.Errorf("mimetype method = %d, want stored", first.Method)
	}
	got, _ := ReadFile(r, MimetypeName)
	if string(got) != MimetypeEPUB {
		t.Errorf("mimetype = %q", got)
	}
}

func TestRootFile(t *testing.T) {
	r, err := Open(writePackage(t, []Entry{{Name: ContainerName, Data: []byte(testContainer)}}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := RootFile(r)
	if err != nil || got != "OEBPS/content.opf" {
		t.Errorf("RootFile() = %q, %v", got, err)
	}

	r, err = Open(writePackage(t, []Entry{{Name: "OEBPS/content.opf", Data: []byte("<package/>")}}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := RootFile(r); err == nil {
		t.Error("RootFile() without container expected error")
	}
}

func TestRewrite(t *testing.T) {
	r, err := Open(writePackage(t, []Entry{
		{Name: ContainerName, Data: []byte(testContainer)},
		{Name: "OEBPS/content.opf", Data: []byte("<package>old</package>")},
		{Name: "OEBPS/ch1.xhtml", Data: []byte("<html/>")},
	}))
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Rewrite(r, &out, map[string][]byte{"OEBPS/content.opf": []byte("<package>new</package>")}); err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}

	r2, err := Open(out.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if r2.File[0].Name != MimetypeName {
		t.Errorf("first entry = %s", r2.File[0].Name)
	}
	opf, _ := ReadFile(r2, "OEBPS/content.opf")
	if string(opf) != "<package>new</package>" {
		t.Errorf("replaced entry = %q", opf)
	}
	ch, _ := ReadFile(r2, "OEBPS/ch1.xhtml")
	if string(ch) != "<html/>" {
		t.Errorf("copied entry = %q", ch)
	}
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "in.epub")
	to := filepath.Join(dir, "out.epub")

	data := writePackage(t, []Entry{
		{Name: ContainerName, Data: []byte(testContainer)},
		{Name: "OEBPS/ch1.xhtml", Data: []byte("<html>chapter</html>")},
	})
	if err := os.WriteFile(from, data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Normalize(from, to); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	out, err := os.ReadFile(to)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(out)
	if err != nil {
		t.Fatalf("normalized archive is not readable: %v", err)
	}
	for _, f := range r.File {
		if f.Flags&0x8 != 0 {
			t.Errorf("entry %s still has data descriptor flag", f.Name)
		}
	}
	ch, _ := ReadFile(r, "OEBPS/ch1.xhtml")
	if string(ch) != "<html>chapter</html>" {
		t.Errorf("entry content = %q", ch)
	}
}
