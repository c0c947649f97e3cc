package store

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"zombiezen.com/go/sqlite"

	"lectern/config"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&config.StorageConfig{Path: ":memory:"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPosition(t *testing.T) {
	s := openMemory(t)

	if _, ok, err := s.Position("ch-1"); err != nil || ok {
		t.Fatalf("Position() on empty store = ok %v, err %v", ok, err)
	}

	for _, cursor := range []string{"epubcfi(/6/2!/4:0)", "epubcfi(/6/4!/4:120)"} {
		if err := s.SavePosition("ch-1", cursor); err != nil {
			t.Fatalf("SavePosition() error = %v", err)
		}
		got, ok, err := s.Position("ch-1")
		if err != nil || !ok || got != cursor {
			t.Fatalf("Position() = %q, %v, %v; want %q", got, ok, err, cursor)
		}
	}

	if err := s.ClearPosition("ch-1"); err != nil {
		t.Fatalf("ClearPosition() error = %v", err)
	}
	if _, ok, _ := s.Position("ch-1"); ok {
		t.Error("position should be gone after ClearPosition()")
	}
	// clearing missing entry is fine
	if err := s.ClearPosition("ch-2"); err != nil {
		t.Errorf("ClearPosition() of missing entry error = %v", err)
	}
}

func TestFailureMarker(t *testing.T) {
	s := openMemory(t)

	steps := []struct {
		set  bool
		want bool
	}{
		{set: true, want: true},
		{set: true, want: true},
		{set: false, want: false},
		{set: false, want: false},
	}
	for i, step := range steps {
		if err := s.SetFailureMarker("ch-1", step.set); err != nil {
			t.Fatalf("step %d: SetFailureMarker() error = %v", i, err)
		}
		got, err := s.FailureMarker("ch-1")
		if err != nil {
			t.Fatalf("step %d: FailureMarker() error = %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d: FailureMarker() = %v, want %v", i, got, step.want)
		}
	}
	if got, _ := s.FailureMarker("ch-2"); got {
		t.Error("unrelated chapter must not be marked")
	}
}

func TestFailureMarker_RecordsTime(t *testing.T) {
	s := openMemory(t)

	before := time.Now().Unix()
	if err := s.SetFailureMarker("ch-1", true); err != nil {
		t.Fatal(err)
	}
	var updated int64
	err := s.exec(`SELECT updated FROM failures WHERE chapter = ?`, []any{"ch-1"},
		func(stmt *sqlite.Stmt) error {
			updated = stmt.ColumnInt64(0)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if updated < before || updated > time.Now().Unix() {
		t.Errorf("updated = %d, want time of marking", updated)
	}
}

func TestPreferences(t *testing.T) {
	s := openMemory(t)

	if err := s.SetPreference(PrefTheme, "sepia"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPreference(PrefTheme, "dark"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPreference(PrefFontSize, "120"); err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{PrefTheme: "dark", PrefFontSize: "120"}
	for key, want := range tests {
		got, ok, err := s.Preference(key)
		if err != nil || !ok || got != want {
			t.Errorf("Preference(%s) = %q, %v, %v; want %q", key, got, ok, err, want)
		}
	}
}

func TestOpen_FilePersists(t *testing.T) {
	cfg := &config.StorageConfig{Path: filepath.Join(t.TempDir(), "state", "lectern.db")}
	log := zaptest.NewLogger(t)

	s, err := Open(cfg, log)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.SavePosition("ch-1", "epubcfi(/6/2!/4:10)"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, _, err := s.Position("ch-1"); err == nil {
		t.Error("closed store should refuse queries")
	}

	s, err = Open(cfg, log)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	got, ok, err := s.Position("ch-1")
	if err != nil || !ok || got != "epubcfi(/6/2!/4:10)" {
		t.Errorf("Position() after reopen = %q, %v, %v", got, ok, err)
	}
}
