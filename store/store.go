// Package store keeps reading state which must survive restarts: last reading
// position per chapter, failure markers and reader preferences.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"lectern/config"
)

// Preference keys.
const (
	PrefTheme    = "theme"
	PrefFontSize = "font_size"
)

const memoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	chapter TEXT PRIMARY KEY,
	cursor  TEXT NOT NULL,
	updated INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS failures (
	chapter TEXT PRIMARY KEY,
	updated INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is safe for concurrent use, all access is serialized over single connection.
type Store struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	log  *zap.Logger
}

// Open opens (creating when necessary) database at configured path.
func Open(cfg *config.StorageConfig, log *zap.Logger) (*Store, error) {
	var (
		conn *sqlite.Conn
		err  error
	)
	if cfg.Path == memoryPath {
		conn, err = sqlite.OpenConn(memoryPath, sqlite.OpenReadWrite, sqlite.OpenMemory)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("unable to create storage directory: %w", err)
		}
		conn, err = sqlite.OpenConn(cfg.Path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	}
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", cfg.Path, err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize storage schema: %w", err)
	}
	log.Debug("Storage opened", zap.String("path", cfg.Path))
	return &Store{conn: conn, log: log}, nil
}

// Close releases database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Store) exec(query string, args []any, result func(stmt *sqlite.Stmt) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("storage is closed")
	}
	return sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: result})
}

// Position returns stored reading position for chapter.
func (s *Store) Position(chapter string) (cursor string, ok bool, err error) {
	err = s.exec(`SELECT cursor FROM positions WHERE chapter = ?`, []any{chapter},
		func(stmt *sqlite.Stmt) error {
			cursor, ok = stmt.ColumnText(0), true
			return nil
		})
	if err != nil {
		return "", false, fmt.Errorf("read position for %q: %w", chapter, err)
	}
	return cursor, ok, nil
}

// SavePosition replaces stored reading position for chapter.
func (s *Store) SavePosition(chapter, cursor string) error {
	err := s.exec(`INSERT INTO positions (chapter, cursor, updated) VALUES (?, ?, ?)
		ON CONFLICT(chapter) DO UPDATE SET cursor = excluded.cursor, updated = excluded.updated`,
		[]any{chapter, cursor, time.Now().Unix()}, nil)
	if err != nil {
		return fmt.Errorf("save position for %q: %w", chapter, err)
	}
	return nil
}

// ClearPosition forgets stored reading position for chapter.
func (s *Store) ClearPosition(chapter string) error {
	if err := s.exec(`DELETE FROM positions WHERE chapter = ?`, []any{chapter}, nil); err != nil {
		return fmt.Errorf("clear position for %q: %w", chapter, err)
	}
	return nil
}

// FailureMarker reports whether last attempt to display chapter failed.
func (s *Store) FailureMarker(chapter string) (bool, error) {
	var marked bool
	err := s.exec(`SELECT 1 FROM failures WHERE chapter = ?`, []any{chapter},
		func(stmt *sqlite.Stmt) error {
			marked = true
			return nil
		})
	if err != nil {
		return false, fmt.Errorf("read failure marker for %q: %w", chapter, err)
	}
	return marked, nil
}

// SetFailureMarker sets or clears failure marker for chapter.
func (s *Store) SetFailureMarker(chapter string, failed bool) error {
	var err error
	if failed {
		err = s.exec(`INSERT INTO failures (chapter, updated) VALUES (?, ?)
			ON CONFLICT(chapter) DO UPDATE SET updated = excluded.updated`,
			[]any{chapter, time.Now().Unix()}, nil)
	} else {
		err = s.exec(`DELETE FROM failures WHERE chapter = ?`, []any{chapter}, nil)
	}
	if err != nil {
		return fmt.Errorf("update failure marker for %q: %w", chapter, err)
	}
	return nil
}

// Preference returns stored reader preference.
func (s *Store) Preference(key string) (value string, ok bool, err error) {
	err = s.exec(`SELECT value FROM preferences WHERE key = ?`, []any{key},
		func(stmt *sqlite.Stmt) error {
			value, ok = stmt.ColumnText(0), true
			return nil
		})
	if err != nil {
		return "", false, fmt.Errorf("read preference %q: %w", key, err)
	}
	return value, ok, nil
}

// SetPreference stores reader preference.
func (s *Store) SetPreference(key, value string) error {
	err := s.exec(`INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		[]any{key, value}, nil)
	if err != nil {
		return fmt.Errorf("save preference %q: %w", key, err)
	}
	return nil
}
