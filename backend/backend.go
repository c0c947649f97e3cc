// Package backend implements merge collaborators: remote merge service and
// local merge of package metadata.
package backend

import (
	"context"
	"errors"

	"lectern/catalog"
)

// ErrNotConfigured is returned when backend lacks settings required for operation.
var ErrNotConfigured = errors.New("backend is not configured")

// Merger combines chapter primary package with its metadata and stores
// merged result for later use.
type Merger interface {
	Merge(ctx context.Context, ch catalog.Chapter) ([]byte, error)
	PersistMerged(ctx context.Context, ch catalog.Chapter, payload []byte) error
}

// Recorder remembers where pre-merged package for chapter was stored.
type Recorder interface {
	SetMergedURI(id, uri string) error
}
