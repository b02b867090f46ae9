// Package snapshot persists position cache snapshots so a restarted
// process can repopulate its cache before polling resumes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vehicle-tracker/internal/poscache"
)

// ErrNotFound is returned by Load when no snapshot exists for the feed.
var ErrNotFound = errors.New("snapshot not found")

// Store loads and saves the latest snapshot of one feed.
type Store interface {
	Load(ctx context.Context, feed string) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// Document is the stored form of a snapshot.
type Document struct {
	Feed    string            `json:"feed"`
	SavedAt time.Time         `json:"saved_at"`
	Lines   poscache.Snapshot `json:"lines"`
}

func Encode(doc Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", doc.Feed, err)
	}
	return b, nil
}

func Decode(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Lines == nil {
		doc.Lines = poscache.Snapshot{}
	}
	return doc, nil
}
