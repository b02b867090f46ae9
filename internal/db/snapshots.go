package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vehicle-tracker/internal/snapshot"
)

// SnapshotStore keeps one jsonb snapshot per feed in vehicle_snapshots.
type SnapshotStore struct {
	DB *sql.DB
}

var _ snapshot.Store = SnapshotStore{}

func (s SnapshotStore) Load(ctx context.Context, feed string) (snapshot.Document, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `SELECT payload FROM vehicle_snapshots WHERE feed = $1`, feed).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Document{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Document{}, fmt.Errorf("load snapshot %s: %w", feed, err)
	}
	return snapshot.Decode(payload)
}

func (s SnapshotStore) Save(ctx context.Context, doc snapshot.Document) error {
	payload, err := snapshot.Encode(doc)
	if err != nil {
		return err
	}
	q := `INSERT INTO vehicle_snapshots (feed, saved_at, payload)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (feed) DO UPDATE SET saved_at = EXCLUDED.saved_at, payload = EXCLUDED.payload`
	if _, err := s.DB.ExecContext(ctx, q, doc.Feed, doc.SavedAt, string(payload)); err != nil {
		return fmt.Errorf("save snapshot %s: %w", doc.Feed, err)
	}
	return nil
}
