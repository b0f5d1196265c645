package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/codec"
)

// Repository defines persistence for the device registry.
// This abstraction allows SQLite in production and in-memory fakes in tests.
type Repository interface {
	// ListSnapshots returns every stored snapshot.
	ListSnapshots(ctx context.Context) ([]Snapshot, error)

	// SaveSnapshot inserts or replaces a snapshot.
	SaveSnapshot(ctx context.Context, s Snapshot) error

	// DeleteSnapshot removes a snapshot.
	// Returns ErrDeviceNotFound if no snapshot is stored for id.
	DeleteSnapshot(ctx context.Context, id string) error

	// ListMappings returns every stored mapping result.
	ListMappings(ctx context.Context) ([]MappingInfo, error)

	// SaveMapping inserts or replaces a mapping result.
	SaveMapping(ctx context.Context, m MappingInfo) error

	// DeleteMapping removes a mapping result. Missing rows are not an error.
	DeleteMapping(ctx context.Context, id string) error

	// ListErrors returns error counters by device id and error type.
	ListErrors(ctx context.Context) (map[string]map[string]int, error)

	// SaveErrors replaces the counters of a device. Empty counters delete the row.
	SaveErrors(ctx context.Context, id string, counters map[string]int) error
}

// SQLiteRepository implements Repository on the tables created by the
// device_registry migration. Each row stores its record as a CBOR blob.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListSnapshots returns every stored snapshot ordered by device id.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := r.scanBlobs(ctx, "SELECT snapshot FROM device_snapshots ORDER BY device_id", func(blob []byte) error {
		var s Snapshot
		if err := codec.Unmarshal(blob, &s); err != nil {
			return fmt.Errorf("decoding snapshot: %w", err)
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// SaveSnapshot inserts or replaces a snapshot.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, s Snapshot) error {
	return r.upsert(ctx,
		"INSERT OR REPLACE INTO device_snapshots (device_id, snapshot, updated_at) VALUES (?, ?, ?)",
		s.ID, s, s.LastUpdated)
}

// DeleteSnapshot removes a snapshot.
func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_snapshots WHERE device_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ListMappings returns every stored mapping ordered by device id.
func (r *SQLiteRepository) ListMappings(ctx context.Context) ([]MappingInfo, error) {
	var out []MappingInfo
	err := r.scanBlobs(ctx, "SELECT mapping FROM device_mappings ORDER BY device_id", func(blob []byte) error {
		var m MappingInfo
		if err := codec.Unmarshal(blob, &m); err != nil {
			return fmt.Errorf("decoding mapping: %w", err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// SaveMapping inserts or replaces a mapping result.
func (r *SQLiteRepository) SaveMapping(ctx context.Context, m MappingInfo) error {
	return r.upsert(ctx,
		"INSERT OR REPLACE INTO device_mappings (device_id, mapping, mapped_at) VALUES (?, ?, ?)",
		m.DeviceID, m, m.MappedAt)
}

// DeleteMapping removes a mapping result.
func (r *SQLiteRepository) DeleteMapping(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM device_mappings WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting mapping: %w", err)
	}
	return nil
}

// ListErrors returns error counters by device id and error type.
func (r *SQLiteRepository) ListErrors(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT device_id, counters FROM device_errors")
	if err != nil {
		return nil, fmt.Errorf("querying error counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning error counters: %w", err)
		}
		counters := make(map[string]int)
		if err := codec.Unmarshal(blob, &counters); err != nil {
			return nil, fmt.Errorf("decoding error counters for %s: %w", id, err)
		}
		out[id] = counters
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating error counters: %w", err)
	}
	return out, nil
}

// SaveErrors replaces the counters of a device.
func (r *SQLiteRepository) SaveErrors(ctx context.Context, id string, counters map[string]int) error {
	if len(counters) == 0 {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM device_errors WHERE device_id = ?", id); err != nil {
			return fmt.Errorf("deleting error counters: %w", err)
		}
		return nil
	}
	return r.upsert(ctx,
		"INSERT OR REPLACE INTO device_errors (device_id, counters, updated_at) VALUES (?, ?, ?)",
		id, counters, time.Now())
}

func (r *SQLiteRepository) upsert(ctx context.Context, query, id string, record any, at time.Time) error {
	blob, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", id, err)
	}
	if _, err := r.db.ExecContext(ctx, query, id, blob, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("saving %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) scanBlobs(ctx context.Context, query string, decode func([]byte) error) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if err := decode(blob); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}
	return nil
}
