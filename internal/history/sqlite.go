package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrDeviceIDRequired is returned when a selection has no device ID.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// SQLiteRepository implements Repository using SQLite.
//
// Device lists and capabilities are stored as JSON text columns in the
// device_refreshes and capability_selections tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite history repository.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// RecordRefresh inserts a refresh entry. Failed refreshes are recorded with
// their error and without devices.
func (r *SQLiteRepository) RecordRefresh(ctx context.Context, ev capture.RefreshEvent) error {
	var (
		epoch   sql.NullString
		devices []capture.DeviceRecord
		errText sql.NullString
	)
	if ev.List != nil {
		epoch = sql.NullString{String: ev.List.Epoch, Valid: true}
		devices = ev.List.Devices
	}
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}

	devicesJSON, err := marshalRecords(devices)
	if err != nil {
		return err
	}
	addedJSON, err := marshalRecords(ev.Added)
	if err != nil {
		return err
	}
	removedJSON, err := marshalRecords(ev.Removed)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO device_refreshes
		 (epoch, device_count, devices, added, removed, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		epoch,
		len(devices),
		devicesJSON,
		addedJSON,
		removedJSON,
		float64(ev.Duration)/float64(time.Millisecond),
		errText,
		r.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("inserting refresh: %w", err)
	}
	return nil
}

func marshalRecords(recs []capture.DeviceRecord) (string, error) {
	if recs == nil {
		recs = []capture.DeviceRecord{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return "", fmt.Errorf("marshalling devices: %w", err)
	}
	return string(data), nil
}

// RecordSelection inserts a selection entry.
func (r *SQLiteRepository) RecordSelection(ctx context.Context, entry SelectionEntry) error {
	if entry.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	requested, err := json.Marshal(entry.Requested)
	if err != nil {
		return fmt.Errorf("marshalling requested capability: %w", err)
	}
	resulting, err := json.Marshal(entry.Resulting)
	if err != nil {
		return fmt.Errorf("marshalling resulting capability: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO capability_selections
		 (device_id, epoch, requested, capability_index, resulting, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.DeviceID,
		sql.NullString{String: entry.Epoch, Valid: entry.Epoch != ""},
		string(requested),
		entry.CapabilityIndex,
		string(resulting),
		r.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("inserting selection: %w", err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ListRefreshes returns recent refresh entries, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 500)
func (r *SQLiteRepository) ListRefreshes(ctx context.Context, limit int) ([]RefreshEntry, error) {
	limit = clampLimit(limit)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, epoch, device_count, devices, added, removed, duration_ms, error, created_at
		 FROM device_refreshes
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying refreshes: %w", err)
	}
	defer rows.Close()

	entries := make([]RefreshEntry, 0, limit)
	for rows.Next() {
		var (
			e                       RefreshEntry
			epoch, errText          sql.NullString
			devices, added, removed string
			createdAt               string
		)
		if err := rows.Scan(&e.ID, &epoch, &e.DeviceCount, &devices, &added, &removed, &e.DurationMS, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning refresh: %w", err)
		}
		e.Epoch = epoch.String
		e.Error = errText.String

		for _, col := range []struct {
			raw string
			dst *[]capture.DeviceRecord
		}{{devices, &e.Devices}, {added, &e.Added}, {removed, &e.Removed}} {
			if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
				return nil, fmt.Errorf("unmarshalling devices: %w", err)
			}
		}

		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating refreshes: %w", err)
	}
	return entries, nil
}

// ListSelections returns recent selections for a device, newest first.
func (r *SQLiteRepository) ListSelections(ctx context.Context, deviceID string, limit int) ([]SelectionEntry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit = clampLimit(limit)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, epoch, requested, capability_index, resulting, created_at
		 FROM capability_selections
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying selections: %w", err)
	}
	defer rows.Close()

	entries := make([]SelectionEntry, 0, limit)
	for rows.Next() {
		var (
			e                    SelectionEntry
			epoch                sql.NullString
			requested, resulting string
			createdAt            string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &epoch, &requested, &e.CapabilityIndex, &resulting, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning selection: %w", err)
		}
		e.Epoch = epoch.String
		if err := json.Unmarshal([]byte(requested), &e.Requested); err != nil {
			return nil, fmt.Errorf("unmarshalling requested capability: %w", err)
		}
		if err := json.Unmarshal([]byte(resulting), &e.Resulting); err != nil {
			return nil, fmt.Errorf("unmarshalling resulting capability: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating selections: %w", err)
	}
	return entries, nil
}

// Prune deletes refresh and selection entries older than olderThan.
//
// Returns:
//   - int64: Number of rows deleted across both tables
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := r.now().UTC().Add(-olderThan).Format(time.RFC3339Nano)

	var total int64
	for _, table := range []string{"device_refreshes", "capability_selections"} {
		res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts, nil
}
