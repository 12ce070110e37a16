package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// SQLiteJournal keeps records in a single SQLite table.
type SQLiteJournal struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id              TEXT PRIMARY KEY,
			app_id          TEXT NOT NULL,
			milestone_index TEXT NOT NULL,
			status          TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			data            TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_app ON records(app_id);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Append(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO records (id, app_id, milestone_index, status, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID,
		strconv.FormatUint(r.Attestation.AppID, 10),
		strconv.FormatUint(r.Attestation.MilestoneIndex, 10),
		string(r.Attestation.Status),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(data))
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) List(ctx context.Context, appID uint64) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT data FROM records WHERE app_id = ?
	`, strconv.FormatUint(appID, 10))
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		var r Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

// Count returns the total number of records.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
