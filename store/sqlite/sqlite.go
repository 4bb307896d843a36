/*
Package sqlite provides a SQLite-backed implementation of mileage.RecordStore.

PURPOSE:
  Local durable storage for odometer records. The same row shape applies to
  any SQL backend; only dialect details would change for PostgreSQL.

SCHEMA:
  mileage_records:
    id          INTEGER PRIMARY KEY  (creation-timestamp derived, not rowid)
    date        TEXT  YYYY-MM-DD
    total_km    INTEGER
    created_at  TEXT  RFC3339
    source      TEXT NULL  ('manual' / 'API'; NULL on rows created before
                            the column existed, read back as manual)

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

ERROR MAPPING:
  Unknown ids surface as mileage.ErrRecordNotFound; everything else wraps
  mileage.ErrStoreUnavailable with the driver error as cause, so callers can
  tell "bad request" from "store down" without importing this package.

USAGE:
  st, err := sqlite.New("./data/mileage.db")  // ":memory:" for tests
  defer st.Close()

SEE ALSO:
  - mileage/store.go: Interface definition
  - mileage/store/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kmtrack/mileage-engine/mileage"
)

// Store implements mileage.RecordStore using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	lastID int64
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mileage_records (
		id INTEGER PRIMARY KEY,
		date TEXT NOT NULL,
		total_km INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_mileage_records_date
		ON mileage_records(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE IMPLEMENTATION
// =============================================================================

func (s *Store) List(ctx context.Context) ([]mileage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, total_km, created_at, source FROM mileage_records`)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var records []mileage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("list", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) Create(ctx context.Context, date mileage.Date, totalKm int, source mileage.Source) (mileage.Record, error) {
	rec := mileage.Record{
		ID:        s.nextID(),
		Date:      date,
		TotalKm:   totalKm,
		CreatedAt: time.Now().UTC(),
		Source:    source.Normalize(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mileage_records (id, date, total_km, created_at, source)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Date.String(), rec.TotalKm,
		rec.CreatedAt.Format(time.RFC3339), string(rec.Source))
	if err != nil {
		return mileage.Record{}, storeErr("create", err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id int64, date mileage.Date, totalKm int, source mileage.Source) (mileage.Record, error) {
	prev, err := s.get(ctx, id)
	if err != nil {
		return mileage.Record{}, err
	}
	if source == "" {
		source = prev.Source
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE mileage_records SET date = ?, total_km = ?, source = ? WHERE id = ?`,
		date.String(), totalKm, string(source.Normalize()), id)
	if err != nil {
		return mileage.Record{}, storeErr("update", err)
	}

	prev.Date = date
	prev.TotalKm = totalKm
	prev.Source = source.Normalize()
	return prev, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mileage_records WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete", err)
	}
	if affected == 0 {
		return mileage.ErrRecordNotFound
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) get(ctx context.Context, id int64) (mileage.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, date, total_km, created_at, source FROM mileage_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return mileage.Record{}, mileage.ErrRecordNotFound
	}
	if err != nil {
		return mileage.Record{}, storeErr("get", err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (mileage.Record, error) {
	var (
		rec       mileage.Record
		dateStr   string
		createdAt string
		source    sql.NullString
	)
	if err := row.Scan(&rec.ID, &dateStr, &rec.TotalKm, &createdAt, &source); err != nil {
		return mileage.Record{}, err
	}

	date, err := mileage.ParseDate(dateStr)
	if err != nil {
		return mileage.Record{}, err
	}
	rec.Date = date

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	rec.Source = mileage.Source(source.String).Normalize()
	return rec, nil
}

// nextID derives ids from the creation timestamp, bumped past the previous
// id so same-millisecond creates stay unique.
func (s *Store) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func storeErr(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, mileage.ErrStoreUnavailable, err)
}
