package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nhirsama/Goster-Mission/src/inter"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// DataStoreSql keeps the upload history in SQLite or PostgreSQL
type DataStoreSql struct {
	db      *sql.DB
	dialect string
}

// NewDataStoreSql opens the store. driver is "sqlite" (modernc, a file path
// dsn) or "pgx" / "postgres" (a PostgreSQL connection string).
func NewDataStoreSql(driver, dsn string) (inter.DataStore, error) {
	var schema []string
	switch driver {
	case "sqlite", "":
		driver = "sqlite"
		schema = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
			   id          TEXT PRIMARY KEY,
			   endpoint    TEXT NOT NULL,
			   item_count  INTEGER NOT NULL,
			   items_sent  INTEGER NOT NULL,
			   state       TEXT NOT NULL,
			   error       TEXT NOT NULL DEFAULT '',
			   started_at  DATETIME NOT NULL,
			   finished_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_started ON uploads (started_at)`,
		}
	case "pgx", "postgres":
		driver = "pgx"
		schema = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
			   id          TEXT PRIMARY KEY,
			   endpoint    TEXT NOT NULL,
			   item_count  INTEGER NOT NULL,
			   items_sent  INTEGER NOT NULL,
			   state       TEXT NOT NULL,
			   error       TEXT NOT NULL DEFAULT '',
			   started_at  TIMESTAMPTZ NOT NULL,
			   finished_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_started ON uploads (started_at)`,
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer; concurrent uploads would otherwise hit SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &DataStoreSql{db: db, dialect: driver}, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL
func rebind(dialect, query string) string {
	if dialect != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *DataStoreSql) RecordUpload(rec inter.UploadRecord) error {
	if rec.ID == "" {
		return errors.New("upload record has no id")
	}
	_, err := s.db.Exec(rebind(s.dialect, `
		INSERT INTO uploads (id, endpoint, item_count, items_sent, state, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Endpoint, rec.ItemCount, rec.ItemsSent, rec.State, rec.Error,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return err
}

func (s *DataStoreSql) ListUploads(limit int) ([]inter.UploadRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(rebind(s.dialect, `
		SELECT id, endpoint, item_count, items_sent, state, error, started_at, finished_at
		FROM uploads ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inter.UploadRecord
	for rows.Next() {
		var rec inter.UploadRecord
		if err := scanUpload(rows, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DataStoreSql) GetUpload(id string) (inter.UploadRecord, error) {
	var rec inter.UploadRecord
	row := s.db.QueryRow(rebind(s.dialect, `
		SELECT id, endpoint, item_count, items_sent, state, error, started_at, finished_at
		FROM uploads WHERE id = ?`), id)
	err := scanUpload(row, &rec)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("upload %s: %w", id, inter.ErrNotFound)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUpload(row scanner, rec *inter.UploadRecord) error {
	var started, finished time.Time
	if err := row.Scan(&rec.ID, &rec.Endpoint, &rec.ItemCount, &rec.ItemsSent,
		&rec.State, &rec.Error, &started, &finished); err != nil {
		return err
	}
	rec.StartedAt = started.UTC()
	rec.FinishedAt = finished.UTC()
	return nil
}

func (s *DataStoreSql) Close() error {
	return s.db.Close()
}
