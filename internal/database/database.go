package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/FranLegon/drive-upload/internal/model"
)

const (
	DBFileName = "uploads.db"
)

// DB is the upload journal. It records how every upload ended; it is not
// used to resume uploads.
type DB struct {
	conn *sql.DB
}

// GetDBPath returns the path to the database file in dir
func GetDBPath(dir string) string {
	return filepath.Join(dir, DBFileName)
}

// Open opens the journal at path, creating the file if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}

	// Concurrent uploads write through a single connection
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open upload journal: %w", err)
	}

	db := &DB{conn: conn}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Initialize creates the database schema
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		file_id TEXT,
		mode TEXT NOT NULL,
		size INTEGER NOT NULL,
		bytes_sent INTEGER NOT NULL,
		retries INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		account TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_started_at ON uploads(started_at);
	CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordUpload inserts an upload outcome. An empty ID is generated.
func (db *DB) RecordUpload(ctx context.Context, rec *model.UploadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO uploads (id, path, title, file_id, mode, size, bytes_sent, retries, status, error, started_at, duration_ms, account)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, rec.Title, rec.FileID, rec.Mode, rec.Size, rec.BytesSent, rec.Retries,
		string(rec.Status), rec.Error, rec.StartedAt.UnixNano(), rec.Duration.Milliseconds(), rec.AccountKey,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload of %s: %w", rec.Path, err)
	}
	return nil
}

// RecentUploads returns the latest limit outcomes, newest first
func (db *DB) RecentUploads(ctx context.Context, limit int) ([]*model.UploadRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, title, file_id, mode, size, bytes_sent, retries, status, error, started_at, duration_ms, account
		FROM uploads
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.UploadRecord
	for rows.Next() {
		var (
			rec        model.UploadRecord
			fileID     sql.NullString
			errText    sql.NullString
			status     string
			startedAt  int64
			durationMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Title, &fileID, &rec.Mode, &rec.Size, &rec.BytesSent,
			&rec.Retries, &status, &errText, &startedAt, &durationMs, &rec.AccountKey); err != nil {
			return nil, err
		}
		rec.FileID = fileID.String
		rec.Error = errText.String
		rec.Status = model.UploadStatus(status)
		rec.StartedAt = time.Unix(0, startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountByStatus returns how many uploads ended with each status
func (db *DB) CountByStatus(ctx context.Context) (map[model.UploadStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM uploads GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.UploadStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.UploadStatus(status)] = n
	}
	return counts, rows.Err()
}
