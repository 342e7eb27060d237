// Package ledger is the document status ledger: one row per uploaded
// document recording its owner, source and ingestion status. It runs on a
// local SQLite file by default and on Postgres when given a postgres:// DSN.
// The ingestion orchestrator is the only writer of status transitions after
// registration.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // register "postgres" driver
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/asksudo-go/internal/rag"
)

// Status is the ingestion state of a document.
type Status string

const (
	// StatusPending is a registered document that has not been ingested.
	StatusPending Status = "pending"
	// StatusProcessing is a document with an ingestion attempt in flight.
	StatusProcessing Status = "processing"
	// StatusReady is a document whose chunks are all searchable.
	StatusReady Status = "ready"
	// StatusFailed is a document whose last attempt failed; it has no vectors.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends an ingestion attempt.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// ErrDocumentExists is returned by Create when the id is already registered.
var ErrDocumentExists = errors.New("document already exists")

// Document is a ledger row.
type Document struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	SourceURL  string    `json:"sourceUrl"`
	FileName   string    `json:"fileName,omitempty"`
	MimeType   string    `json:"mimeType,omitempty"`
	FileSize   int64     `json:"fileSize,omitempty"`
	Status     Status    `json:"status"`
	ChunkCount int       `json:"chunkCount"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Update is a status transition written by UpdateStatus.
type Update struct {
	Status Status
	// Chunks is the number of chunks indexed; meaningful for StatusReady.
	Chunks int
	// Error is the failure reason; meaningful for StatusFailed.
	Error string
}

// Store persists documents. Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, doc *Document) (*Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	UpdateStatus(ctx context.Context, id string, u Update) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Document, error)
	Close() error
}

// SQLStore is a Store on database/sql, backed by SQLite or Postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

var _ Store = (*SQLStore)(nil)

// DefaultDBPath returns ~/.asksudo/ledger.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ledger: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".asksudo")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ledger: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ledger.db"), nil
}

// Open opens the ledger at dsn and runs the schema migration. A dsn starting
// with postgres:// or postgresql:// selects Postgres; anything else is a
// SQLite path. Use ":memory:" for an in-memory database in tests.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	s := &SQLStore{now: time.Now}

	var (
		db  *sql.DB
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s.postgres = true
		db, err = sql.Open("postgres", dsn)
	} else {
		db, err = sql.Open("sqlite", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
		if err == nil {
			// One connection: avoids SQLITE_BUSY and keeps ":memory:" a single database.
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    owner_id     TEXT    NOT NULL,
    source_url   TEXT    NOT NULL,
    file_name    TEXT    NOT NULL DEFAULT '',
    mime_type    TEXT    NOT NULL DEFAULT '',
    file_size    BIGINT  NOT NULL DEFAULT 0,
    status       TEXT    NOT NULL CHECK(status IN ('pending','processing','ready','failed')),
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    last_error   TEXT    NOT NULL DEFAULT '',
    created_at   BIGINT  NOT NULL, -- Unix milliseconds
    updated_at   BIGINT  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_owner_created
    ON documents (owner_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $1..$n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Create registers doc at StatusPending. An empty ID is filled with a new
// UUID. The stored row is returned.
func (s *SQLStore) Create(ctx context.Context, doc *Document) (*Document, error) {
	if doc.OwnerID == "" {
		return nil, fmt.Errorf("ledger: create: %w", rag.ErrOwnerRequired)
	}
	if doc.SourceURL == "" {
		return nil, fmt.Errorf("ledger: create: source url must not be empty")
	}

	out := *doc
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	now := s.now()
	out.Status = StatusPending
	out.ChunkCount = 0
	out.LastError = ""
	out.CreatedAt = time.UnixMilli(now.UnixMilli())
	out.UpdatedAt = out.CreatedAt

	const q = `
INSERT INTO documents (id, owner_id, source_url, file_name, mime_type, file_size, status, chunk_count, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
ON CONFLICT (id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.rebind(q),
		out.ID, out.OwnerID, out.SourceURL, out.FileName, out.MimeType, out.FileSize,
		string(out.Status), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", out.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("ledger: create %s: %w", out.ID, ErrDocumentExists)
	}
	return &out, nil
}

const selectColumns = `id, owner_id, source_url, file_name, mime_type, file_size, status, chunk_count, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var status string
	var created, updated int64
	if err := row.Scan(&d.ID, &d.OwnerID, &d.SourceURL, &d.FileName, &d.MimeType, &d.FileSize,
		&status, &d.ChunkCount, &d.LastError, &created, &updated); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.CreatedAt = time.UnixMilli(created)
	d.UpdatedAt = time.UnixMilli(updated)
	return &d, nil
}

// Get returns the document with id, or an error wrapping
// rag.ErrDocumentNotFound.
func (s *SQLStore) Get(ctx context.Context, id string) (*Document, error) {
	q := s.rebind(`SELECT ` + selectColumns + ` FROM documents WHERE id = ?`)
	d, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: get %s: %w", id, rag.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	return d, nil
}

// UpdateStatus writes a status transition. Moving to processing clears the
// previous error and chunk count.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, u Update) error {
	if !u.Status.Valid() {
		return fmt.Errorf("ledger: update %s: invalid status %q", id, u.Status)
	}
	chunks, msg := u.Chunks, u.Error
	if u.Status != StatusReady {
		chunks = 0
	}
	if u.Status != StatusFailed {
		msg = ""
	}

	const q = `UPDATE documents SET status = ?, chunk_count = ?, last_error = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(q), string(u.Status), chunks, msg, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("ledger: update %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger: update %s: %w", id, rag.ErrDocumentNotFound)
	}
	return nil
}

// ListByOwner returns the owner's documents, newest first.
func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string) ([]*Document, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("ledger: list: %w", rag.ErrOwnerRequired)
	}
	q := s.rebind(`SELECT ` + selectColumns + ` FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id DESC`)
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: list scan: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list rows: %w", err)
	}
	return docs, nil
}

// Ping verifies the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ledger: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}
	return nil
}
